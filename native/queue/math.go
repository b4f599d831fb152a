package queue

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// maxDecimals keeps 10^decimals inside 256 bits.
const maxDecimals = 77

// WantForOffer converts an offer amount into want-asset units at price:
//
//	want = offerAmount * price / 10^decimals
//
// rounding down. decimals is the offer asset's precision.
func WantForOffer(offerAmount, price *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > maxDecimals {
		return nil, fmt.Errorf("%w: %d decimals", ErrAmountOverflow, decimals)
	}
	amount, err := toUint256(offerAmount)
	if err != nil {
		return nil, err
	}
	rate, err := toUint256(price)
	if err != nil {
		return nil, err
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	out, overflow := new(uint256.Int).MulDivOverflow(amount, rate, scale)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / 10^%d", ErrAmountOverflow, offerAmount, price, decimals)
	}
	return out.ToBig(), nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrAmountOverflow, v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, v)
	}
	return out, nil
}
