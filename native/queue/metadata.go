package queue

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ViewSolveMetadata projects each user's request at price without mutating
// anything. Totals include every user whatever their flags, so a solver can
// see the full size of the book before filtering.
func (e *Engine) ViewSolveMetadata(offer, want common.Address, users []common.Address, price *big.Int) ([]SolveMetadata, *big.Int, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, nil, err
	}
	if price == nil {
		price = zero()
	}
	decimals, err := e.decimals(offer)
	if err != nil {
		return nil, nil, nil, err
	}
	now := e.now()
	totalWant, totalOffer := zero(), zero()
	out := make([]SolveMetadata, 0, len(users))
	for _, user := range users {
		req, err := e.loadRequest(user, offer, want)
		if err != nil {
			return nil, nil, nil, err
		}
		flags, err := e.flagsFor(offer, user, req, now)
		if err != nil {
			return nil, nil, nil, err
		}
		forWant, err := WantForOffer(req.OfferAmount, price, decimals)
		if err != nil {
			return nil, nil, nil, err
		}
		out = append(out, SolveMetadata{
			User:          user,
			Flags:         flags,
			AssetsToOffer: new(big.Int).Set(req.OfferAmount),
			AssetsForWant: forWant,
		})
		totalOffer.Add(totalOffer, req.OfferAmount)
		totalWant.Add(totalWant, forWant)
	}
	return out, totalWant, totalOffer, nil
}

func (e *Engine) flagsFor(offer, user common.Address, req *Request, now int64) (Flags, error) {
	var flags Flags
	if req.Expired(now) {
		flags |= FlagDeadlineExceeded
	}
	if req.LimitPrice.Sign() == 0 {
		flags |= FlagZeroPrice
	}
	if req.OfferAmount.Sign() == 0 {
		flags |= FlagZeroOfferAmount
	}
	balance, err := e.ledger.BalanceOf(offer, user)
	if err != nil {
		return 0, err
	}
	if balance.Cmp(req.OfferAmount) < 0 {
		flags |= FlagInsufficientBalance
	}
	allowance, err := e.ledger.Allowance(offer, user, e.address)
	if err != nil {
		return 0, err
	}
	if allowance.Cmp(req.OfferAmount) < 0 {
		flags |= FlagInsufficientAllowance
	}
	return flags, nil
}
