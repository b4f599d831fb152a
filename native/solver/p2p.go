// Package solver holds the solver callbacks the queue can call mid-solve and
// the registry the node resolves them from.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"atomicqueue/native/queue"
)

var (
	// ErrInvalidRunData indicates run data that does not decode as P2P run data.
	ErrInvalidRunData = errors.New("solver: invalid run data")
	// ErrSlippage indicates the batch asks the initiator for more want asset
	// than it agreed to provide.
	ErrSlippage = errors.New("solver: want amount exceeds initiator maximum")
)

// RunData is the payload a P2P solve carries through the queue.
type RunData struct {
	Initiator common.Address
	MaxAssets *big.Int
}

// EncodeRunData serialises run data for the Solve call.
func EncodeRunData(data RunData) ([]byte, error) {
	if data.MaxAssets == nil {
		data.MaxAssets = big.NewInt(0)
	}
	if data.MaxAssets.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative max assets", ErrInvalidRunData)
	}
	return rlp.EncodeToBytes(&data)
}

// DecodeRunData parses run data produced by EncodeRunData.
func DecodeRunData(raw []byte) (RunData, error) {
	var data RunData
	if err := rlp.DecodeBytes(raw, &data); err != nil {
		return RunData{}, fmt.Errorf("%w: %w", ErrInvalidRunData, err)
	}
	if data.MaxAssets == nil {
		data.MaxAssets = big.NewInt(0)
	}
	return data, nil
}

// Ledger is what a P2P solver needs from the asset ledger.
type Ledger interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error
	Approve(asset, owner, spender common.Address, amount *big.Int) error
}

// P2P settles a batch directly against one counterparty, the initiator
// named in the run data. The solver account passes the collected offer asset
// on to the initiator and pulls the owed want asset from it, so the initiator
// must have allowed the solver account to spend at least MaxAssets.
type P2P struct {
	ledger Ledger
	queue  common.Address
}

// NewP2P returns a P2P callback settling through ledger for the queue at
// queueAddr.
func NewP2P(ledger Ledger, queueAddr common.Address) *P2P {
	return &P2P{ledger: ledger, queue: queueAddr}
}

// OnSettle implements queue.Callback.
func (p *P2P) OnSettle(_ context.Context, s queue.Settlement) error {
	if p == nil || p.ledger == nil {
		return fmt.Errorf("solver: p2p ledger not configured")
	}
	data, err := DecodeRunData(s.RunData)
	if err != nil {
		return err
	}
	if data.Initiator == (common.Address{}) {
		return fmt.Errorf("%w: initiator required", ErrInvalidRunData)
	}
	if s.TotalWant.Cmp(data.MaxAssets) > 0 {
		return fmt.Errorf("%w: need %s, max %s", ErrSlippage, s.TotalWant, data.MaxAssets)
	}
	if s.TotalOffer.Sign() > 0 {
		if err := p.ledger.Transfer(s.Offer, s.Solver, data.Initiator, s.TotalOffer); err != nil {
			return fmt.Errorf("solver: forward offer asset: %w", err)
		}
	}
	if s.TotalWant.Sign() > 0 {
		if err := p.ledger.TransferFrom(s.Want, s.Solver, data.Initiator, s.Solver, s.TotalWant); err != nil {
			return fmt.Errorf("solver: pull want asset: %w", err)
		}
	}
	return p.ledger.Approve(s.Want, s.Solver, p.queue, s.TotalWant)
}
