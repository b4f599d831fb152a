package queue

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// UpdateRequest creates or replaces the caller's request for the pair; a zero
// offer amount removes it. No
// deadline, price or balance checks happen here; those are evaluated when a
// solve reaches the request. A request locked by an in-flight solve cannot be
// replaced.
func (e *Engine) UpdateRequest(caller, offer, want common.Address, req *Request) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard(); err != nil {
		return err
	}
	current, err := e.loadRequest(caller, offer, want)
	if err != nil {
		return err
	}
	if current.InSettlement {
		return fmt.Errorf("%w: %s", ErrRequestLocked, caller.Hex())
	}
	stored := req.Clone()
	stored.InSettlement = false
	if stored.Empty() {
		// A zero offer withdraws the request.
		if err := e.state.QueueRequestDelete(caller, offer, want); err != nil {
			return fmt.Errorf("queue: delete request %s: %w", caller.Hex(), err)
		}
	} else if err := e.state.QueueRequestPut(caller, offer, want, stored); err != nil {
		return fmt.Errorf("queue: store request %s: %w", caller.Hex(), err)
	}
	e.emit(NewRequestUpdatedEvent(caller, offer, want, stored))
	return nil
}

// GetRequest returns the stored request, or the zero request when none exists.
func (e *Engine) GetRequest(owner, offer, want common.Address) (*Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadRequest(owner, offer, want)
}

// ListRequests returns the owners holding a request for the pair in
// ascending address order.
func (e *Engine) ListRequests(offer, want common.Address) ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.QueueRequestOwners(offer, want)
}

// IsRequestValid reports whether req, owned by owner and offering offer,
// could be settled right now.
func (e *Engine) IsRequestValid(offer, owner common.Address, req *Request) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if req == nil || req.InSettlement || req.Empty() || req.Expired(e.now()) {
		return false, nil
	}
	balance, err := e.ledger.BalanceOf(offer, owner)
	if err != nil {
		return false, err
	}
	if balance.Cmp(req.OfferAmount) < 0 {
		return false, nil
	}
	allowance, err := e.ledger.Allowance(offer, owner, e.address)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(req.OfferAmount) >= 0, nil
}
