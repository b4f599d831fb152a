package queue

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Owner returns the identity allowed to manage solvers and the pause switch.
func (e *Engine) Owner() (common.Address, error) {
	if e == nil || e.state == nil {
		return common.Address{}, errNilState
	}
	return e.state.QueueOwner()
}

func (e *Engine) requireOwner(caller common.Address) error {
	owner, err := e.Owner()
	if err != nil {
		return err
	}
	if owner == (common.Address{}) || caller != owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// ToggleApprovedCallers flips the approval of each identity. Listing an
// identity twice flips it back.
func (e *Engine) ToggleApprovedCallers(caller common.Address, identities []common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	for _, id := range identities {
		approved, err := e.state.QueueSolverApproved(id)
		if err != nil {
			return err
		}
		if err := e.state.QueueSetSolverApproved(id, !approved); err != nil {
			return err
		}
		e.emit(NewSolverToggledEvent(id, !approved))
	}
	return nil
}

// IsApprovedCaller reports whether identity may call Solve.
func (e *Engine) IsApprovedCaller(identity common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.QueueSolverApproved(identity)
}

// SetPaused toggles the queue pause switch. Reads stay available while paused.
func (e *Engine) SetPaused(caller common.Address, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := e.state.SetModulePaused(ModuleName, paused); err != nil {
		return err
	}
	e.emit(NewPausedEvent(caller, paused))
	return nil
}
