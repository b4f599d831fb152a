package state

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/native/queue"
)

const (
	queueRequestPrefix = "queue/request/"
	queueOwnersPrefix  = "queue/owners/"
	queueSolverPrefix  = "queue/solver/"
	pausePrefix        = "pause/"
)

var queueOwnerKey = []byte("queue/owner")

func queueRequestKey(owner, offer, want common.Address) []byte {
	return compositeKey(queueRequestPrefix, offer.Bytes(), want.Bytes(), owner.Bytes())
}

func queueOwnersKey(offer, want common.Address) []byte {
	return compositeKey(queueOwnersPrefix, offer.Bytes(), want.Bytes())
}

func queueSolverKey(identity common.Address) []byte {
	return compositeKey(queueSolverPrefix, identity.Bytes())
}

func pauseKey(module string) []byte {
	return compositeKey(pausePrefix, []byte(strings.ToLower(strings.TrimSpace(module))))
}

// QueueRequestGet loads the request stored for the triple.
func (m *Manager) QueueRequestGet(owner, offer, want common.Address) (*queue.Request, bool, error) {
	req := new(queue.Request)
	ok, err := m.KVGet(queueRequestKey(owner, offer, want), req)
	if err != nil || !ok {
		return nil, false, err
	}
	return req.Clone(), true, nil
}

// QueueRequestPut stores the request and indexes the owner under the pair.
// An empty request is deleted instead.
func (m *Manager) QueueRequestPut(owner, offer, want common.Address, req *queue.Request) error {
	if req == nil {
		return fmt.Errorf("state: nil request")
	}
	if req.Empty() {
		return m.QueueRequestDelete(owner, offer, want)
	}
	if err := m.KVPut(queueRequestKey(owner, offer, want), req.Clone()); err != nil {
		return err
	}
	owners, err := m.QueueRequestOwners(offer, want)
	if err != nil {
		return err
	}
	idx, found := searchAddress(owners, owner)
	if found {
		return nil
	}
	owners = append(owners, common.Address{})
	copy(owners[idx+1:], owners[idx:])
	owners[idx] = owner
	return m.KVPut(queueOwnersKey(offer, want), owners)
}

// QueueRequestDelete removes the request and its index entry.
func (m *Manager) QueueRequestDelete(owner, offer, want common.Address) error {
	if err := m.KVDelete(queueRequestKey(owner, offer, want)); err != nil {
		return err
	}
	owners, err := m.QueueRequestOwners(offer, want)
	if err != nil {
		return err
	}
	idx, found := searchAddress(owners, owner)
	if !found {
		return nil
	}
	owners = append(owners[:idx], owners[idx+1:]...)
	if len(owners) == 0 {
		return m.KVDelete(queueOwnersKey(offer, want))
	}
	return m.KVPut(queueOwnersKey(offer, want), owners)
}

// QueueRequestOwners lists owners with a stored request for the pair in
// ascending order.
func (m *Manager) QueueRequestOwners(offer, want common.Address) ([]common.Address, error) {
	var owners []common.Address
	if err := m.KVGetList(queueOwnersKey(offer, want), &owners); err != nil {
		return nil, err
	}
	return owners, nil
}

// QueueSolverApproved reports whether identity is in the approved-solver set.
func (m *Manager) QueueSolverApproved(identity common.Address) (bool, error) {
	var approved bool
	if _, err := m.KVGet(queueSolverKey(identity), &approved); err != nil {
		return false, err
	}
	return approved, nil
}

// QueueSetSolverApproved adds or removes identity from the approved-solver set.
func (m *Manager) QueueSetSolverApproved(identity common.Address, approved bool) error {
	if !approved {
		return m.KVDelete(queueSolverKey(identity))
	}
	return m.KVPut(queueSolverKey(identity), true)
}

// QueueOwner returns the queue owner, the zero address when unset.
func (m *Manager) QueueOwner() (common.Address, error) {
	var owner common.Address
	if _, err := m.KVGet(queueOwnerKey, &owner); err != nil {
		return common.Address{}, err
	}
	return owner, nil
}

// QueueSetOwner records the queue owner.
func (m *Manager) QueueSetOwner(owner common.Address) error {
	return m.KVPut(queueOwnerKey, owner)
}

// SetModulePaused stores the pause switch for module.
func (m *Manager) SetModulePaused(module string, paused bool) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("state: module required")
	}
	if !paused {
		return m.KVDelete(pauseKey(module))
	}
	return m.KVPut(pauseKey(module), true)
}

// ModulePaused reports the stored pause switch for module.
func (m *Manager) ModulePaused(module string) (bool, error) {
	var paused bool
	if _, err := m.KVGet(pauseKey(module), &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// IsPaused implements the pause view. Unreadable state counts as paused.
func (m *Manager) IsPaused(module string) bool {
	paused, err := m.ModulePaused(module)
	if err != nil {
		return true
	}
	return paused
}

func searchAddress(list []common.Address, addr common.Address) (int, bool) {
	idx := sort.Search(len(list), func(i int) bool {
		return bytes.Compare(list[i].Bytes(), addr.Bytes()) >= 0
	})
	return idx, idx < len(list) && list[idx] == addr
}
