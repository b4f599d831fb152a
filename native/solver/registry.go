package solver

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/native/queue"
)

// Registry maps solver identities to their callbacks.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[common.Address]queue.Callback
}

func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[common.Address]queue.Callback)}
}

// Register installs cb for solver, replacing any earlier registration. A nil
// callback removes the solver.
func (r *Registry) Register(solver common.Address, cb queue.Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb == nil {
		delete(r.callbacks, solver)
		return
	}
	r.callbacks[solver] = cb
}

// Callback implements queue.CallbackResolver.
func (r *Registry) Callback(solver common.Address) (queue.Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[solver]
	return cb, ok
}

// Solvers returns the registered solver identities.
func (r *Registry) Solvers() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.callbacks))
	for addr := range r.callbacks {
		out = append(out, addr)
	}
	return out
}
