package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/core/events"
	"atomicqueue/core/genesis"
	corestate "atomicqueue/core/state"
	coretypes "atomicqueue/core/types"
	"atomicqueue/native/ledger"
	"atomicqueue/native/queue"
	"atomicqueue/native/solver"
	"atomicqueue/observability"
	"atomicqueue/storage"
)

// Node is the central controller, wiring the state trie, the ledger, the
// queue engine and the solver registry together. Every call holds stateMu;
// mutating calls commit the trie on success and roll it back on failure.
type Node struct {
	stateMu sync.Mutex
	db      storage.Database
	state   *corestate.Manager
	ledger  *ledger.Ledger
	queue   *queue.Engine
	solvers *solver.Registry

	// pending holds events until the call that produced them commits.
	pending     *events.Buffer
	broadcaster *events.Broadcaster
	emitter     events.Emitter
	extra       []events.Emitter

	logger  *slog.Logger
	metrics *observability.QueueMetrics
	nowFn   func() int64
	height  uint64
}

// Option customises a Node.
type Option func(*Node)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithNowFunc overrides the clock used for request deadlines.
func WithNowFunc(now func() int64) Option {
	return func(n *Node) { n.nowFn = now }
}

// WithEmitter adds a downstream receiver of committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(n *Node) {
		if emitter != nil {
			n.extra = append(n.extra, emitter)
		}
	}
}

// NewNode opens the committed state in db and wires a queue acting as
// queueAddr on the ledger.
func NewNode(db storage.Database, queueAddr common.Address, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if queueAddr == (common.Address{}) {
		return nil, fmt.Errorf("node: queue address required")
	}
	manager, err := corestate.Open(db)
	if err != nil {
		return nil, err
	}
	n := &Node{
		db:          db,
		state:       manager,
		solvers:     solver.NewRegistry(),
		pending:     &events.Buffer{},
		broadcaster: events.NewBroadcaster(),
		logger:      slog.Default(),
		metrics:     observability.Queue(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}

	n.ledger = ledger.New(manager)
	n.ledger.SetEmitter(n.pending)

	n.queue = queue.NewEngine(queueAddr)
	n.queue.SetState(manager)
	n.queue.SetLedger(n.ledger)
	n.queue.SetCallbacks(n.solvers)
	n.queue.SetPauses(manager)
	n.queue.SetEmitter(n.pending)
	n.queue.SetNowFunc(n.nowFn)

	downstream := events.Fanout{n.broadcaster, observability.Events(), logEmitter{logger: n.logger}}
	n.emitter = append(downstream, n.extra...)

	n.metrics.SetPaused(manager.IsPaused(queue.ModuleName))
	n.logger.Info("node ready",
		"queue", queueAddr.Hex(),
		"root", manager.Root().Hex(),
	)
	return n, nil
}

type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if l.logger == nil {
		return
	}
	l.logger.Debug("event committed", events.Flatten(evt).LogArgs()...)
}

// execute runs fn against a snapshot of state. If fn or the commit fails the
// snapshot is restored and buffered events are dropped; on success the events
// are released downstream.
func (n *Node) execute(op string, fn func() error) error {
	snapshot := n.state.Snapshot()
	if err := fn(); err != nil {
		n.pending.Reset()
		if revertErr := n.state.RevertToSnapshot(snapshot); revertErr != nil {
			return errors.Join(err, fmt.Errorf("node: revert %s: %w", op, revertErr))
		}
		return err
	}
	root, err := n.state.Commit(n.height + 1)
	if err != nil {
		n.pending.Reset()
		err = fmt.Errorf("node: commit %s: %w", op, err)
		if revertErr := n.state.RevertToSnapshot(snapshot); revertErr != nil {
			return errors.Join(err, fmt.Errorf("node: revert %s: %w", op, revertErr))
		}
		return err
	}
	n.height++
	n.pending.Flush(n.emitter)
	n.logger.Debug("state committed", "op", op, "height", n.height, "root", root.Hex())
	return nil
}

// ApplyGenesis seeds state from spec when no owner has been recorded yet. It
// reports whether the spec was applied.
func (n *Node) ApplyGenesis(spec *genesis.Spec) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	owner, err := n.state.QueueOwner()
	if err != nil {
		return false, err
	}
	if owner != (common.Address{}) {
		n.logger.Info("genesis skipped; state already initialised", "owner", owner.Hex())
		return false, nil
	}
	if err := n.execute("genesis", func() error {
		return genesis.Apply(spec, n.state, n.ledger)
	}); err != nil {
		return false, fmt.Errorf("node: apply genesis: %w", err)
	}
	n.metrics.SetPaused(spec.Paused)
	n.logger.Info("genesis applied",
		"owner", spec.OwnerAddress().Hex(),
		"assets", len(spec.Assets),
		"root", n.state.Root().Hex(),
	)
	return true, nil
}

// RegisterSolver installs the settlement callback for a solver identity. A
// nil callback removes it. Callbacks run while the node lock is held and must
// not call back into the Node.
func (n *Node) RegisterSolver(identity common.Address, cb queue.Callback) {
	n.solvers.Register(identity, cb)
	n.logger.Info("solver callback registered", "solver", identity.Hex(), "removed", cb == nil)
}

// RegisterP2PSolver installs the peer-to-peer settlement callback for the
// solver account.
func (n *Node) RegisterP2PSolver(account common.Address) {
	n.RegisterSolver(account, solver.NewP2P(n.ledger, n.queue.Address()))
}

// Solvers lists identities with a registered callback.
func (n *Node) Solvers() []common.Address {
	return n.solvers.Solvers()
}

// UpdateRequest creates or replaces caller's request for the pair.
func (n *Node) UpdateRequest(caller, offer, want common.Address, req *queue.Request) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	err := n.execute("update_request", func() error {
		return n.queue.UpdateRequest(caller, offer, want, req)
	})
	n.metrics.RecordUpdate(err)
	if err != nil {
		n.logger.Warn("request update rejected", "caller", caller.Hex(), "offer", offer.Hex(), "want", want.Hex(), "error", err)
		return err
	}
	n.logger.Info("request updated", "caller", caller.Hex(), "offer", offer.Hex(), "want", want.Hex())
	return nil
}

// Solve settles users at clearingPrice. See queue.Engine.Solve.
func (n *Node) Solve(ctx context.Context, caller, offer, want common.Address, users []common.Address, runData []byte, solverAddr common.Address, clearingPrice *big.Int) (*queue.SolveReport, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := time.Now()
	var report *queue.SolveReport
	err := n.execute("solve", func() error {
		var err error
		report, err = n.queue.Solve(ctx, caller, offer, want, users, runData, solverAddr, clearingPrice)
		return err
	})
	elapsed := time.Since(start)
	if err != nil {
		n.metrics.RecordSolve(elapsed, err, 0, nil, offer.Hex(), want.Hex(), nil, nil)
		n.logger.Warn("solve failed",
			"caller", caller.Hex(),
			"solver", solverAddr.Hex(),
			"users", len(users),
			"error", err,
		)
		return nil, err
	}
	reasons := make([]string, 0, len(report.Skipped))
	for _, skip := range report.Skipped {
		reasons = append(reasons, string(skip.Reason))
	}
	n.metrics.RecordSolve(elapsed, nil, len(report.Filled), reasons, offer.Hex(), want.Hex(), report.TotalOffer, report.TotalWant)
	n.logger.Info("solve settled",
		"caller", caller.Hex(),
		"solver", solverAddr.Hex(),
		"filled", len(report.Filled),
		"skipped", len(report.Skipped),
		"total_offer", report.TotalOffer.String(),
		"total_want", report.TotalWant.String(),
		"duration", elapsed,
	)
	return report, nil
}

// ToggleApprovedCallers flips the approval of each identity. Owner only.
func (n *Node) ToggleApprovedCallers(caller common.Address, identities []common.Address) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.execute("toggle_solvers", func() error {
		return n.queue.ToggleApprovedCallers(caller, identities)
	}); err != nil {
		return err
	}
	n.logger.Info("solver approvals toggled", "caller", caller.Hex(), "count", len(identities))
	return nil
}

// SetPaused switches the queue pause flag. Owner only.
func (n *Node) SetPaused(caller common.Address, paused bool) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.execute("set_paused", func() error {
		return n.queue.SetPaused(caller, paused)
	}); err != nil {
		return err
	}
	n.metrics.SetPaused(paused)
	n.logger.Info("queue pause switched", "caller", caller.Hex(), "paused", paused)
	return nil
}

// Approve sets spender's allowance over owner's asset balance.
func (n *Node) Approve(owner, asset, spender common.Address, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.execute("approve", func() error {
		return n.ledger.Approve(asset, owner, spender, amount)
	})
}

// GetRequest returns owner's request for the pair; absent requests are zero.
func (n *Node) GetRequest(owner, offer, want common.Address) (*queue.Request, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.queue.GetRequest(owner, offer, want)
}

// ListRequests returns the owners holding a request for the pair.
func (n *Node) ListRequests(offer, want common.Address) ([]common.Address, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.queue.ListRequests(offer, want)
}

// IsRequestValid reports whether req could be settled for owner right now.
func (n *Node) IsRequestValid(offer, owner common.Address, req *queue.Request) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.queue.IsRequestValid(offer, owner, req)
}

// ViewSolveMetadata projects users' requests at price.
func (n *Node) ViewSolveMetadata(offer, want common.Address, users []common.Address, price *big.Int) ([]queue.SolveMetadata, *big.Int, *big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.queue.ViewSolveMetadata(offer, want, users, price)
}

// IsApprovedCaller reports whether identity may call Solve.
func (n *Node) IsApprovedCaller(identity common.Address) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.queue.IsApprovedCaller(identity)
}

// Owner returns the queue owner.
func (n *Node) Owner() (common.Address, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.queue.Owner()
}

// Paused reports the queue pause flag.
func (n *Node) Paused() (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.ModulePaused(queue.ModuleName)
}

// Balance returns holder's balance of asset.
func (n *Node) Balance(asset, holder common.Address) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.BalanceOf(asset, holder)
}

// Allowance returns how much of owner's asset spender may move.
func (n *Node) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.Allowance(asset, owner, spender)
}

// Assets lists registered assets.
func (n *Node) Assets() ([]*ledger.Asset, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.Assets()
}

// QueueAddress returns the queue's ledger identity.
func (n *Node) QueueAddress() common.Address { return n.queue.Address() }

// Root returns the current state root.
func (n *Node) Root() common.Hash {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Root()
}

// Height returns the number of commits since the node opened.
func (n *Node) Height() uint64 {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.height
}

// Subscribe streams committed events. Call cancel to unsubscribe.
func (n *Node) Subscribe(capacity int) (<-chan *coretypes.Event, func()) {
	return n.broadcaster.Subscribe(capacity)
}

// Close releases the database.
func (n *Node) Close() {
	n.db.Close()
}
