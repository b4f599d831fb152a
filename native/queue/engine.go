package queue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"atomicqueue/core/events"
	"atomicqueue/core/types"
	nativecommon "atomicqueue/native/common"
)

type engineState interface {
	QueueRequestGet(owner, offer, want common.Address) (*Request, bool, error)
	QueueRequestPut(owner, offer, want common.Address, req *Request) error
	QueueRequestDelete(owner, offer, want common.Address) error
	QueueRequestOwners(offer, want common.Address) ([]common.Address, error)
	QueueSolverApproved(identity common.Address) (bool, error)
	QueueSetSolverApproved(identity common.Address, approved bool) error
	QueueOwner() (common.Address, error)
	SetModulePaused(module string, paused bool) error
	Snapshot() int
	RevertToSnapshot(id int) error
}

// Engine holds the request store, the solver gateway and the settlement
// algorithm. It is not safe for concurrent use; the node serialises calls.
type Engine struct {
	state   engineState
	ledger  Ledger
	solvers CallbackResolver
	pauses  nativecommon.PauseView
	emitter events.Emitter
	// pending collects events while a solve is in flight.
	pending *events.Buffer
	address common.Address
	nowFn   func() int64
}

// NewEngine creates a queue engine acting as spender address on the ledger.
func NewEngine(address common.Address) *Engine {
	return &Engine{
		address: address,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Address returns the identity the queue uses as ledger spender.
func (e *Engine) Address() common.Address { return e.address }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the asset ledger settlements move funds through.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetCallbacks configures where solver callbacks are looked up.
func (e *Engine) SetCallbacks(resolver CallbackResolver) { e.solvers = resolver }

// SetPauses wires the pause view consulted before mutating calls.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || event == nil {
		return
	}
	wrapped := queueEvent{evt: event}
	if e.pending != nil {
		e.pending.Emit(wrapped)
		return
	}
	if e.emitter != nil {
		e.emitter.Emit(wrapped)
	}
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) guard() error {
	return nativecommon.Guard(e.pauses, ModuleName)
}

func (e *Engine) decimals(asset common.Address) (uint8, error) {
	decimals, err := e.ledger.Decimals(asset)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrUnknownAsset, asset.Hex(), err)
	}
	return decimals, nil
}

func (e *Engine) loadRequest(owner, offer, want common.Address) (*Request, error) {
	req, ok, err := e.state.QueueRequestGet(owner, offer, want)
	if err != nil {
		return nil, fmt.Errorf("queue: load request %s: %w", owner.Hex(), err)
	}
	if !ok || req == nil {
		return (*Request)(nil).Clone(), nil
	}
	return req.Clone(), nil
}

func zero() *big.Int { return big.NewInt(0) }

var tracer = otel.Tracer("atomicqueue/native/queue")

// Solve settles users' requests for the pair at one clearing price. Users
// are processed in input order. Missing, locked, expired and underfunded
// requests are skipped; every other failure aborts the call and leaves no
// trace in state or on the event stream.
func (e *Engine) Solve(ctx context.Context, caller, offer, want common.Address, users []common.Address, runData []byte, solver common.Address, clearingPrice *big.Int) (report *SolveReport, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "queue.solve", trace.WithAttributes(
		attribute.String("queue.offer", offer.Hex()),
		attribute.String("queue.want", want.Hex()),
		attribute.String("queue.solver", solver.Hex()),
		attribute.Int("queue.users", len(users)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	approved, err := e.state.QueueSolverApproved(caller)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedSolver, caller.Hex())
	}
	if len(users) == 0 {
		return nil, ErrEmptyBatch
	}
	if clearingPrice == nil || clearingPrice.Sign() <= 0 {
		return nil, ErrZeroClearingPrice
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	var callback Callback
	if e.solvers != nil {
		callback, _ = e.solvers.Callback(solver)
	}
	if callback == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSolver, solver.Hex())
	}
	decimals, err := e.decimals(offer)
	if err != nil {
		return nil, err
	}

	parent := e.pending
	buffer := &events.Buffer{}
	e.pending = buffer
	defer func() { e.pending = parent }()

	snapshot := e.state.Snapshot()
	report, err = e.settle(ctx, caller, offer, want, users, runData, solver, clearingPrice, decimals, callback)
	if err != nil {
		if revertErr := e.state.RevertToSnapshot(snapshot); revertErr != nil {
			err = errors.Join(err, fmt.Errorf("queue: revert solve: %w", revertErr))
		}
		return nil, err
	}
	e.emit(NewBatchSolvedEvent(report))
	span.SetAttributes(
		attribute.Int("queue.filled", len(report.Filled)),
		attribute.Int("queue.skipped", len(report.Skipped)),
	)
	e.pending = parent
	if parent != nil {
		buffer.Flush(parent)
	} else {
		buffer.Flush(e.emitter)
	}
	return report, nil
}

func (e *Engine) settle(ctx context.Context, caller, offer, want common.Address, users []common.Address, runData []byte, solver common.Address, price *big.Int, decimals uint8, callback Callback) (*SolveReport, error) {
	report := &SolveReport{
		Caller:        caller,
		Solver:        solver,
		Offer:         offer,
		Want:          want,
		ClearingPrice: new(big.Int).Set(price),
		TotalOffer:    zero(),
		TotalWant:     zero(),
	}
	now := e.now()
	skip := func(user common.Address, reason SkipReason) {
		report.Skipped = append(report.Skipped, Skip{User: user, Reason: reason})
		e.emit(NewRequestSkippedEvent(user, offer, want, reason))
	}
	for _, user := range users {
		req, err := e.loadRequest(user, offer, want)
		if err != nil {
			return nil, err
		}
		if req.Empty() {
			skip(user, SkipMissing)
			continue
		}
		if req.InSettlement {
			skip(user, SkipLocked)
			continue
		}
		if req.Expired(now) {
			skip(user, SkipExpired)
			continue
		}
		balance, err := e.ledger.BalanceOf(offer, user)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(req.OfferAmount) < 0 {
			skip(user, SkipInsufficientBalance)
			continue
		}
		if price.Cmp(req.LimitPrice) < 0 {
			return nil, fmt.Errorf("%w: %s limit %s, clearing %s", ErrClearingPriceTooLow, user.Hex(), req.LimitPrice, price)
		}
		forWant, err := WantForOffer(req.OfferAmount, price, decimals)
		if err != nil {
			return nil, fmt.Errorf("queue: amounts for %s: %w", user.Hex(), err)
		}
		req.InSettlement = true
		if err := e.state.QueueRequestPut(user, offer, want, req); err != nil {
			return nil, fmt.Errorf("queue: lock request %s: %w", user.Hex(), err)
		}
		if err := e.ledger.TransferFrom(offer, e.address, user, solver, req.OfferAmount); err != nil {
			return nil, fmt.Errorf("%w: offer leg %s: %w", ErrSettlementTransferFailed, user.Hex(), err)
		}
		report.Filled = append(report.Filled, Fill{
			User:          user,
			AssetsToOffer: new(big.Int).Set(req.OfferAmount),
			AssetsForWant: forWant,
		})
		report.TotalOffer.Add(report.TotalOffer, req.OfferAmount)
		report.TotalWant.Add(report.TotalWant, forWant)
	}

	settlement := Settlement{
		RunData:    append([]byte(nil), runData...),
		Initiator:  caller,
		Solver:     solver,
		Offer:      offer,
		Want:       want,
		TotalOffer: new(big.Int).Set(report.TotalOffer),
		TotalWant:  new(big.Int).Set(report.TotalWant),
	}
	if err := invokeCallback(ctx, callback, settlement); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCallbackFailed, err)
	}

	for _, fill := range report.Filled {
		if err := e.state.QueueRequestDelete(fill.User, offer, want); err != nil {
			return nil, fmt.Errorf("queue: clear request %s: %w", fill.User.Hex(), err)
		}
		if fill.AssetsForWant.Sign() > 0 {
			if err := e.ledger.TransferFrom(want, e.address, solver, fill.User, fill.AssetsForWant); err != nil {
				return nil, fmt.Errorf("%w: want leg %s: %w", ErrSettlementTransferFailed, fill.User.Hex(), err)
			}
		}
		e.emit(NewRequestFulfilledEvent(fill.User, offer, want, solver, fill.AssetsToOffer, fill.AssetsForWant))
	}
	return report, nil
}

func invokeCallback(ctx context.Context, callback Callback, s Settlement) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return callback.OnSettle(ctx, s)
}
