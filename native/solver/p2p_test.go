package solver_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"atomicqueue/core/state"
	"atomicqueue/native/ledger"
	"atomicqueue/native/queue"
	"atomicqueue/native/solver"
	"atomicqueue/storage"
	"atomicqueue/storage/trie"
)

var (
	queueAddr  = common.HexToAddress("0xee")
	owner      = common.HexToAddress("0x0f")
	p2pAccount = common.HexToAddress("0x5a")
	initiator  = common.HexToAddress("0x5c")
	alice      = common.HexToAddress("0x01")
	offer      = common.HexToAddress("0xa1")
	want       = common.HexToAddress("0xb2")
	unit       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type harness struct {
	state  *state.Manager
	ledger *ledger.Ledger
	engine *queue.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	mgr := state.NewManager(tr)
	require.NoError(t, mgr.QueueSetOwner(owner))
	require.NoError(t, mgr.QueueSetSolverApproved(initiator, true))

	led := ledger.New(mgr)
	require.NoError(t, led.RegisterAsset(&ledger.Asset{Address: offer, Symbol: "OFR", Decimals: 18}))
	require.NoError(t, led.RegisterAsset(&ledger.Asset{Address: want, Symbol: "WNT", Decimals: 6}))

	registry := solver.NewRegistry()
	registry.Register(p2pAccount, solver.NewP2P(led, queueAddr))

	engine := queue.NewEngine(queueAddr)
	engine.SetState(mgr)
	engine.SetLedger(led)
	engine.SetCallbacks(registry)
	engine.SetPauses(mgr)
	return &harness{state: mgr, ledger: led, engine: engine}
}

func (h *harness) setup(t *testing.T, limit int64) {
	t.Helper()
	require.NoError(t, h.ledger.Mint(offer, alice, unit))
	require.NoError(t, h.ledger.Approve(offer, alice, queueAddr, unit))
	require.NoError(t, h.engine.UpdateRequest(alice, offer, want, &queue.Request{
		Deadline:    ^uint64(0),
		LimitPrice:  big.NewInt(limit),
		OfferAmount: unit,
	}))
	require.NoError(t, h.ledger.Mint(want, initiator, big.NewInt(1_000)))
	require.NoError(t, h.ledger.Approve(want, initiator, p2pAccount, big.NewInt(1_000)))
}

func balance(t *testing.T, l *ledger.Ledger, asset, holder common.Address) string {
	t.Helper()
	bal, err := l.BalanceOf(asset, holder)
	require.NoError(t, err)
	return bal.String()
}

func TestP2PSettlesAgainstInitiator(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 5)
	runData, err := solver.EncodeRunData(solver.RunData{Initiator: initiator, MaxAssets: big.NewInt(10)})
	require.NoError(t, err)

	report, err := h.engine.Solve(context.Background(), initiator, offer, want, []common.Address{alice}, runData, p2pAccount, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, report.Filled, 1)

	require.Equal(t, "7", balance(t, h.ledger, want, alice))
	require.Equal(t, "0", balance(t, h.ledger, offer, alice))
	require.Equal(t, unit.String(), balance(t, h.ledger, offer, initiator))
	require.Equal(t, "993", balance(t, h.ledger, want, initiator))
	require.Equal(t, "0", balance(t, h.ledger, want, p2pAccount))
	require.Equal(t, "0", balance(t, h.ledger, offer, p2pAccount))

	req, err := h.engine.GetRequest(alice, offer, want)
	require.NoError(t, err)
	require.True(t, req.Empty())
}

func TestP2PRejectsSlippage(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 5)
	runData, err := solver.EncodeRunData(solver.RunData{Initiator: initiator, MaxAssets: big.NewInt(4)})
	require.NoError(t, err)
	root := h.state.Root()

	_, err = h.engine.Solve(context.Background(), initiator, offer, want, []common.Address{alice}, runData, p2pAccount, big.NewInt(5))
	require.ErrorIs(t, err, queue.ErrCallbackFailed)
	require.ErrorIs(t, err, solver.ErrSlippage)
	require.Equal(t, root, h.state.Root())
	require.Equal(t, unit.String(), balance(t, h.ledger, offer, alice))
}

func TestP2PRejectsGarbageRunData(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 5)
	_, err := h.engine.Solve(context.Background(), initiator, offer, want, []common.Address{alice}, []byte{0x01, 0x02}, p2pAccount, big.NewInt(5))
	require.ErrorIs(t, err, solver.ErrInvalidRunData)
}

func TestRunDataRoundTrip(t *testing.T) {
	raw, err := solver.EncodeRunData(solver.RunData{Initiator: initiator})
	require.NoError(t, err)
	decoded, err := solver.DecodeRunData(raw)
	require.NoError(t, err)
	require.Equal(t, initiator, decoded.Initiator)
	require.Equal(t, int64(0), decoded.MaxAssets.Int64())

	_, err = solver.EncodeRunData(solver.RunData{Initiator: initiator, MaxAssets: big.NewInt(-1)})
	require.ErrorIs(t, err, solver.ErrInvalidRunData)
}

func TestRegistry(t *testing.T) {
	r := solver.NewRegistry()
	_, ok := r.Callback(p2pAccount)
	require.False(t, ok)
	r.Register(p2pAccount, queue.CallbackFunc(func(context.Context, queue.Settlement) error { return nil }))
	_, ok = r.Callback(p2pAccount)
	require.True(t, ok)
	require.Len(t, r.Solvers(), 1)
	r.Register(p2pAccount, nil)
	require.Empty(t, r.Solvers())
}
