package core

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"atomicqueue/core/genesis"
	coretypes "atomicqueue/core/types"
	"atomicqueue/native/ledger"
	"atomicqueue/native/queue"
	"atomicqueue/native/solver"
	"atomicqueue/storage"
)

const nodeTestNow = int64(1_700_000_000)

var (
	nodeQueue     = common.BytesToAddress(bytes.Repeat([]byte{0xee}, 20))
	nodeOwner     = common.BytesToAddress(bytes.Repeat([]byte{0x0f}, 20))
	nodeInitiator = common.BytesToAddress(bytes.Repeat([]byte{0x5c}, 20))
	nodeP2P       = common.BytesToAddress(bytes.Repeat([]byte{0x5a}, 20))
	nodeAlice     = common.BytesToAddress(bytes.Repeat([]byte{0x01}, 20))
	nodeOffer     = common.BytesToAddress(bytes.Repeat([]byte{0xa1}, 20))
	nodeWant      = common.BytesToAddress(bytes.Repeat([]byte{0xb2}, 20))
	oneToken      = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func nodeGenesis(t *testing.T) *genesis.Spec {
	t.Helper()
	spec := &genesis.Spec{
		Owner: nodeOwner.Hex(),
		Assets: []genesis.AssetSpec{
			{Address: nodeOffer.Hex(), Symbol: "OFR", Decimals: 18},
			{Address: nodeWant.Hex(), Symbol: "WNT", Decimals: 6},
		},
		Balances: []genesis.BalanceSpec{
			{Asset: nodeOffer.Hex(), Holder: nodeAlice.Hex(), Amount: oneToken.String()},
			{Asset: nodeWant.Hex(), Holder: nodeInitiator.Hex(), Amount: "1000"},
		},
		Allowances: []genesis.AllowanceSpec{
			{Asset: nodeOffer.Hex(), Owner: nodeAlice.Hex(), Spender: nodeQueue.Hex(), Amount: oneToken.String()},
			{Asset: nodeWant.Hex(), Owner: nodeInitiator.Hex(), Spender: nodeP2P.Hex(), Amount: "1000"},
		},
		Solvers: []string{nodeInitiator.Hex()},
	}
	require.NoError(t, spec.Validate())
	return spec
}

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	node, err := NewNode(db, nodeQueue, WithNowFunc(func() int64 { return nodeTestNow }))
	require.NoError(t, err)
	node.RegisterP2PSolver(nodeP2P)
	return node
}

func drain(ch <-chan *coretypes.Event) []string {
	var out []string
	for {
		select {
		case evt := <-ch:
			out = append(out, evt.Type)
		default:
			return out
		}
	}
}

func submitAliceRequest(t *testing.T, node *Node, limit int64) {
	t.Helper()
	require.NoError(t, node.UpdateRequest(nodeAlice, nodeOffer, nodeWant, &queue.Request{
		Deadline:    uint64(nodeTestNow + 3600),
		LimitPrice:  big.NewInt(limit),
		OfferAmount: oneToken,
	}))
}

func p2pRunData(t *testing.T, max int64) []byte {
	t.Helper()
	raw, err := solver.EncodeRunData(solver.RunData{Initiator: nodeInitiator, MaxAssets: big.NewInt(max)})
	require.NoError(t, err)
	return raw
}

func TestNodeSolveCommitsAndStreamsEvents(t *testing.T) {
	db := storage.NewMemDB()
	node := newTestNode(t, db)
	defer node.Close()

	applied, err := node.ApplyGenesis(nodeGenesis(t))
	require.NoError(t, err)
	require.True(t, applied)
	submitAliceRequest(t, node, 5)

	owners, err := node.ListRequests(nodeOffer, nodeWant)
	require.NoError(t, err)
	require.Equal(t, []common.Address{nodeAlice}, owners)

	events, cancel := node.Subscribe(32)
	defer cancel()
	height := node.Height()

	report, err := node.Solve(context.Background(), nodeInitiator, nodeOffer, nodeWant,
		[]common.Address{nodeAlice}, p2pRunData(t, 1000), nodeP2P, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, report.Filled, 1)
	require.Equal(t, "7", report.TotalWant.String())
	require.Equal(t, height+1, node.Height())

	aliceWant, err := node.Balance(nodeWant, nodeAlice)
	require.NoError(t, err)
	require.Equal(t, "7", aliceWant.String())
	initiatorOffer, err := node.Balance(nodeOffer, nodeInitiator)
	require.NoError(t, err)
	require.Zero(t, initiatorOffer.Cmp(oneToken))

	req, err := node.GetRequest(nodeAlice, nodeOffer, nodeWant)
	require.NoError(t, err)
	require.True(t, req.Empty())

	require.Equal(t, []string{
		"ledger.transfer",
		"ledger.transfer",
		"ledger.transfer",
		"ledger.approval",
		"ledger.transfer",
		queue.EventTypeRequestFulfilled,
		queue.EventTypeBatchSolved,
	}, drain(events))
}

func TestNodeFailedSolveLeavesNoTrace(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	defer node.Close()

	_, err := node.ApplyGenesis(nodeGenesis(t))
	require.NoError(t, err)
	submitAliceRequest(t, node, 5)

	events, cancel := node.Subscribe(32)
	defer cancel()
	root := node.Root()
	height := node.Height()

	_, err = node.Solve(context.Background(), nodeInitiator, nodeOffer, nodeWant,
		[]common.Address{nodeAlice}, p2pRunData(t, 6), nodeP2P, big.NewInt(7))
	require.ErrorIs(t, err, queue.ErrCallbackFailed)
	require.ErrorIs(t, err, solver.ErrSlippage)

	require.Equal(t, root, node.Root())
	require.Equal(t, height, node.Height())
	require.Empty(t, drain(events))

	req, err := node.GetRequest(nodeAlice, nodeOffer, nodeWant)
	require.NoError(t, err)
	require.False(t, req.InSettlement)
	require.Zero(t, req.OfferAmount.Cmp(oneToken))
}

// rootWriteFailDB fails writes of the committed root while failing is set.
type rootWriteFailDB struct {
	storage.Database
	failing atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (db *rootWriteFailDB) Put(key, value []byte) error {
	if db.failing.Load() && bytes.Equal(key, []byte("atomicqueue/state-root")) {
		return errDiskFull
	}
	return db.Database.Put(key, value)
}

func TestNodeFailedCommitRollsBack(t *testing.T) {
	db := &rootWriteFailDB{Database: storage.NewMemDB()}
	node := newTestNode(t, db)
	defer node.Close()

	_, err := node.ApplyGenesis(nodeGenesis(t))
	require.NoError(t, err)
	events, cancel := node.Subscribe(32)
	defer cancel()
	root := node.Root()
	height := node.Height()

	db.failing.Store(true)
	err = node.UpdateRequest(nodeAlice, nodeOffer, nodeWant, &queue.Request{
		Deadline:    uint64(nodeTestNow + 3600),
		LimitPrice:  big.NewInt(7),
		OfferAmount: oneToken,
	})
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, root, node.Root())
	require.Equal(t, height, node.Height())
	require.Empty(t, drain(events))

	req, err := node.GetRequest(nodeAlice, nodeOffer, nodeWant)
	require.NoError(t, err)
	require.True(t, req.Empty())

	// The next successful commit must not carry the rejected write along.
	db.failing.Store(false)
	require.NoError(t, node.Approve(nodeAlice, nodeOffer, nodeQueue, big.NewInt(1)))
	req, err = node.GetRequest(nodeAlice, nodeOffer, nodeWant)
	require.NoError(t, err)
	require.True(t, req.Empty())
	owners, err := node.ListRequests(nodeOffer, nodeWant)
	require.NoError(t, err)
	require.Empty(t, owners)
}

func TestNodeGenesisPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")

	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	node := newTestNode(t, db)
	applied, err := node.ApplyGenesis(nodeGenesis(t))
	require.NoError(t, err)
	require.True(t, applied)
	submitAliceRequest(t, node, 5)
	root := node.Root()
	node.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	reopened := newTestNode(t, db)
	defer reopened.Close()
	require.Equal(t, root, reopened.Root())

	applied, err = reopened.ApplyGenesis(nodeGenesis(t))
	require.NoError(t, err)
	require.False(t, applied)

	owner, err := reopened.Owner()
	require.NoError(t, err)
	require.Equal(t, nodeOwner, owner)
	req, err := reopened.GetRequest(nodeAlice, nodeOffer, nodeWant)
	require.NoError(t, err)
	require.Equal(t, "5", req.LimitPrice.String())
}

func TestNodeAdminCalls(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	defer node.Close()
	_, err := node.ApplyGenesis(nodeGenesis(t))
	require.NoError(t, err)

	require.ErrorIs(t, node.SetPaused(nodeAlice, true), queue.ErrUnauthorized)
	require.NoError(t, node.SetPaused(nodeOwner, true))
	paused, err := node.Paused()
	require.NoError(t, err)
	require.True(t, paused)

	err = node.UpdateRequest(nodeAlice, nodeOffer, nodeWant, &queue.Request{OfferAmount: big.NewInt(1)})
	require.Error(t, err)
	require.NoError(t, node.SetPaused(nodeOwner, false))

	require.NoError(t, node.ToggleApprovedCallers(nodeOwner, []common.Address{nodeInitiator, nodeAlice}))
	approved, err := node.IsApprovedCaller(nodeInitiator)
	require.NoError(t, err)
	require.False(t, approved)
	approved, err = node.IsApprovedCaller(nodeAlice)
	require.NoError(t, err)
	require.True(t, approved)

	require.NoError(t, node.Approve(nodeAlice, nodeOffer, nodeP2P, big.NewInt(42)))
	allowance, err := node.Allowance(nodeOffer, nodeAlice, nodeP2P)
	require.NoError(t, err)
	require.Equal(t, "42", allowance.String())

	err = node.Approve(nodeAlice, nodeAlice, nodeP2P, big.NewInt(1))
	require.True(t, errors.Is(err, ledger.ErrUnknownAsset))

	assets, err := node.Assets()
	require.NoError(t, err)
	require.Len(t, assets, 2)
}

func TestNodeViewSolveMetadata(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	defer node.Close()
	_, err := node.ApplyGenesis(nodeGenesis(t))
	require.NoError(t, err)
	submitAliceRequest(t, node, 5)

	meta, totalWant, totalOffer, err := node.ViewSolveMetadata(nodeOffer, nodeWant, []common.Address{nodeAlice}, big.NewInt(3))
	require.NoError(t, err)
	require.Len(t, meta, 1)
	require.Equal(t, queue.Flags(0), meta[0].Flags)
	require.Equal(t, "3", totalWant.String())
	require.Zero(t, totalOffer.Cmp(oneToken))

	req, err := node.GetRequest(nodeAlice, nodeOffer, nodeWant)
	require.NoError(t, err)
	valid, err := node.IsRequestValid(nodeOffer, nodeAlice, req)
	require.NoError(t, err)
	require.True(t, valid)
}
