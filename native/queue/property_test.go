package queue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"
)

type drawnUser struct {
	addr   common.Address
	amount *big.Int
	limit  int64
	funded bool
}

func drawBatch(t *rapid.T, f *fixture) []drawnUser {
	n := rapid.IntRange(1, 8).Draw(t, "users")
	users := make([]drawnUser, 0, n)
	for i := 0; i < n; i++ {
		u := drawnUser{
			addr:   common.BigToAddress(big.NewInt(int64(0x1000 + i))),
			amount: new(big.Int).SetUint64(rapid.Uint64Range(1, 1<<62).Draw(t, fmt.Sprintf("amount-%d", i))),
			limit:  rapid.Int64Range(0, 1_000_000).Draw(t, fmt.Sprintf("limit-%d", i)),
			funded: rapid.Bool().Draw(t, fmt.Sprintf("funded-%d", i)),
		}
		if u.funded {
			f.fundUser(u.addr, u.amount)
		}
		req := &Request{Deadline: uint64(testNow + 60), LimitPrice: big.NewInt(u.limit), OfferAmount: u.amount}
		if err := f.engine.UpdateRequest(u.addr, offerAsset, wantAsset, req); err != nil {
			t.Fatalf("update: %v", err)
		}
		users = append(users, u)
	}
	return users
}

func TestSolveSettlesExactAmounts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		users := drawBatch(rt, f)
		price := int64(1_000_000)
		for _, u := range users {
			if u.limit > price {
				price = u.limit
			}
		}
		price += rapid.Int64Range(0, 1_000_000).Draw(rt, "premium")

		addrs := make([]common.Address, 0, len(users))
		for _, u := range users {
			addrs = append(addrs, u.addr)
		}
		report, err := f.engine.Solve(context.Background(), solverCaller, offerAsset, wantAsset, addrs, nil, solverAddr, big.NewInt(price))
		if err != nil {
			rt.Fatalf("solve: %v", err)
		}
		totalWant := new(big.Int)
		for _, u := range users {
			_, stored := f.state.requests[requestKey{u.addr, offerAsset, wantAsset}]
			received := f.balance(wantAsset, u.addr)
			if !u.funded {
				if !stored || received.Sign() != 0 {
					rt.Fatalf("unfunded user %s was settled", u.addr.Hex())
				}
				continue
			}
			expected := new(big.Int).Mul(u.amount, big.NewInt(price))
			expected.Quo(expected, oneToken)
			if received.Cmp(expected) != 0 {
				rt.Fatalf("user %s received %s, expected %s", u.addr.Hex(), received, expected)
			}
			if stored {
				rt.Fatalf("filled request for %s not removed", u.addr.Hex())
			}
			if f.balance(offerAsset, u.addr).Sign() != 0 {
				rt.Fatalf("user %s kept offer balance", u.addr.Hex())
			}
			totalWant.Add(totalWant, expected)
		}
		if report.TotalWant.Cmp(totalWant) != 0 {
			rt.Fatalf("report total %s, expected %s", report.TotalWant, totalWant)
		}
		if len(report.Filled)+len(report.Skipped) != len(users) {
			rt.Fatalf("report lost users: %+v", report)
		}
	})
}

func TestSolveBelowAnyLimitChangesNothing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		users := drawBatch(rt, f)
		victim := rapid.IntRange(0, len(users)-1).Draw(rt, "victim")
		users[victim].limit = 2_000_000
		if !users[victim].funded {
			users[victim].funded = true
			f.fundUser(users[victim].addr, users[victim].amount)
		}
		req := &Request{Deadline: uint64(testNow + 60), LimitPrice: big.NewInt(users[victim].limit), OfferAmount: users[victim].amount}
		if err := f.engine.UpdateRequest(users[victim].addr, offerAsset, wantAsset, req); err != nil {
			rt.Fatalf("update: %v", err)
		}
		price := rapid.Int64Range(1, users[victim].limit-1).Draw(rt, "price")

		addrs := make([]common.Address, 0, len(users))
		for _, u := range users {
			addrs = append(addrs, u.addr)
		}
		before := f.state.clone()
		f.events.events = nil
		_, err := f.engine.Solve(context.Background(), solverCaller, offerAsset, wantAsset, addrs, nil, solverAddr, big.NewInt(price))
		if !errors.Is(err, ErrClearingPriceTooLow) {
			rt.Fatalf("expected ErrClearingPriceTooLow, got %v", err)
		}
		if !sameState(before, f.state) {
			rt.Fatalf("failed solve mutated state")
		}
		if len(f.events.events) != 0 {
			rt.Fatalf("failed solve emitted events")
		}
	})
}
