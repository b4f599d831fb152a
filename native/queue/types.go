package queue

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ModuleName is the pause-guard key of the queue.
const ModuleName = "queue"

// Request is a user's standing offer for one (owner, offer asset, want asset)
// triple: sell OfferAmount of the offer asset for at least LimitPrice of the
// want asset per whole offer unit, until Deadline.
type Request struct {
	// Deadline is a unix timestamp in seconds; the request is void once the
	// clock is past it.
	Deadline uint64
	// LimitPrice is denominated in want-asset atomic units per 10^decimals
	// atomic units of the offer asset.
	LimitPrice *big.Int
	// OfferAmount is in offer-asset atomic units.
	OfferAmount *big.Int
	// InSettlement is set only while a solve covering the request runs.
	InSettlement bool
}

// Clone returns a deep copy with non-nil amounts.
func (r *Request) Clone() *Request {
	if r == nil {
		return &Request{LimitPrice: big.NewInt(0), OfferAmount: big.NewInt(0)}
	}
	clone := *r
	clone.LimitPrice = cloneBigInt(r.LimitPrice)
	clone.OfferAmount = cloneBigInt(r.OfferAmount)
	return &clone
}

// Empty reports whether the request carries nothing to settle. A stored
// request with a zero offer amount is treated exactly like a missing one.
func (r *Request) Empty() bool {
	return r == nil || r.OfferAmount == nil || r.OfferAmount.Sign() == 0
}

// Expired reports whether now is past the deadline.
func (r *Request) Expired(now int64) bool {
	if r == nil {
		return true
	}
	if now < 0 {
		return false
	}
	return uint64(now) > r.Deadline
}

// Flags describe why a request would not settle at a proposed price. Bits
// accumulate independently.
type Flags uint8

const (
	// FlagDeadlineExceeded is set when the request deadline has passed.
	FlagDeadlineExceeded Flags = 1 << iota
	// FlagZeroPrice is set for a zero limit price, usually an unset request.
	FlagZeroPrice
	// FlagInsufficientBalance is set when the owner holds less offer asset
	// than the request offers.
	FlagInsufficientBalance
	// FlagInsufficientAllowance is set when the owner has not allowed the
	// queue to move the offered amount.
	FlagInsufficientAllowance
	// FlagZeroOfferAmount is set when there is nothing to offer.
	FlagZeroOfferAmount
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagDeadlineExceeded, "deadline_exceeded"},
	{FlagZeroPrice, "zero_price"},
	{FlagInsufficientBalance, "insufficient_balance"},
	{FlagInsufficientAllowance, "insufficient_allowance"},
	{FlagZeroOfferAmount, "zero_offer_amount"},
}

// Has reports whether every bit of other is set.
func (f Flags) Has(other Flags) bool { return f&other == other }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// SolveMetadata is the read-only projection of one user's request at a
// proposed price.
type SolveMetadata struct {
	User          common.Address
	Flags         Flags
	AssetsToOffer *big.Int
	AssetsForWant *big.Int
}

// SkipReason says why a user was left out of a batch without failing it.
type SkipReason string

const (
	SkipMissing             SkipReason = "missing"
	SkipLocked              SkipReason = "locked"
	SkipExpired             SkipReason = "expired"
	SkipInsufficientBalance SkipReason = "insufficient_balance"
)

// Fill records one settled user.
type Fill struct {
	User          common.Address
	AssetsToOffer *big.Int
	AssetsForWant *big.Int
}

// Skip records one soft-skipped user.
type Skip struct {
	User   common.Address
	Reason SkipReason
}

// SolveReport summarises a successful solve.
type SolveReport struct {
	Caller        common.Address
	Solver        common.Address
	Offer         common.Address
	Want          common.Address
	ClearingPrice *big.Int
	Filled        []Fill
	Skipped       []Skip
	TotalOffer    *big.Int
	TotalWant     *big.Int
}

// Settlement is what the solver callback is told once every offer leg has
// moved to the solver.
type Settlement struct {
	RunData    []byte
	Initiator  common.Address
	Solver     common.Address
	Offer      common.Address
	Want       common.Address
	TotalOffer *big.Int
	TotalWant  *big.Int
}

// Callback supplies want-asset liquidity mid-solve. When OnSettle returns
// nil the solver account must hold TotalWant of the want asset and have
// allowed the queue to spend it.
type Callback interface {
	OnSettle(ctx context.Context, s Settlement) error
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, s Settlement) error

// OnSettle implements Callback.
func (f CallbackFunc) OnSettle(ctx context.Context, s Settlement) error { return f(ctx, s) }

// CallbackResolver maps a solver identity to its callback.
type CallbackResolver interface {
	Callback(solver common.Address) (Callback, bool)
}

// Ledger is the asset-transfer primitive the queue settles through.
type Ledger interface {
	Decimals(asset common.Address) (uint8, error)
	BalanceOf(asset, holder common.Address) (*big.Int, error)
	Allowance(asset, owner, spender common.Address) (*big.Int, error)
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
