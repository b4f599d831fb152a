package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UpdateRequestCall is the payload of ActionUpdateRequest. Amounts are decimal
// strings in atomic units.
type UpdateRequestCall struct {
	Offer       common.Address `json:"offer"`
	Want        common.Address `json:"want"`
	Deadline    uint64         `json:"deadline"`
	LimitPrice  string         `json:"limitPrice"`
	OfferAmount string         `json:"offerAmount"`
}

// SolveCall is the payload of ActionSolve.
type SolveCall struct {
	Offer         common.Address   `json:"offer"`
	Want          common.Address   `json:"want"`
	Users         []common.Address `json:"users"`
	RunData       hexutil.Bytes    `json:"runData"`
	Solver        common.Address   `json:"solver"`
	ClearingPrice string           `json:"clearingPrice"`
}

// ToggleSolversCall is the payload of ActionToggleSolvers.
type ToggleSolversCall struct {
	Identities []common.Address `json:"identities"`
}

// SetPausedCall is the payload of ActionSetPaused.
type SetPausedCall struct {
	Paused bool `json:"paused"`
}

// ApproveCall is the payload of ActionApprove.
type ApproveCall struct {
	Asset   common.Address `json:"asset"`
	Spender common.Address `json:"spender"`
	Amount  string         `json:"amount"`
}

// ParseAmount parses a non-negative base-10 integer. Empty input is zero.
func ParseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s: amount must not be negative", field)
	}
	return value, nil
}

// FormatAmount renders nil as "0".
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
