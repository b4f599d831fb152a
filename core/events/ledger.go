package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/core/types"
	"atomicqueue/crypto"
)

const (
	// TypeTransfer is emitted for every ledger balance movement.
	TypeTransfer = "ledger.transfer"
	// TypeApproval is emitted when an owner sets a spender allowance.
	TypeApproval = "ledger.approval"
)

type Transfer struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"asset":  crypto.FromCommon(crypto.AssetPrefix, e.Asset).String(),
		"from":   crypto.FromCommon(crypto.AccountPrefix, e.From).String(),
		"to":     crypto.FromCommon(crypto.AccountPrefix, e.To).String(),
		"amount": types.FormatAmount(e.Amount),
	}}
}

type Approval struct {
	Asset   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{Type: TypeApproval, Attributes: map[string]string{
		"asset":   crypto.FromCommon(crypto.AssetPrefix, e.Asset).String(),
		"owner":   crypto.FromCommon(crypto.AccountPrefix, e.Owner).String(),
		"spender": crypto.FromCommon(crypto.AccountPrefix, e.Spender).String(),
		"amount":  types.FormatAmount(e.Amount),
	}}
}
