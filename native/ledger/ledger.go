// Package ledger is the asset registry and balance book the queue settles
// through. Every asset is identified by an address, carries a fixed decimal
// precision and keeps per-holder balances and per-(owner, spender)
// allowances.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/core/events"
)

var (
	errNilState = errors.New("ledger: state not configured")

	// ErrUnknownAsset indicates the asset was never registered.
	ErrUnknownAsset = errors.New("ledger: unknown asset")
	// ErrAssetExists indicates a second registration for the same address.
	ErrAssetExists = errors.New("ledger: asset already registered")
	// ErrInvalidAmount indicates a negative amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientBalance indicates the holder cannot cover the transfer.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInsufficientAllowance indicates the spender is not allowed to move
	// that much of the owner's balance.
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
)

// Asset describes a registered asset.
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

type ledgerState interface {
	LedgerAsset(addr common.Address) (*Asset, bool, error)
	LedgerPutAsset(asset *Asset) error
	LedgerAssets() ([]common.Address, error)
	LedgerBalance(asset, holder common.Address) (*big.Int, error)
	LedgerSetBalance(asset, holder common.Address, amount *big.Int) error
	LedgerAllowance(asset, owner, spender common.Address) (*big.Int, error)
	LedgerSetAllowance(asset, owner, spender common.Address, amount *big.Int) error
}

// Ledger moves asset balances and tracks allowances.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// New returns a ledger over state with a no-op emitter.
func New(state ledgerState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
}

// RegisterAsset adds an asset to the registry.
func (l *Ledger) RegisterAsset(asset *Asset) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if asset == nil || asset.Address == (common.Address{}) {
		return fmt.Errorf("ledger: asset address required")
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
	if symbol == "" {
		return fmt.Errorf("ledger: asset %s: symbol required", asset.Address.Hex())
	}
	if _, ok, err := l.state.LedgerAsset(asset.Address); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.Address.Hex())
	}
	return l.state.LedgerPutAsset(&Asset{Address: asset.Address, Symbol: symbol, Decimals: asset.Decimals})
}

// Asset returns the registered asset.
func (l *Ledger) Asset(addr common.Address) (*Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	asset, ok, err := l.state.LedgerAsset(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, addr.Hex())
	}
	return asset, nil
}

// Assets lists registered assets in ascending address order.
func (l *Ledger) Assets() ([]*Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	addrs, err := l.state.LedgerAssets()
	if err != nil {
		return nil, err
	}
	out := make([]*Asset, 0, len(addrs))
	for _, addr := range addrs {
		asset, err := l.Asset(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, nil
}

// Decimals returns the asset precision.
func (l *Ledger) Decimals(asset common.Address) (uint8, error) {
	meta, err := l.Asset(asset)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// BalanceOf returns holder's balance of asset.
func (l *Ledger) BalanceOf(asset, holder common.Address) (*big.Int, error) {
	if _, err := l.Asset(asset); err != nil {
		return nil, err
	}
	return l.state.LedgerBalance(asset, holder)
}

// Allowance returns how much of owner's balance spender may move.
func (l *Ledger) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	if _, err := l.Asset(asset); err != nil {
		return nil, err
	}
	return l.state.LedgerAllowance(asset, owner, spender)
}

// Approve sets spender's allowance over owner's balance, replacing any
// previous allowance.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if _, err := l.Asset(asset); err != nil {
		return err
	}
	if err := l.state.LedgerSetAllowance(asset, owner, spender, amount); err != nil {
		return err
	}
	l.emit(events.Approval{Asset: asset, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint credits amount to holder. Only genesis and tests mint.
func (l *Ledger) Mint(asset, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	balance, err := l.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	if err := l.state.LedgerSetBalance(asset, to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	l.emit(events.Transfer{Asset: asset, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves amount from the sender's own balance.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	return l.TransferFrom(asset, from, from, to, amount)
}

// TransferFrom moves amount from from to to on behalf of spender. A spender
// other than from consumes allowance.
func (l *Ledger) TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if _, err := l.Asset(asset); err != nil {
		return err
	}
	var allowance *big.Int
	if spender != from {
		current, err := l.state.LedgerAllowance(asset, from, spender)
		if err != nil {
			return err
		}
		if current.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allows %s %s, need %s", ErrInsufficientAllowance, from.Hex(), spender.Hex(), current, amount)
		}
		allowance = current
	}
	fromBalance, err := l.state.LedgerBalance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, from.Hex(), fromBalance, amount)
	}
	if allowance != nil {
		if err := l.state.LedgerSetAllowance(asset, from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
	}
	if from != to {
		if err := l.state.LedgerSetBalance(asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
			return err
		}
		toBalance, err := l.state.LedgerBalance(asset, to)
		if err != nil {
			return err
		}
		if err := l.state.LedgerSetBalance(asset, to, new(big.Int).Add(toBalance, amount)); err != nil {
			return err
		}
	}
	l.emit(events.Transfer{Asset: asset, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
