package genesis

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/core/state"
	"atomicqueue/native/ledger"
	"atomicqueue/native/queue"
)

// Apply writes a validated spec into manager through l. Assets, balances and
// allowances are applied in address order so the resulting root does not
// depend on document order. Apply does not commit.
func Apply(spec *Spec, manager *state.Manager, l *ledger.Ledger) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil || l == nil {
		return fmt.Errorf("genesis: state and ledger required")
	}
	if spec.owner == (common.Address{}) {
		return fmt.Errorf("genesis spec not validated")
	}

	// 1) Assets
	assets := append([]AssetSpec(nil), spec.Assets...)
	sort.Slice(assets, func(i, j int) bool {
		return bytes.Compare(assets[i].address[:], assets[j].address[:]) < 0
	})
	for _, a := range assets {
		if err := l.RegisterAsset(&ledger.Asset{Address: a.address, Symbol: a.Symbol, Decimals: a.Decimals}); err != nil {
			return fmt.Errorf("register asset %q: %w", a.Symbol, err)
		}
	}

	// 2) Balances (asset, then holder)
	balances := append([]BalanceSpec(nil), spec.Balances...)
	sort.SliceStable(balances, func(i, j int) bool {
		if c := bytes.Compare(balances[i].asset[:], balances[j].asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(balances[i].holder[:], balances[j].holder[:]) < 0
	})
	for _, b := range balances {
		if err := l.Mint(b.asset, b.holder, b.amount); err != nil {
			return fmt.Errorf("balance %s/%s: %w", b.Asset, b.Holder, err)
		}
	}

	// 3) Allowances
	allowances := append([]AllowanceSpec(nil), spec.Allowances...)
	sort.SliceStable(allowances, func(i, j int) bool {
		if c := bytes.Compare(allowances[i].asset[:], allowances[j].asset[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(allowances[i].owner[:], allowances[j].owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(allowances[i].spender[:], allowances[j].spender[:]) < 0
	})
	for _, a := range allowances {
		if err := l.Approve(a.asset, a.owner, a.spender, a.amount); err != nil {
			return fmt.Errorf("allowance %s/%s/%s: %w", a.Asset, a.Owner, a.Spender, err)
		}
	}

	// 4) Queue owner, solvers, pause switch
	if err := manager.QueueSetOwner(spec.owner); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	for _, solver := range spec.solvers {
		if err := manager.QueueSetSolverApproved(solver, true); err != nil {
			return fmt.Errorf("approve solver %s: %w", solver.Hex(), err)
		}
	}
	if err := manager.SetModulePaused(queue.ModuleName, spec.Paused); err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}
