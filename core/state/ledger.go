package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/native/ledger"
)

const (
	ledgerAssetPrefix     = "ledger/asset/"
	ledgerBalancePrefix   = "ledger/balance/"
	ledgerAllowancePrefix = "ledger/allowance/"
)

var ledgerAssetListKey = []byte("ledger/assets")

func ledgerAssetKey(addr common.Address) []byte {
	return compositeKey(ledgerAssetPrefix, addr.Bytes())
}

func ledgerBalanceKey(asset, holder common.Address) []byte {
	return compositeKey(ledgerBalancePrefix, asset.Bytes(), holder.Bytes())
}

func ledgerAllowanceKey(asset, owner, spender common.Address) []byte {
	return compositeKey(ledgerAllowancePrefix, asset.Bytes(), owner.Bytes(), spender.Bytes())
}

// LedgerAsset loads a registered asset.
func (m *Manager) LedgerAsset(addr common.Address) (*ledger.Asset, bool, error) {
	asset := new(ledger.Asset)
	ok, err := m.KVGet(ledgerAssetKey(addr), asset)
	if err != nil || !ok {
		return nil, false, err
	}
	return asset, true, nil
}

// LedgerPutAsset stores asset metadata and records the address in the asset
// index.
func (m *Manager) LedgerPutAsset(asset *ledger.Asset) error {
	if asset == nil {
		return fmt.Errorf("state: nil asset")
	}
	list, err := m.LedgerAssets()
	if err != nil {
		return err
	}
	if idx, found := searchAddress(list, asset.Address); !found {
		list = append(list, common.Address{})
		copy(list[idx+1:], list[idx:])
		list[idx] = asset.Address
		if err := m.KVPut(ledgerAssetListKey, list); err != nil {
			return err
		}
	}
	return m.KVPut(ledgerAssetKey(asset.Address), asset)
}

// LedgerAssets returns registered asset addresses in ascending order.
func (m *Manager) LedgerAssets() ([]common.Address, error) {
	var list []common.Address
	if err := m.KVGetList(ledgerAssetListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// LedgerBalance returns the stored balance, zero when unset.
func (m *Manager) LedgerBalance(asset, holder common.Address) (*big.Int, error) {
	return m.loadAmount(ledgerBalanceKey(asset, holder))
}

// LedgerSetBalance stores a balance; a zero balance removes the record.
func (m *Manager) LedgerSetBalance(asset, holder common.Address, amount *big.Int) error {
	return m.storeAmount(ledgerBalanceKey(asset, holder), amount)
}

// LedgerAllowance returns the stored allowance, zero when unset.
func (m *Manager) LedgerAllowance(asset, owner, spender common.Address) (*big.Int, error) {
	return m.loadAmount(ledgerAllowanceKey(asset, owner, spender))
}

// LedgerSetAllowance stores an allowance; a zero allowance removes the record.
func (m *Manager) LedgerSetAllowance(asset, owner, spender common.Address, amount *big.Int) error {
	return m.storeAmount(ledgerAllowanceKey(asset, owner, spender), amount)
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount %s", amount)
	}
	return m.KVPut(key, amount)
}
