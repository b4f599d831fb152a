package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/crypto"
)

// Spec is the JSON genesis document seeding an empty queue state. Identities
// accept bech32 or 0x-hex form; amounts are base-10 atomic units.
type Spec struct {
	Owner      string          `json:"owner"`
	Paused     bool            `json:"paused,omitempty"`
	Assets     []AssetSpec     `json:"assets"`
	Balances   []BalanceSpec   `json:"balances,omitempty"`
	Allowances []AllowanceSpec `json:"allowances,omitempty"`
	Solvers    []string        `json:"approvedSolvers,omitempty"`

	owner   common.Address
	solvers []common.Address
}

type AssetSpec struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`

	address common.Address
}

type BalanceSpec struct {
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
	Amount string `json:"amount"`

	asset  common.Address
	holder common.Address
	amount *big.Int
}

type AllowanceSpec struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`

	asset   common.Address
	owner   common.Address
	spender common.Address
	amount  *big.Int
}

// LoadSpec reads and validates the genesis document at path.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// OwnerAddress returns the parsed owner. Only valid after Validate.
func (s *Spec) OwnerAddress() common.Address { return s.owner }

// Validate parses every identity and amount, rejecting duplicates and
// references to undeclared assets.
func (s *Spec) Validate() error {
	owner, err := crypto.ParseIdentity(s.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("owner: zero address")
	}
	s.owner = owner

	assets := make(map[common.Address]struct{}, len(s.Assets))
	symbols := make(map[string]struct{}, len(s.Assets))
	for i := range s.Assets {
		a := &s.Assets[i]
		addr, err := crypto.ParseIdentity(a.Address)
		if err != nil {
			return fmt.Errorf("asset[%d]: %w", i, err)
		}
		symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if symbol == "" {
			return fmt.Errorf("asset[%d]: symbol must be provided", i)
		}
		if _, dup := assets[addr]; dup {
			return fmt.Errorf("asset[%d]: duplicate address %q", i, a.Address)
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("asset[%d]: duplicate symbol %q", i, a.Symbol)
		}
		assets[addr] = struct{}{}
		symbols[symbol] = struct{}{}
		a.address = addr
	}
	known := func(raw string) (common.Address, error) {
		addr, err := crypto.ParseIdentity(raw)
		if err != nil {
			return common.Address{}, err
		}
		if _, ok := assets[addr]; !ok {
			return common.Address{}, fmt.Errorf("undefined asset %q", raw)
		}
		return addr, nil
	}

	for i := range s.Balances {
		b := &s.Balances[i]
		if b.asset, err = known(b.Asset); err != nil {
			return fmt.Errorf("balance[%d]: %w", i, err)
		}
		if b.holder, err = crypto.ParseIdentity(b.Holder); err != nil {
			return fmt.Errorf("balance[%d]: holder: %w", i, err)
		}
		if b.amount, err = parseAmountString(b.Amount); err != nil {
			return fmt.Errorf("balance[%d]: %w", i, err)
		}
	}
	for i := range s.Allowances {
		a := &s.Allowances[i]
		if a.asset, err = known(a.Asset); err != nil {
			return fmt.Errorf("allowance[%d]: %w", i, err)
		}
		if a.owner, err = crypto.ParseIdentity(a.Owner); err != nil {
			return fmt.Errorf("allowance[%d]: owner: %w", i, err)
		}
		if a.spender, err = crypto.ParseIdentity(a.Spender); err != nil {
			return fmt.Errorf("allowance[%d]: spender: %w", i, err)
		}
		if a.amount, err = parseAmountString(a.Amount); err != nil {
			return fmt.Errorf("allowance[%d]: %w", i, err)
		}
	}

	s.solvers = s.solvers[:0]
	seen := make(map[common.Address]struct{}, len(s.Solvers))
	for i, raw := range s.Solvers {
		addr, err := crypto.ParseIdentity(raw)
		if err != nil {
			return fmt.Errorf("approvedSolvers[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("approvedSolvers[%d]: duplicate %q", i, raw)
		}
		seen[addr] = struct{}{}
		s.solvers = append(s.solvers, addr)
	}
	return nil
}

func parseAmountString(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return amount, nil
}
