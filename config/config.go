package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"atomicqueue/crypto"
)

// DefaultQueueAddress is the ledger identity the queue uses when none is
// configured. No private key exists for it.
var DefaultQueueAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("atomicqueue/queue"))[12:])

// Config is the node configuration file.
type Config struct {
	DataDir      string   `toml:"DataDir"`
	GenesisFile  string   `toml:"GenesisFile"`
	QueueAddress string   `toml:"QueueAddress"`
	P2PSolvers   []string `toml:"P2PSolvers"`
	LogLevel     string   `toml:"LogLevel"`
	LogFile      string   `toml:"LogFile"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	cfg.applyDefaults()
	if cfg.GenesisFile != "" && !filepath.IsAbs(cfg.GenesisFile) {
		cfg.GenesisFile = filepath.Join(filepath.Dir(path), cfg.GenesisFile)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./atomicqueue-data"
	}
	if strings.TrimSpace(c.QueueAddress) == "" {
		c.QueueAddress = crypto.FromCommon(crypto.AccountPrefix, DefaultQueueAddress).String()
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.P2PSolvers == nil {
		c.P2PSolvers = []string{}
	}
}

// QueueIdentity parses QueueAddress.
func (c *Config) QueueIdentity() (common.Address, error) {
	addr, err := crypto.ParseIdentity(c.QueueAddress)
	if err != nil {
		return common.Address{}, fmt.Errorf("QueueAddress: %w", err)
	}
	return addr, nil
}

// P2PSolverIdentities parses P2PSolvers.
func (c *Config) P2PSolverIdentities() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.P2PSolvers))
	for i, raw := range c.P2PSolvers {
		addr, err := crypto.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("P2PSolvers[%d]: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
