// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"gopkg.in/yaml.v3"

	"github.com/tidepool-exchange/tidepool/internal/chain"
	"github.com/tidepool-exchange/tidepool/internal/lightning"
	"github.com/tidepool-exchange/tidepool/internal/storage"
)

// ConfigFileName is the default config file name inside the data directory.
const ConfigFileName = "config.yaml"

// Config holds all daemon settings.
type Config struct {
	Logging LoggingConfig  `yaml:"logging"`
	Storage storage.Config `yaml:"storage"`
	API     APIConfig      `yaml:"api"`
	Wallet  WalletConfig   `yaml:"wallet"`

	Currencies []CurrencyConfig `yaml:"currencies"`
	Pairs      []string         `yaml:"pairs"`

	Rates   RatesConfig   `yaml:"rates"`
	Watcher WatcherConfig `yaml:"watcher"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// APIConfig holds the JSON-RPC listen address.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WalletConfig holds the seed of the swap key tree.
type WalletConfig struct {
	// Mnemonic is the BIP39 seed phrase. Generated on first run when empty.
	Mnemonic string `yaml:"mnemonic"`
}

// CurrencyConfig describes one configured ledger.
type CurrencyConfig struct {
	Symbol  string `yaml:"symbol"`
	Network string `yaml:"network"`

	// Confidential marks Elements based sidechains.
	Confidential bool `yaml:"confidential"`
	// AssetLabel is the balance bucket of the base asset on confidential chains.
	AssetLabel string `yaml:"assetlabel"`
	// AssetHash is the base asset id, required for confidential spends.
	AssetHash string `yaml:"assethash"`
	// Bech32HRP overrides the segwit address prefix, used by sidechains.
	Bech32HRP string `yaml:"bech32hrp"`

	RPC       chain.RPCConfig      `yaml:"rpc"`
	Lightning *lightning.LndConfig `yaml:"lightning"`
}

// RatesConfig holds the ticker poller settings.
type RatesConfig struct {
	BaseURL  string        `yaml:"baseurl"`
	Interval time.Duration `yaml:"interval"`
}

// WatcherConfig holds the invoice expiry watcher settings.
type WatcherConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ChainParams resolves the address parameters of a currency. Sidechains get a
// copy of the base parameters with their own bech32 prefix.
func (c *CurrencyConfig) ChainParams() (*chaincfg.Params, error) {
	var base *chaincfg.Params
	switch c.Network {
	case "mainnet", "":
		base = &chaincfg.MainNetParams
	case "testnet":
		base = &chaincfg.TestNet3Params
	case "regtest":
		base = &chaincfg.RegressionNetParams
	default:
		return nil, fmt.Errorf("unknown network %q for %s", c.Network, c.Symbol)
	}

	if c.Bech32HRP == "" {
		return base, nil
	}

	params := *base
	params.Bech32HRPSegwit = c.Bech32HRP
	return &params, nil
}

// Validate checks the parts that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	if len(c.Currencies) == 0 {
		return fmt.Errorf("no currencies configured")
	}

	seen := make(map[string]bool, len(c.Currencies))
	for i := range c.Currencies {
		currency := &c.Currencies[i]
		if currency.Symbol == "" {
			return fmt.Errorf("currency %d has no symbol", i)
		}
		if seen[currency.Symbol] {
			return fmt.Errorf("duplicate currency %s", currency.Symbol)
		}
		seen[currency.Symbol] = true

		if currency.Confidential && currency.AssetHash == "" {
			return fmt.Errorf("confidential currency %s needs an asset hash", currency.Symbol)
		}
		if _, err := currency.ChainParams(); err != nil {
			return err
		}
	}

	return nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: storage.Config{DataDir: "~/.tidepool"},
		API:     APIConfig{Host: "127.0.0.1", Port: 9040},
		Currencies: []CurrencyConfig{
			{
				Symbol:  "BTC",
				Network: "mainnet",
				RPC: chain.RPCConfig{
					Host: "127.0.0.1",
					Port: 8332,
				},
			},
		},
		Pairs: []string{},
		Rates: RatesConfig{Interval: time.Minute},
		Watcher: WatcherConfig{
			Interval: time.Minute,
		},
	}
}

// Load reads the config file from the data directory, creating a default one
// on first run.
func Load(dataDir string) (*Config, error) {
	expanded := expandPath(dataDir)
	configPath := filepath.Join(expanded, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := []byte("# Tidepool daemon configuration\n\n")
	return os.WriteFile(path, append(header, data...), 0600)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
