package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"vouchlend/native/lending"
)

// Default vault identities for local development. Deployments override all
// three addresses before serving traffic.
const (
	defaultAuthorityAddress       = "0x1000000000000000000000000000000000000001"
	defaultLendingVaultAddress    = "0x1000000000000000000000000000000000000002"
	defaultCollateralVaultAddress = "0x1000000000000000000000000000000000000003"
)

type Config struct {
	ListenAddress          string         `toml:"ListenAddress"`
	DataDir                string         `toml:"DataDir"`
	Environment            string         `toml:"Environment"`
	AuthorityAddress       string         `toml:"AuthorityAddress"`
	LendingVaultAddress    string         `toml:"LendingVaultAddress"`
	CollateralVaultAddress string         `toml:"CollateralVaultAddress"`
	Lending                lending.Config `toml:"lending"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./vouchlend-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.AuthorityAddress) == "" {
		c.AuthorityAddress = defaultAuthorityAddress
	}
	if strings.TrimSpace(c.LendingVaultAddress) == "" {
		c.LendingVaultAddress = defaultLendingVaultAddress
	}
	if strings.TrimSpace(c.CollateralVaultAddress) == "" {
		c.CollateralVaultAddress = defaultCollateralVaultAddress
	}
}

// Validate checks the address fields and the lending parameter block.
func (c *Config) Validate() error {
	authority, err := ParseAddress(c.AuthorityAddress)
	if err != nil {
		return fmt.Errorf("AuthorityAddress: %w", err)
	}
	vault, err := ParseAddress(c.LendingVaultAddress)
	if err != nil {
		return fmt.Errorf("LendingVaultAddress: %w", err)
	}
	collateralVault, err := ParseAddress(c.CollateralVaultAddress)
	if err != nil {
		return fmt.Errorf("CollateralVaultAddress: %w", err)
	}
	if vault == collateralVault || vault == authority || collateralVault == authority {
		return fmt.Errorf("authority and vault addresses must be distinct")
	}
	if err := c.Lending.Params().Validate(); err != nil {
		return fmt.Errorf("lending: %w", err)
	}
	return nil
}

// Authority returns the parsed registry authority address.
func (c *Config) Authority() ([20]byte, error) { return ParseAddress(c.AuthorityAddress) }

// LendingVault returns the parsed lending module vault address.
func (c *Config) LendingVault() ([20]byte, error) { return ParseAddress(c.LendingVaultAddress) }

// CollateralVault returns the parsed collateral escrow vault address.
func (c *Config) CollateralVault() ([20]byte, error) { return ParseAddress(c.CollateralVaultAddress) }

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address %q: want %d bytes, got %d", value, len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
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
