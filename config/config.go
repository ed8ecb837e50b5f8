package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"vesselchain/crypto"
)

// Config is the on-disk configuration of the vesseld node.
type Config struct {
	ListenAddress          string `toml:"ListenAddress"`
	DataDir                string `toml:"DataDir"`
	Environment            string `toml:"Environment"`
	DebtTokenSymbol        string `toml:"DebtTokenSymbol"`
	CollateralFile         string `toml:"CollateralFile"`
	PriceMaxAgeSeconds     uint64 `toml:"PriceMaxAgeSeconds"`
	RedemptionSofteningBps uint64 `toml:"RedemptionSofteningBps"`

	Log        Log        `toml:"log"`
	Accounts   Accounts   `toml:"accounts"`
	Whitelists Whitelists `toml:"whitelists"`
	Pauses     Pauses     `toml:"pauses"`
	RateLimit  RateLimit  `toml:"rate_limit"`
}

const (
	DefaultListenAddress          = ":8090"
	DefaultDataDir                = "./vessel-data"
	DefaultEnvironment            = "local"
	DefaultDebtTokenSymbol        = "VUSD"
	DefaultPriceMaxAgeSeconds     = 3600
	DefaultRedemptionSofteningBps = 9700
)

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}

	cfg.normalize()
	if cfg.CollateralFile != "" && !filepath.IsAbs(cfg.CollateralFile) {
		cfg.CollateralFile = filepath.Join(filepath.Dir(path), cfg.CollateralFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	c.ListenAddress = strings.TrimSpace(c.ListenAddress)
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	c.DebtTokenSymbol = strings.ToUpper(strings.TrimSpace(c.DebtTokenSymbol))
	if c.DebtTokenSymbol == "" {
		c.DebtTokenSymbol = DefaultDebtTokenSymbol
	}
	c.CollateralFile = strings.TrimSpace(c.CollateralFile)
	if c.PriceMaxAgeSeconds == 0 {
		c.PriceMaxAgeSeconds = DefaultPriceMaxAgeSeconds
	}
	if c.RedemptionSofteningBps == 0 {
		c.RedemptionSofteningBps = DefaultRedemptionSofteningBps
	}
	c.Log.normalize()
	c.RateLimit.normalize()
}

// Validate checks the configuration for values the node cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.RedemptionSofteningBps > 10_000 {
		return fmt.Errorf("RedemptionSofteningBps must not exceed 10000")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit: RequestsPerSecond must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit: Burst must be positive")
	}
	if _, err := c.Accounts.Resolve(); err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
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

// ResolvedAccounts holds the module accounts after overrides are decoded.
// Zero values mean the engine defaults apply.
type ResolvedAccounts struct {
	ActivePool    crypto.Address
	GasPool       crypto.Address
	FeeRecipient  crypto.Address
	StabilityPool crypto.Address
}

// Resolve decodes the configured bech32 overrides.
func (a Accounts) Resolve() (ResolvedAccounts, error) {
	var out ResolvedAccounts
	fields := []struct {
		name  string
		value string
		dst   *crypto.Address
	}{
		{name: "ActivePool", value: a.ActivePool, dst: &out.ActivePool},
		{name: "GasPool", value: a.GasPool, dst: &out.GasPool},
		{name: "FeeRecipient", value: a.FeeRecipient, dst: &out.FeeRecipient},
		{name: "StabilityPool", value: a.StabilityPool, dst: &out.StabilityPool},
	}
	for _, field := range fields {
		trimmed := strings.TrimSpace(field.value)
		if trimmed == "" {
			continue
		}
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return ResolvedAccounts{}, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = addr
	}
	return out, nil
}
