package config

import (
	"os"
	"path/filepath"
	"testing"

	"vesselchain/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != DefaultListenAddress || cfg.DebtTokenSymbol != DefaultDebtTokenSymbol {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedemptionSofteningBps != DefaultRedemptionSofteningBps {
		t.Fatalf("softening: %d", cfg.RedemptionSofteningBps)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DataDir != cfg.DataDir || reloaded.Log.Level != "info" {
		t.Fatalf("reloaded config differs: %+v", reloaded)
	}
}

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	feeRecipient := crypto.ModuleAddress("treasury").String()
	contents := `ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/vessels"
Environment = "Prod"
DebtTokenSymbol = "grai"
CollateralFile = "collateral.yaml"
PriceMaxAgeSeconds = 120
RedemptionSofteningBps = 9900

[log]
Level = "DEBUG"
File = "/var/log/vesseld.log"

[accounts]
FeeRecipient = "` + feeRecipient + `"

[whitelists]
EnforceRedeemers = true

[pauses]
Stability = true

[rate_limit]
RequestsPerSecond = 2.5
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "prod" || cfg.DebtTokenSymbol != "GRAI" {
		t.Fatalf("normalisation failed: %+v", cfg)
	}
	if cfg.CollateralFile != filepath.Join(dir, "collateral.yaml") {
		t.Fatalf("collateral file not resolved against config dir: %s", cfg.CollateralFile)
	}
	if cfg.PriceMaxAgeSeconds != 120 || cfg.RedemptionSofteningBps != 9900 {
		t.Fatalf("unexpected numeric settings: %+v", cfg)
	}
	if cfg.Log.Level != "debug" || cfg.Log.MaxSizeMB != 100 {
		t.Fatalf("unexpected log settings: %+v", cfg.Log)
	}
	if !cfg.Whitelists.EnforceRedeemers || cfg.Whitelists.EnforceLiquidators {
		t.Fatalf("unexpected whitelists: %+v", cfg.Whitelists)
	}
	if !cfg.Pauses.IsPaused("stability") || cfg.Pauses.IsPaused("vessels") {
		t.Fatalf("unexpected pauses: %+v", cfg.Pauses)
	}
	if cfg.RateLimit.Burst != 2 {
		t.Fatalf("burst should default from rate, got %d", cfg.RateLimit.Burst)
	}

	accounts, err := cfg.Accounts.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !accounts.FeeRecipient.Equal(crypto.ModuleAddress("treasury")) {
		t.Fatalf("fee recipient: %s", accounts.FeeRecipient)
	}
	if !accounts.GasPool.IsZero() {
		t.Fatalf("gas pool override should be empty")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "Bogus = 1\n",
		"softening":      "RedemptionSofteningBps = 10001\n",
		"negative rate":  "[rate_limit]\nRequestsPerSecond = -1\n",
		"bad account":    "[accounts]\nGasPool = \"not-bech32\"\n",
		"malformed toml": "ListenAddress = \n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestPausesIgnoreUnknownModules(t *testing.T) {
	p := Pauses{Vessels: true}
	if !p.IsPaused(" Vessels ") {
		t.Fatalf("module names should be case insensitive")
	}
	if p.IsPaused("lending") {
		t.Fatalf("unknown module reported paused")
	}
}
