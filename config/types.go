package config

import "strings"

// Log configures the node logger and its optional rotated file sink.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

func (l *Log) normalize() {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	l.File = strings.TrimSpace(l.File)
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 28
	}
}

// Accounts overrides the module accounts. Empty fields keep the defaults.
type Accounts struct {
	ActivePool    string `toml:"ActivePool"`
	GasPool       string `toml:"GasPool"`
	FeeRecipient  string `toml:"FeeRecipient"`
	StabilityPool string `toml:"StabilityPool"`
}

// Whitelists toggles enforcement of the liquidator and redeemer whitelists.
type Whitelists struct {
	EnforceLiquidators bool     `toml:"EnforceLiquidators"`
	EnforceRedeemers   bool     `toml:"EnforceRedeemers"`
	Liquidators        []string `toml:"Liquidators"`
	Redeemers          []string `toml:"Redeemers"`
}

// Pauses halts individual modules.
type Pauses struct {
	Vessels   bool `toml:"Vessels"`
	Stability bool `toml:"Stability"`
}

// IsPaused reports whether the named module is halted.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "vessels":
		return p.Vessels
	case "stability":
		return p.Stability
	default:
		return false
	}
}

// RateLimit bounds requests per client on the read-only API. A zero rate
// disables limiting.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

func (r *RateLimit) normalize() {
	if r.RequestsPerSecond > 0 && r.Burst == 0 {
		r.Burst = int(r.RequestsPerSecond)
		if r.Burst < 1 {
			r.Burst = 1
		}
	}
}
