// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads the engine's tunable knobs from a TOML file,
// following pkg/encoding/toml.go's toml.Unmarshal pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/deadlinequic/cc"
	"github.com/katzenpost/deadlinequic/connctx"
)

// Fairness captures the spec §6 fairness knobs.
type Fairness struct {
	MinNonDeadlineShare float64 `toml:"min_non_deadline_share"`
	MaxStarvationMs     uint64  `toml:"max_starvation_ms"`
}

// UrgencyThresholds captures the spec §6 urgency_thresholds knob.
type UrgencyThresholds struct {
	MediumRTTMultiple float64 `toml:"medium_rtt_multiple"`
	HighRTTMultiple   float64 `toml:"high_rtt_multiple"`
}

// CCBoost captures the spec §6 pacing_boost_cap / cwnd_boost_cap knobs.
type CCBoost struct {
	PacingGainCapCritical float64 `toml:"pacing_gain_cap_critical"`
	PacingGainCapHigh     float64 `toml:"pacing_gain_cap_high"`
	CwndBoostCapBDP       float64 `toml:"cwnd_boost_cap_bdp"`
}

// Logging configures the core/log backend.
type Logging struct {
	Level          string `toml:"level"`
	Timestamps     bool   `toml:"timestamps"`
}

// Metrics configures the prometheus HTTP endpoint.
type Metrics struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// Demo configures the cmd/deadlinequicd and cmd/deadlinequicc binaries.
type Demo struct {
	ListenAddr string `toml:"listen_addr"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
}

// Config is the top-level TOML document.
type Config struct {
	Fairness          Fairness          `toml:"fairness"`
	UrgencyThresholds UrgencyThresholds `toml:"urgency_thresholds"`
	CCBoost           CCBoost           `toml:"cc_boost"`
	Logging           Logging           `toml:"logging"`
	Metrics           Metrics           `toml:"metrics"`
	Demo              Demo              `toml:"demo"`
}

// Default returns a Config populated with spec-default values, so a
// caller can start from Default() and override only what it needs
// before ever touching a file.
func Default() *Config {
	return &Config{
		Fairness: Fairness{
			MinNonDeadlineShare: 0.0,
			MaxStarvationMs:     uint64(connctx.DefaultMaxStarvationTime / time.Millisecond),
		},
		UrgencyThresholds: UrgencyThresholds{
			MediumRTTMultiple: connctx.DefaultUrgencyThresholds.Medium,
			HighRTTMultiple:   connctx.DefaultUrgencyThresholds.High,
		},
		CCBoost: CCBoost{
			PacingGainCapCritical: cc.DefaultCaps.PacingGainCapCritical,
			PacingGainCapHigh:     cc.DefaultCaps.PacingGainCapHigh,
			CwndBoostCapBDP:       cc.DefaultCaps.CwndBoostCapBDP,
		},
		Logging: Logging{Level: "NOTICE", Timestamps: false},
		Metrics: Metrics{Enabled: false, ListenAddr: "127.0.0.1:9100"},
		Demo:    Demo{ListenAddr: "127.0.0.1:4433"},
	}
}

// LoadFile reads and decodes path into a Config seeded with defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Apply pushes the loaded fairness and urgency-threshold knobs into a
// live connctx.Context, so call sites don't need to know the TOML field
// names. The CC boost caps are not applied here; Caps converts them.
func (c *Config) Apply(ctx *connctx.Context) {
	ctx.SetFairness(c.Fairness.MinNonDeadlineShare, time.Duration(c.Fairness.MaxStarvationMs)*time.Millisecond)
	ctx.UrgencyThresholds = connctx.UrgencyThresholds{
		Medium: c.UrgencyThresholds.MediumRTTMultiple,
		High:   c.UrgencyThresholds.HighRTTMultiple,
	}
}

// Caps converts the CCBoost config section into a cc.Caps.
func (c *Config) Caps() cc.Caps {
	return cc.Caps{
		PacingGainCapCritical: c.CCBoost.PacingGainCapCritical,
		PacingGainCapHigh:     c.CCBoost.PacingGainCapHigh,
		CwndBoostCapBDP:       c.CCBoost.CwndBoostCapBDP,
	}
}
