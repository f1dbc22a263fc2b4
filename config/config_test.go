// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/deadlinequic/cc"
	"github.com/katzenpost/deadlinequic/connctx"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 0.0, cfg.Fairness.MinNonDeadlineShare)
	require.Equal(t, uint64(connctx.DefaultMaxStarvationTime/time.Millisecond), cfg.Fairness.MaxStarvationMs)
	require.Equal(t, connctx.DefaultUrgencyThresholds.Medium, cfg.UrgencyThresholds.MediumRTTMultiple)
	require.Equal(t, connctx.DefaultUrgencyThresholds.High, cfg.UrgencyThresholds.HighRTTMultiple)
}

func TestLoadFileOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[fairness]
min_non_deadline_share = 0.2

[metrics]
enabled = true
listen_addr = "127.0.0.1:9999"
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 0.2, cfg.Fairness.MinNonDeadlineShare)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "127.0.0.1:9999", cfg.Metrics.ListenAddr)
	// Untouched sections keep their defaults.
	require.Equal(t, "NOTICE", cfg.Logging.Level)
	require.Equal(t, cc.DefaultCaps.PacingGainCapCritical, cfg.CCBoost.PacingGainCapCritical)
}

func TestApplyPushesFairnessAndThresholds(t *testing.T) {
	cfg := Default()
	cfg.Fairness.MinNonDeadlineShare = 0.3
	cfg.Fairness.MaxStarvationMs = 25
	cfg.UrgencyThresholds.MediumRTTMultiple = 4.0

	ctx := connctx.New(time.Now())
	cfg.Apply(ctx)

	require.Equal(t, 0.3, ctx.MinNonDeadlineShare)
	require.Equal(t, 25*time.Millisecond, ctx.MaxStarvationTime)
	require.Equal(t, 4.0, ctx.UrgencyThresholds.Medium)
}
