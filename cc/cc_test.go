// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package cc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/deadlinequic/connctx"
)

type recordingHooks struct {
	pacingGain float64
	cwnd       uint64
	skip       bool
	urgencies  []connctx.Urgency
}

func (h *recordingHooks) OnUrgencyChange(level connctx.Urgency) { h.urgencies = append(h.urgencies, level) }
func (h *recordingHooks) PacingGainAdjust(baseGain float64, inProbeUp bool) float64 { return h.pacingGain }
func (h *recordingHooks) CwndAdjust(baseCwnd, bdp uint64, now time.Time) uint64     { return h.cwnd }
func (h *recordingHooks) ShouldSkipProbePhase(phase string, now time.Time) bool     { return h.skip }
func (h *recordingHooks) UpdateFairness(bytesSent uint64, isDeadlineBoosted bool, now time.Time) {}

func TestPacingGainCappedAtCritical(t *testing.T) {
	hooks := &recordingHooks{pacingGain: 3.0}
	c := New(hooks, DefaultCaps)
	gain := c.PacingGain(1.0, connctx.UrgencyCritical, false)
	require.Equal(t, DefaultCaps.PacingGainCapCritical, gain)
}

func TestPacingGainCappedAtHigh(t *testing.T) {
	hooks := &recordingHooks{pacingGain: 3.0}
	c := New(hooks, DefaultCaps)
	gain := c.PacingGain(1.0, connctx.UrgencyHigh, false)
	require.Equal(t, DefaultCaps.PacingGainCapHigh, gain)
}

func TestPacingGainNotBoostedDuringProbeUp(t *testing.T) {
	hooks := &recordingHooks{pacingGain: 3.0}
	c := New(hooks, DefaultCaps)
	gain := c.PacingGain(1.0, connctx.UrgencyCritical, true)
	require.Equal(t, 1.0, gain)
}

func TestPacingGainUnaffectedAtLowUrgency(t *testing.T) {
	hooks := &recordingHooks{pacingGain: 3.0}
	c := New(hooks, DefaultCaps)
	gain := c.PacingGain(1.0, connctx.UrgencyLow, false)
	require.Equal(t, 1.0, gain)
}

func TestCwndBoostOncePerRTT(t *testing.T) {
	hooks := &recordingHooks{cwnd: 100000}
	c := New(hooks, DefaultCaps)
	c.SetRTT(20 * time.Millisecond)

	now := time.Now()
	boosted := c.CwndBoost(1000, 10000, connctx.UrgencyHigh, now)
	require.Equal(t, uint64(15000), boosted) // capped at 1.5xBDP

	// A second boost within the same RTT must not re-fire.
	again := c.CwndBoost(1000, 10000, connctx.UrgencyHigh, now.Add(5*time.Millisecond))
	require.Equal(t, uint64(1000), again)

	// After a full RTT has passed, boosting is allowed again.
	later := c.CwndBoost(1000, 10000, connctx.UrgencyHigh, now.Add(25*time.Millisecond))
	require.Equal(t, uint64(15000), later)
}

func TestCwndBoostNotAppliedBelowHighUrgency(t *testing.T) {
	hooks := &recordingHooks{cwnd: 100000}
	c := New(hooks, DefaultCaps)
	require.Equal(t, uint64(1000), c.CwndBoost(1000, 10000, connctx.UrgencyMedium, time.Now()))
}

func TestSkipProbeDownGatedByUrgency(t *testing.T) {
	hooks := &recordingHooks{skip: true}
	c := New(hooks, DefaultCaps)
	require.False(t, c.SkipProbeDown("down", connctx.UrgencyLow, time.Now()))
	require.True(t, c.SkipProbeDown("down", connctx.UrgencyCritical, time.Now()))
}

func TestAllowBoostRespectsFairnessFraction(t *testing.T) {
	now := time.Now()
	ctx := connctx.New(now)
	ctx.SetFairness(0.5, time.Second)
	ctx.RecordSent(now, 999, 1000) // non-deadline stream, since 999 never attached

	hooks := &recordingHooks{}
	c := New(hooks, DefaultCaps)
	require.True(t, c.AllowBoost(ctx, 100))

	c.RecordFairness(ctx, 900, true, now)
	require.False(t, c.AllowBoost(ctx, 100))
}

func TestAllowBoostResetsAcrossFairnessWindowRollover(t *testing.T) {
	now := time.Now()
	ctx := connctx.New(now)
	ctx.SetFairness(0.5, time.Second)
	ctx.RecordSent(now, 999, 1000)

	hooks := &recordingHooks{}
	c := New(hooks, DefaultCaps)
	c.RecordFairness(ctx, 900, true, now)
	require.False(t, c.AllowBoost(ctx, 100))

	// Once the fairness window rolls over, the stale boosted-byte tally
	// must not carry forward and keep suppressing boosts forever.
	later := now.Add(connctx.DefaultWindowWidth + time.Millisecond)
	ctx.RecordSent(later, 999, 1000)
	require.True(t, c.AllowBoost(ctx, 100))
}
