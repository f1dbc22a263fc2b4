// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package cc couples the deadline engine to a host congestion
// controller through the abstract hooks spec §4.7 defines. The
// congestion controller's own implementation is out of scope (spec
// §1); this package only enforces the caps and per-RTT bookkeeping the
// core imposes on whatever CC is plugged in.
package cc

import (
	"time"

	"github.com/katzenpost/deadlinequic/connctx"
)

// Hooks is the interface a host congestion controller must implement
// so the deadline engine can influence pacing and cwnd within bounds.
// Abstract per spec §4.7 -- named by role, not by a concrete CC's API.
type Hooks interface {
	OnUrgencyChange(level connctx.Urgency)
	PacingGainAdjust(baseGain float64, inProbeUp bool) float64
	CwndAdjust(baseCwnd, bdp uint64, now time.Time) uint64
	ShouldSkipProbePhase(phase string, now time.Time) bool
	UpdateFairness(bytesSent uint64, isDeadlineBoosted bool, now time.Time)
}

// Caps bounds the boosts the core will ever request, per spec §4.7 and
// the pacing_boost_cap / cwnd_boost_cap config knobs.
type Caps struct {
	PacingGainCapCritical float64 // default 1.5
	PacingGainCapHigh     float64 // default 1.25
	CwndBoostCapBDP       float64 // default 1.5 (x BDP)
}

// DefaultCaps matches spec §4.7's stated limits.
var DefaultCaps = Caps{
	PacingGainCapCritical: 1.5,
	PacingGainCapHigh:     1.25,
	CwndBoostCapBDP:       1.5,
}

// Coupler is the core's side of the hook relationship: it decides
// whether/how much to boost, enforces "at most once per RTT" for cwnd,
// and enforces the fairness-window cap on boosted-byte fraction.
type Coupler struct {
	caps  Caps
	hooks Hooks

	lastCwndBoost time.Time
	rtt           time.Duration

	boostedWindowStart   time.Time
	boostedBytesInWindow uint64
}

// New creates a Coupler bound to hooks with the given caps.
func New(hooks Hooks, caps Caps) *Coupler {
	return &Coupler{caps: caps, hooks: hooks}
}

// SetRTT updates the smoothed RTT used to gate the once-per-RTT cwnd
// boost rule.
func (c *Coupler) SetRTT(rtt time.Duration) { c.rtt = rtt }

// NotifyUrgency forwards the current urgency level to the host CC.
func (c *Coupler) NotifyUrgency(level connctx.Urgency) {
	c.hooks.OnUrgencyChange(level)
}

// PacingGain returns the (possibly boosted) pacing gain for the
// current urgency level, capped per spec §4.7: <=1.5 at Critical,
// <=1.25 at High, 1.0 otherwise, and never boosted while the CC
// reports it is already in its own upward-probing phase.
func (c *Coupler) PacingGain(baseGain float64, urgency connctx.Urgency, inProbeUp bool) float64 {
	if inProbeUp {
		return baseGain
	}

	var cap float64
	switch urgency {
	case connctx.UrgencyCritical:
		cap = c.caps.PacingGainCapCritical
	case connctx.UrgencyHigh:
		cap = c.caps.PacingGainCapHigh
	default:
		return baseGain
	}

	gain := c.hooks.PacingGainAdjust(baseGain, inProbeUp)
	if gain > cap || gain < 0 {
		gain = cap // CongestionFeedback error kind: cap silently (spec §7)
	}
	if gain < baseGain {
		gain = baseGain
	}
	return gain
}

// CwndBoost returns the (possibly boosted) cwnd, enforcing the
// at-most-1.5xBDP cap, the urgency>=High gate, and the once-per-RTT
// limit (spec §4.7, P6).
func (c *Coupler) CwndBoost(baseCwnd, bdp uint64, urgency connctx.Urgency, now time.Time) uint64 {
	if urgency != connctx.UrgencyHigh && urgency != connctx.UrgencyCritical {
		return baseCwnd
	}
	if c.rtt > 0 && !c.lastCwndBoost.IsZero() && now.Sub(c.lastCwndBoost) < c.rtt {
		return baseCwnd // already boosted once this RTT
	}

	boosted := c.hooks.CwndAdjust(baseCwnd, bdp, now)
	cap := uint64(float64(bdp) * c.caps.CwndBoostCapBDP)
	if boosted > cap {
		boosted = cap // CongestionFeedback: cap silently
	}
	if boosted < baseCwnd {
		return baseCwnd
	}
	c.lastCwndBoost = now
	return boosted
}

// SkipProbeDown reports whether a down-probing phase should be skipped
// at the given urgency, per spec §4.7.
func (c *Coupler) SkipProbeDown(phase string, urgency connctx.Urgency, now time.Time) bool {
	if urgency != connctx.UrgencyHigh && urgency != connctx.UrgencyCritical {
		return false
	}
	return c.hooks.ShouldSkipProbePhase(phase, now)
}

// RecordFairness updates the fairness-window boosted-byte accounting
// and forwards to the host hook. If boosting this tick would push the
// boosted fraction above 1-min_non_deadline_share, the boost for this
// tick must be suppressed by the caller before calling RecordFairness
// with isDeadlineBoosted=true; AllowBoost answers that question ahead
// of time.
func (c *Coupler) RecordFairness(ctx *connctx.Context, bytesSent uint64, isDeadlineBoosted bool, now time.Time) {
	ctx.MaybeRollWindow(now)
	c.rollBoostWindow(ctx)
	if isDeadlineBoosted {
		c.boostedBytesInWindow += bytesSent
	}
	c.hooks.UpdateFairness(bytesSent, isDeadlineBoosted, now)
}

// rollBoostWindow resets the boosted-byte tally whenever ctx's fairness
// window has rolled over, so AllowBoost measures the current window
// only and never accumulates across rollovers.
func (c *Coupler) rollBoostWindow(ctx *connctx.Context) {
	if !ctx.WindowStart.Equal(c.boostedWindowStart) {
		c.boostedWindowStart = ctx.WindowStart
		c.boostedBytesInWindow = 0
	}
}

// AllowBoost reports whether boosting the current tick's bytes would
// keep the boosted-byte fraction within 1-min_non_deadline_share over
// the fairness window (spec §4.7).
func (c *Coupler) AllowBoost(ctx *connctx.Context, prospectiveBytes uint64) bool {
	c.rollBoostWindow(ctx)
	total := ctx.DeadlineBytesSent + ctx.NonDeadlineBytesSent
	if total == 0 {
		return true
	}
	fraction := float64(c.boostedBytesInWindow+prospectiveBytes) / float64(total+prospectiveBytes)
	return fraction <= 1-ctx.MinNonDeadlineShare
}
