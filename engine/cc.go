// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package engine

import "time"

// PacingGain returns the current urgency-adjusted pacing gain for
// baseGain, per spec §4.7, and notifies the host CC of the urgency
// level change in the same call so callers don't need a separate hook.
func (c *Conn) PacingGain(now time.Time, baseGain float64, inProbeUp bool) float64 {
	c.cc.NotifyUrgency(c.ctx.Urgency)
	return c.cc.PacingGain(baseGain, c.ctx.Urgency, inProbeUp)
}

// CwndBoost returns the current urgency-adjusted cwnd for baseCwnd
// given bdp, gated by the fairness window via AllowBoost and by the
// once-per-RTT rule inside cc.Coupler.
func (c *Conn) CwndBoost(now time.Time, baseCwnd, bdp uint64) uint64 {
	if !c.cc.AllowBoost(c.ctx, baseCwnd) {
		return baseCwnd
	}
	boosted := c.cc.CwndBoost(baseCwnd, bdp, c.ctx.Urgency, now)
	c.cc.RecordFairness(c.ctx, boosted-baseCwnd, boosted > baseCwnd, now)
	return boosted
}

// SkipProbeDown reports whether the host CC's down-probing phase
// should be skipped this tick, per spec §4.7.
func (c *Conn) SkipProbeDown(now time.Time, phase string) bool {
	return c.cc.SkipProbeDown(phase, c.ctx.Urgency, now)
}

// SetSmoothedRTT feeds the connection's current smoothed RTT into both
// the urgency classifier and the CC coupler's once-per-RTT gate.
func (c *Conn) SetSmoothedRTT(rtt time.Duration) {
	c.ctx.SmoothedRTT = rtt
	c.cc.SetRTT(rtt)
}
