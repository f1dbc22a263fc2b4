// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package connctx holds the per-connection deadline context: urgency
// level, the fairness accounting window, and the stream arena the rest
// of the engine indexes by stream ID. One Context exists per QUIC
// connection that negotiated the deadline-aware-streams capability.
package connctx

import (
	"time"

	"github.com/katzenpost/deadlinequic/deadline"
)

// Urgency is the coarse urgency classification derived from the
// smallest slack across all enabled, non-empty deadline streams.
type Urgency uint8

const (
	UrgencyNone Urgency = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "none"
	}
}

// FairnessWindow default width, per spec §3.
const DefaultWindowWidth = 100 * time.Millisecond

// DefaultMaxStarvationTime is the age at which a starving deadline-free
// stream preempts, per spec §6.
const DefaultMaxStarvationTime = 10 * time.Millisecond

// Context aggregates everything the scheduler, expiry engine, and CC
// coupler need to know about one connection. Streams are looked up by
// ID from the Streams map; nothing here holds a pointer back into a
// Stream so the arena can be walked or GC'd freely (SPEC_FULL §3).
type Context struct {
	Streams map[uint64]*deadline.State

	HasDeadlineStreams bool
	Urgency            Urgency
	DeadlinePacingGain float64

	// Fairness window state, spec §3.
	WindowStart           time.Time
	WindowWidth           time.Duration
	DeadlineBytesSent     uint64
	NonDeadlineBytesSent  uint64
	MinNonDeadlineShare   float64
	MaxStarvationTime     time.Duration
	LastNonDeadlineScheduled time.Time

	// SmoothedRTT is supplied by the host CC each tick; used for
	// urgency classification and for the urgency_thresholds knob.
	SmoothedRTT time.Duration

	UrgencyThresholds UrgencyThresholds

	// DeadlineFreeLastScheduled tracks, per deadline-free stream id, the
	// last time it won scheduling. A deadline-free stream has either no
	// deadline.State or a disabled one (engine.Conn.AddToStream attaches
	// State to every stream it queues data on), and this map is where
	// its scheduling time is kept either way; the scheduler's fairness-correction round robin (spec
	// §4.4 step 2) reads it to rotate among several ready,
	// deadline-free streams instead of always re-picking the same one.
	DeadlineFreeLastScheduled map[uint64]time.Time
}

// UrgencyThresholds are multipliers of smoothed RTT used to classify
// slack into an Urgency level, per spec §4.3's table.
type UrgencyThresholds struct {
	Medium float64 // slack < Medium*RTT -> at least Medium
	High   float64 // slack < High*RTT -> at least High
}

// DefaultUrgencyThresholds matches spec §4.3's table: 1x and 3x RTT.
var DefaultUrgencyThresholds = UrgencyThresholds{Medium: 3.0, High: 1.0}

// New creates a fresh connection context with spec-default fairness
// parameters. Created only after a handshake that negotiated the
// capability on both sides (engine enforces that precondition).
func New(now time.Time) *Context {
	return &Context{
		Streams:                   make(map[uint64]*deadline.State),
		WindowStart:               now,
		WindowWidth:               DefaultWindowWidth,
		MinNonDeadlineShare:       0.0,
		MaxStarvationTime:         DefaultMaxStarvationTime,
		UrgencyThresholds:         DefaultUrgencyThresholds,
		DeadlineFreeLastScheduled: make(map[uint64]time.Time),
	}
}

// SetFairness applies the min_non_deadline_share / max_starvation_time
// knobs from the Library API (spec §6).
func (c *Context) SetFairness(minNonDeadlineShare float64, maxStarvation time.Duration) {
	c.MinNonDeadlineShare = minNonDeadlineShare
	c.MaxStarvationTime = maxStarvation
}

// MaybeRollWindow advances the fairness window if now is past
// WindowStart+WindowWidth, resetting the byte counters (spec §3
// invariant).
func (c *Context) MaybeRollWindow(now time.Time) {
	if now.Sub(c.WindowStart) >= c.WindowWidth {
		c.WindowStart = now
		c.DeadlineBytesSent = 0
		c.NonDeadlineBytesSent = 0
	}
}

// NonDeadlineShare returns the fraction of window bytes sent on
// deadline-free streams, or 1.0 if no bytes have been sent yet (an
// empty window should never look starved).
func (c *Context) NonDeadlineShare() float64 {
	total := c.DeadlineBytesSent + c.NonDeadlineBytesSent
	if total == 0 {
		return 1.0
	}
	return float64(c.NonDeadlineBytesSent) / float64(total)
}

// RecordSent updates the fairness window counters after the packet
// engine reports bytes actually transmitted on behalf of a selection.
func (c *Context) RecordSent(now time.Time, streamID uint64, n uint64) {
	c.MaybeRollWindow(now)
	if st, ok := c.Streams[streamID]; ok && st.Enabled {
		c.DeadlineBytesSent += n
	} else {
		c.NonDeadlineBytesSent += n
		c.LastNonDeadlineScheduled = now
		c.DeadlineFreeLastScheduled[streamID] = now
	}
}

// AttachStream lazily creates deadline state for a stream, or returns
// the existing one. engine.Conn calls it when a deadline is asserted on
// the stream, locally or by the peer, and also the first time data is
// queued on it; a stream with no deadline keeps a disabled State.
func (c *Context) AttachStream(streamID uint64) *deadline.State {
	if st, ok := c.Streams[streamID]; ok {
		return st
	}
	st := deadline.NewState(streamID)
	c.Streams[streamID] = st
	return st
}

// Stream looks up existing deadline state without creating it.
func (c *Context) Stream(streamID uint64) (*deadline.State, bool) {
	st, ok := c.Streams[streamID]
	return st, ok
}

// CloseStream destroys a stream's deadline state (spec §3 lifecycle).
func (c *Context) CloseStream(streamID uint64) {
	delete(c.Streams, streamID)
	c.recomputeHasDeadlineStreams()
}

func (c *Context) recomputeHasDeadlineStreams() {
	for _, st := range c.Streams {
		if st.Enabled && !st.Closed {
			c.HasDeadlineStreams = true
			return
		}
	}
	c.HasDeadlineStreams = false
}

// RecomputeUrgency derives Urgency from the minimum remaining slack
// across all enabled, non-empty deadline streams, per spec §4.3's
// table. Called on every scheduler tick and every chunk enqueue.
func (c *Context) RecomputeUrgency(now time.Time) {
	c.recomputeHasDeadlineStreams()
	if !c.HasDeadlineStreams {
		c.Urgency = UrgencyNone
		return
	}

	var minSlack time.Duration
	found := false
	pastDeadlineHardWithData := false

	for _, st := range c.Streams {
		if !st.Enabled || st.Closed || !st.HasReadyData() {
			continue
		}
		slack := st.Slack(now)
		if !found || slack < minSlack {
			minSlack = slack
			found = true
		}
		if slack < 0 && st.Mode == deadline.ModeHard {
			pastDeadlineHardWithData = true
		}
	}

	if !found {
		c.Urgency = UrgencyNone
		return
	}

	rtt := c.SmoothedRTT
	if rtt <= 0 {
		rtt = time.Millisecond // avoid division weirdness on an unset RTT
	}

	switch {
	case pastDeadlineHardWithData:
		c.Urgency = UrgencyCritical
	case minSlack < time.Duration(float64(rtt)*c.UrgencyThresholds.High):
		c.Urgency = UrgencyHigh
	case minSlack < time.Duration(float64(rtt)*c.UrgencyThresholds.Medium):
		c.Urgency = UrgencyMedium
	default:
		c.Urgency = UrgencyLow
	}
}

// Snapshot is a read-only view of a Context for metrics/tests, so
// callers never get a handle that lets them mutate fairness state
// outside the engine's own turn (SPEC_FULL §4.2/4.3 [ADD]).
type Snapshot struct {
	Urgency              Urgency
	HasDeadlineStreams   bool
	DeadlineBytesSent    uint64
	NonDeadlineBytesSent uint64
	NonDeadlineShare     float64
}

// Snapshot returns a copy of the externally-relevant context fields.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		Urgency:              c.Urgency,
		HasDeadlineStreams:   c.HasDeadlineStreams,
		DeadlineBytesSent:    c.DeadlineBytesSent,
		NonDeadlineBytesSent: c.NonDeadlineBytesSent,
		NonDeadlineShare:     c.NonDeadlineShare(),
	}
}
