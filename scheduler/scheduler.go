// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package scheduler implements the earliest-deadline-first stream
// scheduler: given the set of streams with data ready, it picks the
// next one to serve, honoring EDF, starvation prevention, and the
// deadline-free bandwidth share, per spec §4.4.
package scheduler

import (
	"sort"
	"time"

	"github.com/katzenpost/deadlinequic/connctx"
	"github.com/katzenpost/deadlinequic/core/metrics"
	"github.com/katzenpost/deadlinequic/deadline"
)

// Reason records why a given stream was chosen, for metrics and for
// the P4 property test to assert against.
type Reason string

const (
	ReasonStarvation    Reason = "starvation"
	ReasonFairnessCorrection Reason = "fairness_correction"
	ReasonEDF           Reason = "edf"
	ReasonOldestWaiting  Reason = "oldest_waiting"
)

// Selection is the scheduler's verdict for one tick.
type Selection struct {
	StreamID uint64
	Reason   Reason
}

// ReadyStream is the minimal view the scheduler needs of a
// ready-to-send stream: its deadline state (nil for deadline-free
// streams) and how long it has been waiting without being scheduled.
type ReadyStream struct {
	StreamID uint64
	Deadline *deadline.State // nil or disabled if the stream has no deadline
	WaitingSince time.Time
}

// Scheduler holds no state beyond what Context already tracks; Select
// is a pure function of its inputs except for the bookkeeping updates
// it applies to ctx and the chosen stream.
type Scheduler struct {
	metrics *metrics.Metrics
}

// New creates a Scheduler. m may be nil in tests.
func New(m *metrics.Metrics) *Scheduler {
	return &Scheduler{metrics: m}
}

// Select implements spec §4.4's four-step selection rule over ready,
// returning nil if nothing is ready. now is used for starvation age
// and urgency-adjacent comparisons; ctx supplies fairness window state.
func (s *Scheduler) Select(now time.Time, ctx *connctx.Context, ready []ReadyStream) *Selection {
	if len(ready) == 0 {
		return nil
	}
	ctx.MaybeRollWindow(now)

	var deadlineFree, deadlineStreams []ReadyStream
	for _, r := range ready {
		if r.Deadline != nil && r.Deadline.Enabled && !r.Deadline.Closed {
			deadlineStreams = append(deadlineStreams, r)
		} else {
			deadlineFree = append(deadlineFree, r)
		}
	}

	// Step 1: starvation override.
	if sel := s.selectStarving(now, ctx, deadlineFree); sel != nil {
		return sel
	}

	// Step 2: fairness correction.
	if len(deadlineFree) > 0 && ctx.NonDeadlineShare() < ctx.MinNonDeadlineShare {
		sel := s.pickRoundRobin(ctx, deadlineFree)
		s.finish(now, ctx, sel.StreamID, ReasonFairnessCorrection)
		return sel
	}

	// Step 3: EDF among ready deadline streams.
	if len(deadlineStreams) > 0 {
		winner := edfWinner(deadlineStreams)
		s.finish(now, ctx, winner.StreamID, ReasonEDF)
		return &Selection{StreamID: winner.StreamID, Reason: ReasonEDF}
	}

	// Step 4: oldest-waiting deadline-free stream.
	if len(deadlineFree) > 0 {
		sel := s.pickOldest(deadlineFree)
		s.finish(now, ctx, sel.StreamID, ReasonOldestWaiting)
		return sel
	}

	return nil
}

func (s *Scheduler) selectStarving(now time.Time, ctx *connctx.Context, deadlineFree []ReadyStream) *Selection {
	for _, r := range deadlineFree {
		if r.WaitingSince.IsZero() {
			continue
		}
		if now.Sub(r.WaitingSince) > ctx.MaxStarvationTime {
			s.finish(now, ctx, r.StreamID, ReasonStarvation)
			return &Selection{StreamID: r.StreamID, Reason: ReasonStarvation}
		}
	}
	return nil
}

// pickRoundRobin picks among deadline-free streams the one least
// recently scheduled, per ctx.DeadlineFreeLastScheduled, so repeated
// fairness corrections rotate among several ready deadline-free streams
// instead of always re-picking the same one (spec §4.4 step 2). A
// stream never before scheduled (zero time) sorts before any stream
// that has been.
func (s *Scheduler) pickRoundRobin(ctx *connctx.Context, candidates []ReadyStream) *Selection {
	best := candidates[0]
	bestLast := ctx.DeadlineFreeLastScheduled[best.StreamID]
	for _, c := range candidates[1:] {
		last := ctx.DeadlineFreeLastScheduled[c.StreamID]
		if last.Before(bestLast) {
			best = c
			bestLast = last
		}
	}
	return &Selection{StreamID: best.StreamID, Reason: ReasonFairnessCorrection}
}

func (s *Scheduler) pickOldest(candidates []ReadyStream) *Selection {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.WaitingSince.Before(best.WaitingSince) {
			best = c
		}
	}
	return &Selection{StreamID: best.StreamID, Reason: ReasonOldestWaiting}
}

// edfWinner implements the Compare primitive from spec §4.4: smallest
// AbsoluteDeadline wins; ties broken Hard-before-Soft, then smallest
// stream ID.
func edfWinner(candidates []ReadyStream) ReadyStream {
	sorted := make([]ReadyStream, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j])
	})
	return sorted[0]
}

// Less implements the comparator spec §4.4 calls out as the primitive
// tests exercise directly: a deadline stream ranks above a
// deadline-free one; between two deadline streams the smaller
// AbsoluteDeadline wins, ties broken Hard-before-Soft then smallest
// stream ID; between two deadline-free streams ranking is unspecified
// (we fall back to stream ID for determinism).
func Less(a, b ReadyStream) bool {
	aHasDeadline := a.Deadline != nil && a.Deadline.Enabled
	bHasDeadline := b.Deadline != nil && b.Deadline.Enabled

	if aHasDeadline != bHasDeadline {
		return aHasDeadline
	}
	if !aHasDeadline {
		return a.StreamID < b.StreamID
	}
	if !a.Deadline.AbsoluteDeadline.Equal(b.Deadline.AbsoluteDeadline) {
		return a.Deadline.AbsoluteDeadline.Before(b.Deadline.AbsoluteDeadline)
	}
	if (a.Deadline.Mode == deadline.ModeHard) != (b.Deadline.Mode == deadline.ModeHard) {
		return a.Deadline.Mode == deadline.ModeHard
	}
	return a.StreamID < b.StreamID
}

func (s *Scheduler) finish(now time.Time, ctx *connctx.Context, streamID uint64, reason Reason) {
	st, ok := ctx.Streams[streamID]
	if ok {
		st.LastScheduledTime = now
	}
	if !ok || !st.Enabled {
		ctx.DeadlineFreeLastScheduled[streamID] = now
	}
	if s.metrics != nil {
		s.metrics.SchedulerSelections.WithLabelValues(string(reason)).Inc()
	}
}
