// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package expiry implements the expiry & drop engine: it prunes
// expired chunks from Hard-deadline streams, accumulates dropped byte
// ranges, and produces the STREAM_DATA_DROPPED frames the wire codec
// needs to queue. It never touches Soft streams beyond bumping their
// missed-deadline counter, per spec §4.5.
package expiry

import (
	"strconv"
	"time"

	"github.com/katzenpost/deadlinequic/connctx"
	"github.com/katzenpost/deadlinequic/core/metrics"
	"github.com/katzenpost/deadlinequic/deadline"
	"github.com/katzenpost/deadlinequic/wire"
)

// Drop describes one completed drop: the range removed from the send
// queue and the frame that must be queued to tell the peer about it.
type Drop struct {
	StreamID uint64
	Range    deadline.Range
	Frame    *wire.StreamDataDroppedFrame
}

// Engine runs the two triggers spec §4.5 names: once per scheduler
// tick before selection, and once more immediately before a chosen
// chunk is handed to the packet engine.
type Engine struct {
	metrics *metrics.Metrics
}

// New creates an expiry Engine. m may be nil in tests that don't care
// about metrics.
func New(m *metrics.Metrics) *Engine {
	return &Engine{metrics: m}
}

// Tick runs the per-tick expiry pass over every stream in ctx,
// returning the drops produced. Soft streams are left alone except for
// their DeadlinesMissed counter.
func (e *Engine) Tick(now time.Time, ctx *connctx.Context) []Drop {
	var drops []Drop
	for _, st := range ctx.Streams {
		drops = append(drops, e.expireStream(now, st)...)
	}
	return drops
}

// BeforeSend runs the just-before-handoff check for a single stream,
// per spec §4.5 trigger (ii): even if the tick pass already ran, time
// may have advanced between tick and the scheduler's actual send.
func (e *Engine) BeforeSend(now time.Time, st *deadline.State) []Drop {
	return e.expireStream(now, st)
}

func (e *Engine) expireStream(now time.Time, st *deadline.State) []Drop {
	if st.Closed || !st.Enabled {
		return nil
	}

	if st.Mode == deadline.ModeSoft {
		e.markSoftMissed(now, st)
		return nil
	}

	// Hard mode.
	var drops []Drop
	remaining := st.Queue[:0]
	for _, c := range st.Queue {
		if !c.Expired(now) {
			remaining = append(remaining, c)
			continue
		}
		// Edge case: a chunk partially transmitted before expiry keeps
		// its transmitted prefix (already acked or in flight); only the
		// unsent remainder is dropped.
		r := c.RemainingRange()
		if r.Len() == 0 {
			// Fully sent already; nothing to drop, the chunk is just
			// removed from the send queue.
			continue
		}
		st.DroppedRanges.Insert(r.Start, r.End)
		st.BytesDropped += r.Len()
		st.DeadlinesMissed++
		if e.metrics != nil {
			e.metrics.BytesDropped.WithLabelValues(streamLabel(st.StreamID)).Add(float64(r.Len()))
			e.metrics.DeadlinesMissed.WithLabelValues(streamLabel(st.StreamID), "hard").Inc()
		}
		drops = append(drops, Drop{
			StreamID: st.StreamID,
			Range:    r,
			Frame: &wire.StreamDataDroppedFrame{
				StreamID: st.StreamID,
				Offset:   r.Start,
				Length:   r.Len(),
			},
		})
		// Fully consumed: the chunk no longer belongs in the send queue.
	}
	st.Queue = remaining

	// If the stream's absolute deadline itself is past, it stays
	// "deadline exceeded" until explicitly reset or closed; a future
	// SetDeadline call is required to clear it (§4.5, §9 Open Question #2).
	if now.After(st.AbsoluteDeadline) {
		st.DeadlineExceeded = true
	}

	return drops
}

func (e *Engine) markSoftMissed(now time.Time, st *deadline.State) {
	missedAny := false
	for _, c := range st.Queue {
		if c.Expired(now) {
			missedAny = true
			break
		}
	}
	if missedAny {
		st.DeadlinesMissed++
		if e.metrics != nil {
			e.metrics.DeadlinesMissed.WithLabelValues(streamLabel(st.StreamID), "soft").Inc()
		}
	}
}

func streamLabel(id uint64) string {
	return strconv.FormatUint(id, 10)
}
