// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package engine

import (
	"time"

	"github.com/katzenpost/deadlinequic/deadline"
	"github.com/katzenpost/deadlinequic/scheduler"
	"github.com/katzenpost/deadlinequic/wire"
)

// ReadyStreamIDs is supplied by the host packet engine every tick: the
// set of stream IDs that currently have unsent application bytes
// buffered, deadline-bearing or not.
type ReadyStreamIDs []uint64

// Tick runs one scheduler turn per spec §5's ordering guarantee:
// expiry runs before selection. It returns the chosen stream (or nil)
// along with any STREAM_DATA_DROPPED frames the expiry pass produced,
// which the caller must queue ahead of any STREAM frame for the same
// bytes.
func (c *Conn) Tick(now time.Time, ready ReadyStreamIDs) (*scheduler.Selection, []*wire.StreamDataDroppedFrame) {
	c.ctx.RecomputeUrgency(now)

	drops := c.expiry.Tick(now, c.ctx)
	for _, d := range drops {
		c.pendingDrops = append(c.pendingDrops, d.Frame)
	}

	readyStreams := make([]scheduler.ReadyStream, 0, len(ready))
	for _, sid := range ready {
		st, _ := c.ctx.Stream(sid)
		if st != nil && !st.HasReadyData() {
			continue
		}
		readyStreams = append(readyStreams, scheduler.ReadyStream{
			StreamID:     sid,
			Deadline:     st,
			WaitingSince: c.waitingSince[sid],
		})
	}

	sel := c.scheduler.Select(now, c.ctx, readyStreams)
	frames := c.pendingDrops
	c.pendingDrops = nil
	return sel, frames
}

// PrepareSend runs the just-before-handoff expiry check for streamID
// (spec §4.5 trigger (ii)) and returns the next not-yet-sent chunk, or
// nil if the stream has nothing left ready after expiry pruning.
func (c *Conn) PrepareSend(now time.Time, streamID uint64) (*deadline.Chunk, []*wire.StreamDataDroppedFrame) {
	st, ok := c.ctx.Stream(streamID)
	if !ok {
		return nil, nil
	}
	drops := c.expiry.BeforeSend(now, st)
	var frames []*wire.StreamDataDroppedFrame
	for _, d := range drops {
		frames = append(frames, d.Frame)
	}
	for _, chunk := range st.Queue {
		if len(chunk.Remaining()) > 0 {
			return chunk, frames
		}
	}
	return nil, frames
}

// RecordSent reports n bytes transmitted for streamID back to the
// fairness window and updates the scheduler's last-scheduled clock.
func (c *Conn) RecordSent(now time.Time, streamID uint64, n uint64, chunk *deadline.Chunk) {
	c.ctx.RecordSent(now, streamID, n)
	if chunk != nil {
		chunk.Sent += n
	}
	if st, ok := c.ctx.Stream(streamID); ok {
		st.LastScheduledTime = now
		if !st.Enabled {
			delete(c.waitingSince, streamID)
		}
	}
}
