// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package engine

import (
	"errors"
	"time"

	"github.com/katzenpost/deadlinequic/deadline"
	"github.com/katzenpost/deadlinequic/wire"
)

// ErrProtocolViolation is returned when a DEADLINE_CONTROL or
// STREAM_DATA_DROPPED frame arrives on a connection that never
// negotiated the capability; the caller must close the connection with
// a transport error per spec §7.
var ErrProtocolViolation = errors.New("deadlinequic: received deadline frame without negotiated capability")

// HandleDeadlineControlFrame applies a peer's DEADLINE_CONTROL frame to
// our view of their stream, per spec §4.2: attach state, record mode,
// mark the stream deadline-bearing. It does not send anything back.
func (c *Conn) HandleDeadlineControlFrame(now time.Time, f *wire.DeadlineControlFrame) error {
	if !c.negotiated {
		return ErrProtocolViolation
	}
	st := c.ctx.AttachStream(f.StreamID)
	mode := deadline.ModeSoft
	if f.HasMode {
		mode = fromWireMode(f.Mode)
	}
	st.SetDeadline(now, f.DeadlineMs, mode)
	c.ctx.RecomputeUrgency(now)
	return nil
}

// HandleStreamDataDroppedFrame applies a peer's drop signal, per spec
// §4.5's receiver behavior: the range is recorded, the in-order
// delivery offset advances across it as if it had been received with
// length zero, and a Gap notification is surfaced to the application.
func (c *Conn) HandleStreamDataDroppedFrame(now time.Time, f *wire.StreamDataDroppedFrame) error {
	if !c.negotiated {
		return ErrProtocolViolation
	}
	rs := c.recvStateFor(f.StreamID)
	rs.dropped.Insert(f.Offset, f.Offset+f.Length)
	c.advanceDelivery(f.StreamID, rs)
	c.callbacks.OnStreamDataDiscarded(Gap{StreamID: f.StreamID, Offset: f.Offset, Length: f.Length})
	return nil
}

// DeliverStreamData feeds received, in-order-or-not application bytes
// for streamID at offset into the receive reassembly buffer; bytes
// that complete the in-order run (possibly past previously recorded
// drops) are surfaced via OnStreamData.
func (c *Conn) DeliverStreamData(streamID uint64, offset uint64, data []byte, fin bool) {
	rs := c.recvStateFor(streamID)
	rs.pendingData[offset] = data
	c.advanceDelivery(streamID, rs)
	if fin && uint64(len(rs.pendingData)) == 0 {
		c.callbacks.OnStreamFin(streamID)
	}
}

func (c *Conn) recvStateFor(streamID uint64) *recvState {
	rs, ok := c.recv[streamID]
	if !ok {
		rs = newRecvState()
		c.recv[streamID] = rs
	}
	return rs
}

// advanceDelivery walks forward from deliveredUpTo, surfacing any
// contiguous run of either buffered data or a previously-recorded
// dropped range (treated as a zero-length received segment per spec
// §4.5), so P2 (bytes surfaced + bytes dropped == consumed offset)
// holds at every point in time.
func (c *Conn) advanceDelivery(streamID uint64, rs *recvState) {
	for {
		// A dropped range starting exactly at our delivery point
		// advances past it with no app-visible bytes beyond the gap
		// notification already raised by the caller.
		advancedByDrop := false
		for _, r := range rs.dropped.Ranges() {
			if r.Start == rs.deliveredUpTo {
				rs.deliveredUpTo = r.End
				advancedByDrop = true
				break
			}
		}
		if advancedByDrop {
			continue
		}

		data, ok := rs.pendingData[rs.deliveredUpTo]
		if !ok {
			return
		}
		delete(rs.pendingData, rs.deliveredUpTo)
		c.callbacks.OnStreamData(streamID, data, rs.deliveredUpTo)
		rs.deliveredUpTo += uint64(len(data))
	}
}
