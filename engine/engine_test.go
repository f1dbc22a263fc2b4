// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/deadlinequic/cc"
	"github.com/katzenpost/deadlinequic/connctx"
	"github.com/katzenpost/deadlinequic/deadline"
	"github.com/katzenpost/deadlinequic/wire"
)

type recordingCallbacks struct {
	delivered [][]byte
	gaps      []Gap
	fins      []uint64
}

func (r *recordingCallbacks) OnStreamData(streamID uint64, data []byte, offset uint64) {
	r.delivered = append(r.delivered, append([]byte(nil), data...))
}
func (r *recordingCallbacks) OnStreamDataDiscarded(gap Gap) { r.gaps = append(r.gaps, gap) }
func (r *recordingCallbacks) OnStreamFin(streamID uint64)   { r.fins = append(r.fins, streamID) }
func (r *recordingCallbacks) OnStreamReset(uint64, error)   {}

type passthroughHooks struct{}

func (passthroughHooks) OnUrgencyChange(connctx.Urgency)                 {}
func (passthroughHooks) PacingGainAdjust(baseGain float64, _ bool) float64 { return baseGain }
func (passthroughHooks) CwndAdjust(baseCwnd, _ uint64, _ time.Time) uint64 { return baseCwnd }
func (passthroughHooks) ShouldSkipProbePhase(string, time.Time) bool       { return false }
func (passthroughHooks) UpdateFairness(uint64, bool, time.Time)            {}

func newTestConn(now time.Time) *Conn {
	return New(now, Options{
		CCHooks:    passthroughHooks{},
		Caps:       cc.DefaultCaps,
		Negotiated: true,
	})
}

func TestSetStreamDeadlineRequiresNegotiation(t *testing.T) {
	now := time.Now()
	c := New(now, Options{CCHooks: passthroughHooks{}, Caps: cc.DefaultCaps, Negotiated: false})
	err := c.SetStreamDeadline(now, 4, 100, deadline.ModeSoft)
	var derr *deadline.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, deadline.ErrCapabilityDisabled, derr.Kind)
}

func TestHardDeadlineDropsOnPrepareSend(t *testing.T) {
	now := time.Now()
	c := newTestConn(now)
	require.NoError(t, c.SetStreamDeadline(now, 4, 10, deadline.ModeHard))
	c.AddToStream(now, 4, []byte("0123456789"), false)

	later := now.Add(20 * time.Millisecond)
	chunk, drops := c.PrepareSend(later, 4)
	require.Nil(t, chunk)
	require.Len(t, drops, 1)
	require.Equal(t, uint64(0), drops[0].Offset)
	require.Equal(t, uint64(10), drops[0].Length)
}

func TestSoftDeadlineStillSendsAfterExpiry(t *testing.T) {
	now := time.Now()
	c := newTestConn(now)
	require.NoError(t, c.SetStreamDeadline(now, 4, 10, deadline.ModeSoft))
	c.AddToStream(now, 4, []byte("late but deliverable"), false)

	later := now.Add(20 * time.Millisecond)
	chunk, drops := c.PrepareSend(later, 4)
	require.Empty(t, drops)
	require.NotNil(t, chunk)
	require.Equal(t, "late but deliverable", string(chunk.Remaining()))
}

func TestReceiverAdvancesAcrossDroppedRange(t *testing.T) {
	now := time.Now()
	c := newTestConn(now)
	cb := &recordingCallbacks{}
	c.callbacks = cb

	c.DeliverStreamData(4, 0, []byte("hello "), false)
	require.Equal(t, [][]byte{[]byte("hello ")}, cb.delivered)

	// Peer reports bytes [6,16) on this stream were dropped.
	require.NoError(t, c.HandleStreamDataDroppedFrame(now, &wire.StreamDataDroppedFrame{StreamID: 4, Offset: 6, Length: 10}))
	require.Len(t, cb.gaps, 1)
	require.Equal(t, uint64(6), cb.gaps[0].Offset)

	// Data resuming exactly at offset 16 must be delivered immediately,
	// since the drop already advanced the delivery cursor past the gap.
	c.DeliverStreamData(4, 16, []byte("world"), false)
	require.Equal(t, [][]byte{[]byte("hello "), []byte("world")}, cb.delivered)
}

func TestTickSchedulesEarliestDeadlineFirst(t *testing.T) {
	now := time.Now()
	c := newTestConn(now)
	require.NoError(t, c.SetStreamDeadline(now, 4, 1000, deadline.ModeSoft))
	c.AddToStream(now, 4, []byte("slow"), false)
	require.NoError(t, c.SetStreamDeadline(now, 8, 10, deadline.ModeSoft))
	c.AddToStream(now, 8, []byte("urgent"), false)

	sel, _ := c.Tick(now, ReadyStreamIDs{4, 8})
	require.NotNil(t, sel)
	require.Equal(t, uint64(8), sel.StreamID)
}
