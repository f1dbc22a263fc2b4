// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/deadlinequic/connctx"
	"github.com/katzenpost/deadlinequic/deadline"
)

func TestHardModeDropsExpiredChunk(t *testing.T) {
	now := time.Now()
	ctx := connctx.New(now)
	st := ctx.AttachStream(4)
	st.SetDeadline(now, 10, deadline.ModeHard)
	st.Enqueue(now, []byte("0123456789"), false)

	e := New(nil)
	later := now.Add(20 * time.Millisecond)
	drops := e.Tick(later, ctx)
	require.Len(t, drops, 1)
	require.Equal(t, uint64(4), drops[0].StreamID)
	require.Equal(t, uint64(0), drops[0].Range.Start)
	require.Equal(t, uint64(10), drops[0].Range.End)
	require.Empty(t, st.Queue)
	require.Equal(t, uint64(10), st.BytesDropped)
	require.Equal(t, uint64(1), st.DeadlinesMissed)
}

func TestHardModePartiallySentChunkDropsOnlyRemainder(t *testing.T) {
	now := time.Now()
	ctx := connctx.New(now)
	st := ctx.AttachStream(4)
	st.SetDeadline(now, 10, deadline.ModeHard)
	c := st.Enqueue(now, []byte("0123456789"), false)
	c.Sent = 4 // bytes [0,4) already handed off before expiry

	e := New(nil)
	later := now.Add(20 * time.Millisecond)
	drops := e.Tick(later, ctx)
	require.Len(t, drops, 1)
	require.Equal(t, uint64(4), drops[0].Range.Start)
	require.Equal(t, uint64(10), drops[0].Range.End)
	require.Equal(t, uint64(6), st.BytesDropped)
}

func TestHardModeLeavesUnexpiredChunksQueued(t *testing.T) {
	now := time.Now()
	ctx := connctx.New(now)
	st := ctx.AttachStream(4)
	st.SetDeadline(now, 1000, deadline.ModeHard)
	st.Enqueue(now, []byte("abc"), false)

	e := New(nil)
	drops := e.Tick(now, ctx)
	require.Empty(t, drops)
	require.Len(t, st.Queue, 1)
}

func TestSoftModeNeverDropsButCountsMissed(t *testing.T) {
	now := time.Now()
	ctx := connctx.New(now)
	st := ctx.AttachStream(4)
	st.SetDeadline(now, 10, deadline.ModeSoft)
	st.Enqueue(now, []byte("abc"), false)

	e := New(nil)
	later := now.Add(20 * time.Millisecond)
	drops := e.Tick(later, ctx)
	require.Empty(t, drops)
	require.Len(t, st.Queue, 1)
	require.Equal(t, uint64(1), st.DeadlinesMissed)
}

func TestDeadlineExceededLatches(t *testing.T) {
	now := time.Now()
	st := deadline.NewState(4)
	st.SetDeadline(now, 5, deadline.ModeHard)
	st.Enqueue(now, []byte("x"), false)

	e := New(nil)
	later := now.Add(10 * time.Millisecond)
	e.BeforeSend(later, st)
	require.True(t, st.DeadlineExceeded)
}

func TestClosedOrDisabledStreamSkipped(t *testing.T) {
	now := time.Now()
	st := deadline.NewState(4)
	e := New(nil)
	require.Empty(t, e.BeforeSend(now, st)) // never enabled

	st.SetDeadline(now, 10, deadline.ModeHard)
	st.Closed = true
	require.Empty(t, e.BeforeSend(now.Add(time.Second), st))
}
