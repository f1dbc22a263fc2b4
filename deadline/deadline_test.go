// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRangeSetInsertCoalesces(t *testing.T) {
	var rs RangeSet
	rs.Insert(10, 20)
	rs.Insert(30, 40)
	require.Equal(t, []Range{{10, 20}, {30, 40}}, rs.Ranges())

	// Touching range merges into one.
	rs.Insert(20, 30)
	require.Equal(t, []Range{{10, 40}}, rs.Ranges())
	require.Equal(t, uint64(30), rs.TotalBytes())
}

func TestRangeSetInsertOverlapping(t *testing.T) {
	var rs RangeSet
	rs.Insert(0, 10)
	rs.Insert(5, 15)
	require.Equal(t, []Range{{0, 15}}, rs.Ranges())

	rs.Insert(100, 110)
	rs.Insert(50, 60)
	rs.Insert(55, 105)
	require.Equal(t, []Range{{0, 15}, {50, 110}}, rs.Ranges())
}

func TestRangeSetInsertEmptyIgnored(t *testing.T) {
	var rs RangeSet
	rs.Insert(10, 10)
	rs.Insert(10, 5)
	require.Empty(t, rs.Ranges())
}

func TestRangeSetContains(t *testing.T) {
	var rs RangeSet
	rs.Insert(10, 20)
	require.True(t, rs.Contains(12, 18))
	require.True(t, rs.Contains(10, 20))
	require.False(t, rs.Contains(5, 15))
	require.False(t, rs.Contains(15, 25))
	require.False(t, rs.Contains(30, 40))
}

func TestSetDeadlineTightenOnly(t *testing.T) {
	now := time.Now()
	s := NewState(4)
	s.SetDeadline(now, 100, ModeHard)
	require.Equal(t, ModeHard, s.Mode)

	// A later Soft assignment must not loosen an existing Hard mode.
	s.SetDeadline(now, 50, ModeSoft)
	require.Equal(t, ModeHard, s.Mode)
	require.Equal(t, uint64(50), s.RelativeMs)
}

func TestEnqueueFreezesChunkDeadline(t *testing.T) {
	now := time.Now()
	s := NewState(4)
	s.SetDeadline(now, 100, ModeHard)
	c1 := s.Enqueue(now, []byte("first"), false)
	require.Equal(t, now.Add(100*time.Millisecond), c1.ChunkDeadline)

	// A later SetDeadline call must not retroactively move c1: its
	// ChunkDeadline/Mode were frozen at enqueue time under the deadline
	// then in force, and stay that way for the chunk's lifetime.
	later := now.Add(10 * time.Millisecond)
	s.SetDeadline(later, 20, ModeHard)
	require.Equal(t, now.Add(100*time.Millisecond), c1.ChunkDeadline)
	require.Equal(t, ModeHard, c1.Mode)

	// Only chunks enqueued after the change pick up the new deadline.
	c2 := s.Enqueue(later, []byte("second"), false)
	require.Equal(t, later.Add(20*time.Millisecond), c2.ChunkDeadline)
}

func TestChunkExpired(t *testing.T) {
	now := time.Now()
	s := NewState(4)
	s.SetDeadline(now, 10, ModeHard)
	c := s.Enqueue(now, []byte("x"), false)

	require.False(t, c.Expired(now))
	require.True(t, c.Expired(now.Add(11*time.Millisecond)))

	none := &Chunk{Mode: ModeNone}
	require.False(t, none.Expired(now.Add(time.Hour)))
}

func TestCancelClearsDeadline(t *testing.T) {
	now := time.Now()
	s := NewState(4)
	s.SetDeadline(now, 10, ModeHard)
	s.Cancel()
	require.Equal(t, ModeNone, s.Mode)
	require.False(t, s.Enabled)
	require.False(t, s.DeadlineExceeded)
}

func TestHasReadyData(t *testing.T) {
	now := time.Now()
	s := NewState(4)
	require.False(t, s.HasReadyData())
	c := s.Enqueue(now, []byte("abc"), false)
	require.True(t, s.HasReadyData())
	c.Sent = uint64(len(c.Bytes))
	require.False(t, s.HasReadyData())
}
