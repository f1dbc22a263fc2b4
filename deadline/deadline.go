// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package deadline holds per-stream deadline state: mode, absolute
// deadline, the dropped-range set, and the chunk queue the scheduler
// and expiry engine operate on. It has no knowledge of the connection
// it belongs to — callers pass in "now" and any connection-wide
// parameters explicitly, per the no-back-pointer arena design in
// SPEC_FULL.md §3.
package deadline

import (
	"sort"
	"time"
)

// Mode is a stream's deadline mode.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeSoft
	ModeHard
)

func (m Mode) String() string {
	switch m {
	case ModeSoft:
		return "soft"
	case ModeHard:
		return "hard"
	default:
		return "none"
	}
}

// ErrKind enumerates the caller-visible error conditions from spec §7
// that do not close the connection.
type ErrKind uint8

const (
	ErrNone ErrKind = iota
	ErrCapabilityDisabled
	ErrStreamInvalid
)

// Error is the tagged result type returned by fallible deadline
// operations, in place of ad-hoc error strings.
type Error struct {
	Kind     ErrKind
	StreamID uint64
	Msg      string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind ErrKind, streamID uint64, msg string) *Error {
	return &Error{Kind: kind, StreamID: streamID, Msg: msg}
}

// CapabilityDisabledErr and StreamInvalidErr are constructors used
// by engine and tests; kept as functions rather than package vars so
// each carries the offending stream ID.
func CapabilityDisabledErr(streamID uint64) *Error {
	return newError(ErrCapabilityDisabled, streamID, "deadline: capability not negotiated on this connection")
}

func StreamInvalidErr(streamID uint64) *Error {
	return newError(ErrStreamInvalid, streamID, "deadline: stream is closed or reset")
}

// Range is a half-open byte interval [Start, End) within a stream.
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) Len() uint64 { return r.End - r.Start }

// RangeSet is a sorted, coalesced set of dropped byte ranges for one
// stream, used both by the sender (to skip retransmitting dropped
// bytes) and by the receiver (to surface gaps). It is a plain slice
// rather than an interval tree: the corpus favors slice-backed
// bookkeeping at this scale (client2/rates.go, ARQMessage) over a
// general-purpose tree for what is, per connection, a handful of
// ranges.
type RangeSet struct {
	ranges []Range
}

// Insert adds [start, end) to the set, coalescing with any adjacent or
// overlapping existing range. Invariant P1 (non-overlapping, strictly
// ordered ascending) holds after every call.
func (s *RangeSet) Insert(start, end uint64) {
	if end <= start {
		return
	}
	// Find insertion point via binary search on Start.
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Start >= start })

	merged := Range{Start: start, End: end}

	// Merge with the range to the left if it touches or overlaps.
	if i > 0 && s.ranges[i-1].End >= merged.Start {
		i--
		if s.ranges[i].Start < merged.Start {
			merged.Start = s.ranges[i].Start
		}
		if s.ranges[i].End > merged.End {
			merged.End = s.ranges[i].End
		}
		s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
	}

	// Absorb any following ranges that now touch or overlap.
	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= merged.End {
		if s.ranges[j].End > merged.End {
			merged.End = s.ranges[j].End
		}
		j++
	}
	s.ranges = append(s.ranges[:i], append([]Range{merged}, s.ranges[j:]...)...)
}

// Ranges returns the sorted, coalesced ranges. The returned slice must
// not be mutated by the caller.
func (s *RangeSet) Ranges() []Range { return s.ranges }

// TotalBytes sums the length of every range in the set.
func (s *RangeSet) TotalBytes() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.Len()
	}
	return total
}

// Contains reports whether [start, end) is fully covered by the set,
// used by the retransmit policy to skip bytes already dropped.
func (s *RangeSet) Contains(start, end uint64) bool {
	for _, r := range s.ranges {
		if r.Start <= start && end <= r.End {
			return true
		}
		if r.Start > start {
			break
		}
	}
	return false
}

// Chunk is one application write queued for transmission. Its deadline
// is frozen at enqueue time: later changes to the stream's deadline
// never alter an already-queued chunk's ChunkDeadline, only chunks
// enqueued after the change (spec §3, §9 Open Question #2).
type Chunk struct {
	Offset       uint64
	Bytes        []byte
	Fin          bool
	EnqueueTime  time.Time
	Mode         Mode // the stream's mode frozen at enqueue time
	ChunkDeadline time.Time
	Sent         uint64 // bytes of this chunk already handed to the packet engine
}

// Remaining returns the bytes of this chunk not yet sent.
func (c *Chunk) Remaining() []byte { return c.Bytes[c.Sent:] }

// RemainingRange returns the not-yet-sent byte range, [Offset+Sent, Offset+len(Bytes)).
func (c *Chunk) RemainingRange() Range {
	return Range{Start: c.Offset + c.Sent, End: c.Offset + uint64(len(c.Bytes))}
}

// Expired reports whether the chunk's deadline has passed as of now.
// A chunk with a zero ChunkDeadline (mode None) never expires.
func (c *Chunk) Expired(now time.Time) bool {
	if c.Mode == ModeNone {
		return false
	}
	return now.After(c.ChunkDeadline)
}

// State is the deadline state attached to a single stream the first
// time a deadline is asserted on it, locally or by the peer.
type State struct {
	StreamID uint64

	Mode           Mode
	RelativeMs     uint64
	AbsoluteDeadline time.Time
	Enabled        bool

	// DeadlineExceeded latches once a Hard stream is found past its
	// absolute deadline; per §4.5 it is NOT cleared by recomputing a
	// new AbsoluteDeadline, only by an explicit reset or stream close.
	DeadlineExceeded bool

	DeadlinesMissed uint64
	BytesDropped    uint64

	DroppedRanges RangeSet

	// Queue holds chunks not yet fully sent, in offset order.
	Queue []*Chunk

	// NextOffset is the byte offset the next AddToStream call will
	// assign.
	NextOffset uint64

	// Closed marks the stream as gone; once true the mode may no
	// longer be changed (§3 invariant: mode only tightens or clears on
	// close).
	Closed bool

	LastScheduledTime time.Time
}

// NewState creates a fresh, disabled deadline state for a stream.
func NewState(streamID uint64) *State {
	return &State{StreamID: streamID}
}

// SetDeadline applies a (relative_ms, mode) assignment at now. Per the
// spec's resolution of Open Question #2, it tightens the mode
// (Soft->Hard only, never Hard->Soft) and resets AbsoluteDeadline and
// DeadlineExceeded for the stream going forward. It never touches a
// chunk already sitting in s.Queue: each chunk's Mode/ChunkDeadline was
// frozen at its own Enqueue call, and that freeze is independent of any
// later deadline change to the stream (spec §3, §9 Open Question #2).
// Only chunks enqueued after this call pick up the new relative_ms/mode.
func (s *State) SetDeadline(now time.Time, relativeMs uint64, mode Mode) {
	if mode == ModeSoft && s.Mode == ModeHard {
		mode = ModeHard // tighten-only: cannot loosen Hard back to Soft
	}
	s.Mode = mode
	s.RelativeMs = relativeMs
	s.Enabled = relativeMs > 0
	s.AbsoluteDeadline = now.Add(time.Duration(relativeMs) * time.Millisecond)
	s.DeadlineExceeded = false
}

// Cancel clears deadline effects immediately (relative_ms=0 or stream
// close), per §5 Cancellation.
func (s *State) Cancel() {
	s.Mode = ModeNone
	s.Enabled = false
	s.DeadlineExceeded = false
}

// Enqueue appends a new chunk at NextOffset, stamping EnqueueTime and
// ChunkDeadline from the stream's current mode/relative deadline (the
// per-chunk-freeze invariant: later SetDeadline calls never retroactively
// change this chunk).
func (s *State) Enqueue(now time.Time, bytes []byte, fin bool) *Chunk {
	c := &Chunk{
		Offset:      s.NextOffset,
		Bytes:       bytes,
		Fin:         fin,
		EnqueueTime: now,
		Mode:        s.Mode,
	}
	if s.Enabled {
		c.ChunkDeadline = now.Add(time.Duration(s.RelativeMs) * time.Millisecond)
	}
	s.NextOffset += uint64(len(bytes))
	s.Queue = append(s.Queue, c)
	return c
}

// HasReadyData reports whether the stream has any unsent bytes queued.
func (s *State) HasReadyData() bool {
	for _, c := range s.Queue {
		if len(c.Remaining()) > 0 {
			return true
		}
	}
	return false
}

// Slack returns AbsoluteDeadline - now. Streams with no enabled
// deadline have no meaningful slack; callers must check Enabled first.
func (s *State) Slack(now time.Time) time.Duration {
	return s.AbsoluteDeadline.Sub(now)
}
