// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package retransmit decides whether and where to retransmit a lost
// packet that carried deadline-bearing stream data, per spec §4.8.
// Packets with no deadline data are left to the base stack's own
// retransmit policy untouched.
package retransmit

import (
	"time"

	"github.com/katzenpost/deadlinequic/connctx"
	"github.com/katzenpost/deadlinequic/core/metrics"
	"github.com/katzenpost/deadlinequic/deadline"
	"github.com/katzenpost/deadlinequic/pathselect"
)

// Tag is the PacketDeadlineTag data model entity from spec §3: the
// metadata the packet engine attaches to a packet that carries stream
// data, with no on-wire form.
type Tag struct {
	ContainsDeadlineData bool
	EarliestChunkDeadline time.Time
	StreamIDsTagged       map[uint64]struct{}
}

// Decision is the verdict for one lost, deadline-tagged packet.
type Decision struct {
	Skip bool // true: do not retransmit, data already expired
	Path pathselect.Path
	HavePath bool
}

// Policy implements spec §4.8 given a connection context and a set of
// candidate paths supplied by the host multipath implementation.
type Policy struct {
	metrics *metrics.Metrics
}

// New creates a retransmit Policy. m may be nil in tests.
func New(m *metrics.Metrics) *Policy {
	return &Policy{metrics: m}
}

// Decide applies spec §4.8: skip retransmission if every tagged stream
// is Hard and past its absolute deadline (the data will be dropped
// anyway); otherwise select a path per §4.6's retransmit variant,
// discarding originalPathID unless it still wins by a sufficient
// margin.
func (p *Policy) Decide(now time.Time, ctx *connctx.Context, tag Tag, paths []pathselect.Path, originalPathID string, slack time.Duration) Decision {
	if !tag.ContainsDeadlineData {
		return Decision{Skip: false} // base stack's policy governs; we have no opinion
	}

	if p.allTaggedExpiredHard(now, ctx, tag) {
		if p.metrics != nil {
			p.metrics.RetransmitsSkipped.Inc()
		}
		return Decision{Skip: true}
	}

	best, ok := pathselect.SelectForRetransmit(paths, slack, now, originalPathID)
	return Decision{Skip: false, Path: best, HavePath: ok}
}

func (p *Policy) allTaggedExpiredHard(now time.Time, ctx *connctx.Context, tag Tag) bool {
	if len(tag.StreamIDsTagged) == 0 {
		return false
	}
	allHardAndExpired := true
	for sid := range tag.StreamIDsTagged {
		st, ok := ctx.Streams[sid]
		if !ok {
			return false
		}
		if st.Mode != deadline.ModeHard {
			return false
		}
		deadlineForStream := st.AbsoluteDeadline
		if !tag.EarliestChunkDeadline.IsZero() && tag.EarliestChunkDeadline.Before(deadlineForStream) {
			deadlineForStream = tag.EarliestChunkDeadline
		}
		if !now.After(deadlineForStream) {
			allHardAndExpired = false
		}
	}
	return allHardAndExpired
}
