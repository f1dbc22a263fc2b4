// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package engine

import (
	"time"

	"github.com/katzenpost/deadlinequic/pathselect"
	"github.com/katzenpost/deadlinequic/retransmit"
)

// DecideRetransmit applies spec §4.8 to a lost, possibly
// deadline-tagged packet, given the candidate paths for a multipath
// connection (pass a single Path for a non-multipath connection).
func (c *Conn) DecideRetransmit(now time.Time, tag retransmit.Tag, paths []pathselect.Path, originalPathID string) retransmit.Decision {
	slack := c.minSlackAcrossTagged(now, tag)
	return c.retransmit.Decide(now, c.ctx, tag, paths, originalPathID, slack)
}

func (c *Conn) minSlackAcrossTagged(now time.Time, tag retransmit.Tag) time.Duration {
	var min time.Duration
	found := false
	for sid := range tag.StreamIDsTagged {
		st, ok := c.ctx.Stream(sid)
		if !ok || !st.Enabled {
			continue
		}
		s := st.Slack(now)
		if !found || s < min {
			min = s
			found = true
		}
	}
	return min
}

// SelectPath applies spec §4.6 to an original (non-retransmit) send on
// a deadline stream.
func (c *Conn) SelectPath(now time.Time, streamID uint64, paths []pathselect.Path) (pathselect.Path, bool) {
	st, ok := c.ctx.Stream(streamID)
	if !ok || !st.Enabled {
		return pathselect.Path{}, false
	}
	return pathselect.Select(paths, st.Slack(now), now)
}
