// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package pathselect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSelectPrefersHigherScore(t *testing.T) {
	now := time.Now()
	fast := Path{ID: "fast", SRTT: 10 * time.Millisecond, CWND: 100000, Validated: true}
	slow := Path{ID: "slow", SRTT: 200 * time.Millisecond, CWND: 100000, Validated: true}

	best, ok := Select([]Path{fast, slow}, 500*time.Millisecond, now)
	require.True(t, ok)
	require.Equal(t, "fast", best.ID)
}

func TestSelectIgnoresUnvalidatedPaths(t *testing.T) {
	now := time.Now()
	unvalidated := Path{ID: "p1", SRTT: time.Millisecond, CWND: 100000, Validated: false}
	_, ok := Select([]Path{unvalidated}, 100*time.Millisecond, now)
	require.False(t, ok)
}

func TestSelectFallsBackOnImpossibleDeadline(t *testing.T) {
	now := time.Now()
	a := Path{ID: "a", SRTT: 500 * time.Millisecond, CWND: 1000, Validated: true}
	b := Path{ID: "b", SRTT: 300 * time.Millisecond, CWND: 1000, Validated: true}

	// slack smaller than either SRTT: no feasible path, fall back to
	// smallest SRTT.
	best, ok := Select([]Path{a, b}, 10*time.Millisecond, now)
	require.True(t, ok)
	require.Equal(t, "b", best.ID)
}

func TestSelectEmptyPaths(t *testing.T) {
	_, ok := Select(nil, time.Second, time.Now())
	require.False(t, ok)
}

func TestScoreRangeBounds(t *testing.T) {
	now := time.Now()
	p := Path{ID: "p", SRTT: 10 * time.Millisecond, CWND: 1000, BytesInFlight: 500, BytesSent: 1000, BytesLost: 100}
	sc := Score(p, 100*time.Millisecond, now)
	require.GreaterOrEqual(t, sc, 0.0)
	require.LessOrEqual(t, sc, 1.0)
}

func TestSelectForRetransmitKeepsOriginalWithMargin(t *testing.T) {
	now := time.Now()
	original := Path{ID: "orig", SRTT: 5 * time.Millisecond, CWND: 100000, Validated: true}
	worse := Path{ID: "worse", SRTT: 400 * time.Millisecond, CWND: 1000, Validated: true, BytesLost: 500, BytesSent: 1000}

	best, ok := SelectForRetransmit([]Path{original, worse}, 500*time.Millisecond, now, "orig")
	require.True(t, ok)
	require.Equal(t, "orig", best.ID)
}

func TestSelectForRetransmitSwitchesWithoutMargin(t *testing.T) {
	now := time.Now()
	// Two nearly-identical paths: original should not keep a slim lead,
	// since spec §4.6 requires a >= 0.1 margin to stay put.
	original := Path{ID: "orig", SRTT: 50 * time.Millisecond, CWND: 100000, Validated: true}
	rival := Path{ID: "rival", SRTT: 51 * time.Millisecond, CWND: 100000, Validated: true}

	best, ok := SelectForRetransmit([]Path{original, rival}, 500*time.Millisecond, now, "orig")
	require.True(t, ok)
	require.Equal(t, "rival", best.ID)
}
