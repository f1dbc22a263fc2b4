// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package pathselect scores and selects a multipath-QUIC path for a
// deadline stream's original send or retransmit, per spec §4.6. It is
// given a host-supplied snapshot of each validated path rather than
// reaching into any concrete multipath implementation, following the
// corpus's habit of constructing small scoring structs from a snapshot
// (client2/rates.go's Rates from a *cpki.Document).
package pathselect

import "time"

// Path is a read-only snapshot of one validated path's current
// transport-level statistics.
type Path struct {
	ID            string
	SRTT          time.Duration
	CWND          uint64
	BytesInFlight uint64
	BytesLost     uint64
	BytesSent     uint64
	LastLossEvent time.Time
	Validated     bool
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score computes score(p) in [0,1] for path p given remaining slack s,
// per the exact formula in spec §4.6.
func Score(p Path, slack time.Duration, now time.Time) float64 {
	sSeconds := slack.Seconds()
	var rttScore float64
	if sSeconds > 0 {
		rttScore = clamp(1-p.SRTT.Seconds()/sSeconds, 0, 1)
	}

	var cwndScore float64
	if p.CWND > 0 {
		cwndScore = clamp(float64(p.CWND-minU64(p.BytesInFlight, p.CWND))/float64(p.CWND), 0, 1)
	}

	bytesSent := p.BytesSent
	if bytesSent < 1 {
		bytesSent = 1
	}
	lossRatio := float64(p.BytesLost) / float64(bytesSent)
	if lossRatio > 1 {
		lossRatio = 1
	}
	lossPenalty := 1 - lossRatio

	recentLossPenalty := 0.25
	if p.LastLossEvent.IsZero() || now.Sub(p.LastLossEvent) > 3*p.SRTT {
		recentLossPenalty = 1.0
	}

	return 0.4*rttScore + 0.3*cwndScore + 0.2*lossPenalty + 0.1*recentLossPenalty
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Select implements spec §4.6's selection rule for an original send:
// discard paths whose SRTT exceeds slack unless that would discard
// every path (an impossible deadline), in which case fall back to the
// path with the smallest SRTT; otherwise pick the highest score, ties
// broken by smallest SRTT. Returns the zero value and false if paths is
// empty.
func Select(paths []Path, slack time.Duration, now time.Time) (Path, bool) {
	validated := filterValidated(paths)
	if len(validated) == 0 {
		return Path{}, false
	}

	feasible := make([]Path, 0, len(validated))
	for _, p := range validated {
		if p.SRTT <= slack {
			feasible = append(feasible, p)
		}
	}
	if len(feasible) == 0 {
		// Impossible deadline on every path: fall back to smallest SRTT.
		return smallestSRTT(validated), true
	}

	return bestScored(feasible, slack, now), true
}

// SelectForRetransmit implements spec §4.6's retransmit rule: same
// scoring, but the original path is discarded unless it is still best
// by a margin >= 0.1.
func SelectForRetransmit(paths []Path, slack time.Duration, now time.Time, originalPathID string) (Path, bool) {
	validated := filterValidated(paths)
	if len(validated) == 0 {
		return Path{}, false
	}

	best, ok := Select(paths, slack, now)
	if !ok {
		return Path{}, false
	}
	if best.ID != originalPathID {
		return best, true
	}

	// Best is the original path; only keep it if it beats the runner-up
	// by >= 0.1, otherwise pick the runner-up.
	var original, runnerUp Path
	var runnerUpScore float64
	haveRunnerUp := false
	originalScore := Score(best, slack, now)
	for _, p := range validated {
		if p.ID == originalPathID {
			original = p
			continue
		}
		sc := Score(p, slack, now)
		if !haveRunnerUp || sc > runnerUpScore {
			runnerUp = p
			runnerUpScore = sc
			haveRunnerUp = true
		}
	}
	if !haveRunnerUp {
		return original, true
	}
	if originalScore-runnerUpScore >= 0.1 {
		return original, true
	}
	return runnerUp, true
}

func filterValidated(paths []Path) []Path {
	out := make([]Path, 0, len(paths))
	for _, p := range paths {
		if p.Validated {
			out = append(out, p)
		}
	}
	return out
}

func smallestSRTT(paths []Path) Path {
	best := paths[0]
	for _, p := range paths[1:] {
		if p.SRTT < best.SRTT {
			best = p
		}
	}
	return best
}

func bestScored(paths []Path, slack time.Duration, now time.Time) Path {
	best := paths[0]
	bestScore := Score(best, slack, now)
	for _, p := range paths[1:] {
		sc := Score(p, slack, now)
		if sc > bestScore || (sc == bestScore && p.SRTT < best.SRTT) {
			best = p
			bestScore = sc
		}
	}
	return best
}
