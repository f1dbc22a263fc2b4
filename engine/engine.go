// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package engine wires the wire codec, per-stream deadline state,
// connection context, EDF scheduler, expiry engine, path selector,
// congestion coupling, and retransmit policy into the Library API spec
// §6 defines. One engine.Conn exists per QUIC connection.
package engine

import (
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/deadlinequic/cc"
	"github.com/katzenpost/deadlinequic/connctx"
	corelog "github.com/katzenpost/deadlinequic/core/log"
	"github.com/katzenpost/deadlinequic/core/metrics"
	"github.com/katzenpost/deadlinequic/deadline"
	"github.com/katzenpost/deadlinequic/expiry"
	"github.com/katzenpost/deadlinequic/pathselect"
	"github.com/katzenpost/deadlinequic/retransmit"
	"github.com/katzenpost/deadlinequic/scheduler"
	"github.com/katzenpost/deadlinequic/wire"
)

// Gap is the receiver-facing notification for a dropped range, per
// spec §6's on_stream_data_discarded callback.
type Gap struct {
	StreamID uint64
	Offset   uint64
	Length   uint64
}

// AppCallbacks is the capability interface spec §9 calls for in place
// of dynamic callback dispatch: one small interface owned per
// connection.
type AppCallbacks interface {
	OnStreamData(streamID uint64, data []byte, offset uint64)
	OnStreamDataDiscarded(gap Gap)
	OnStreamFin(streamID uint64)
	OnStreamReset(streamID uint64, err error)
}

// NoopCallbacks is a ready-made AppCallbacks that does nothing, useful
// for tests that only care about sender-side state.
type NoopCallbacks struct{}

func (NoopCallbacks) OnStreamData(uint64, []byte, uint64) {}
func (NoopCallbacks) OnStreamDataDiscarded(Gap)            {}
func (NoopCallbacks) OnStreamFin(uint64)                   {}
func (NoopCallbacks) OnStreamReset(uint64, error)          {}

// recvState tracks one peer stream's in-order delivery offset plus the
// dropped ranges the peer has told us about, per spec §4.5's receiver
// behavior: a dropped range advances the flow-control offset as if it
// had been received with length zero.
type recvState struct {
	deliveredUpTo uint64
	dropped       deadline.RangeSet
	pendingData   map[uint64][]byte // offset -> bytes, out-of-order buffer
}

func newRecvState() *recvState {
	return &recvState{pendingData: make(map[uint64][]byte)}
}

// Conn is the per-connection engine instance. It is not safe for
// concurrent use by multiple goroutines beyond what the host's own
// connection lock already serializes (spec §5) -- the same contract
// stream/stream.go's Stream holds for its own worker goroutine plus
// public API calls.
type Conn struct {
	ctx       *connctx.Context
	negotiated bool
	modeExt    bool

	scheduler  *scheduler.Scheduler
	expiry     *expiry.Engine
	retransmit *retransmit.Policy
	cc         *cc.Coupler

	callbacks AppCallbacks
	log       *logging.Logger
	metrics   *metrics.Metrics

	pendingControl []*wire.DeadlineControlFrame
	pendingDrops   []*wire.StreamDataDroppedFrame

	recv map[uint64]*recvState

	waitingSince map[uint64]time.Time // deadline-free streams' wait clock
}

// Hooks a caller must supply when constructing a Conn: the host
// congestion controller and the application callback sink.
type Options struct {
	Callbacks     AppCallbacks
	CCHooks       cc.Hooks
	Caps          cc.Caps
	Negotiated    bool // did both peers advertise enable_deadline_aware_streams?
	ModeExtension bool // did both peers additionally negotiate the mode octet?
	Metrics       *metrics.Metrics
}

// New creates a Conn. now is the time the handshake completed; per
// spec §3 the ConnectionDeadlineContext is only created once the
// capability negotiation has succeeded, which the caller attests to
// via Options.Negotiated.
func New(now time.Time, opts Options) *Conn {
	if opts.Callbacks == nil {
		opts.Callbacks = NoopCallbacks{}
	}
	return &Conn{
		ctx:          connctx.New(now),
		negotiated:   opts.Negotiated,
		modeExt:      opts.ModeExtension,
		scheduler:    scheduler.New(opts.Metrics),
		expiry:       expiry.New(opts.Metrics),
		retransmit:   retransmit.New(opts.Metrics),
		cc:           cc.New(opts.CCHooks, opts.Caps),
		callbacks:    opts.Callbacks,
		log:          corelog.GetLogger("deadlinequic/engine"),
		metrics:      opts.Metrics,
		recv:         make(map[uint64]*recvState),
		waitingSince: make(map[uint64]time.Time),
	}
}

// SetStreamDeadline implements the Library API operation of the same
// name: set_stream_deadline(stream_id, relative_ms, mode).
func (c *Conn) SetStreamDeadline(now time.Time, streamID uint64, relativeMs uint64, mode deadline.Mode) error {
	if !c.negotiated {
		return deadline.CapabilityDisabledErr(streamID)
	}
	st := c.ctx.AttachStream(streamID)
	if st.Closed {
		return deadline.StreamInvalidErr(streamID)
	}

	if relativeMs == 0 {
		st.Cancel() // spec §5 Cancellation
		return nil
	}

	st.SetDeadline(now, relativeMs, mode)
	c.pendingControl = append(c.pendingControl, &wire.DeadlineControlFrame{
		StreamID:   streamID,
		DeadlineMs: relativeMs,
		HasMode:    c.modeExt,
		Mode:       toWireMode(mode),
	})
	c.ctx.RecomputeUrgency(now)
	c.log.Debugf("SetStreamDeadline stream=%d relative_ms=%d mode=%s", streamID, relativeMs, mode)
	return nil
}

func toWireMode(m deadline.Mode) wire.DeadlineMode {
	switch m {
	case deadline.ModeSoft:
		return wire.ModeSoft
	case deadline.ModeHard:
		return wire.ModeHard
	default:
		return wire.ModeUnspecified
	}
}

func fromWireMode(m wire.DeadlineMode) deadline.Mode {
	switch m {
	case wire.ModeSoft:
		return deadline.ModeSoft
	case wire.ModeHard:
		return deadline.ModeHard
	default:
		return deadline.ModeNone
	}
}

// AddToStream implements the base-stack pass-through operation,
// stamping enqueue time as spec §6 requires even for streams with no
// deadline attached yet.
func (c *Conn) AddToStream(now time.Time, streamID uint64, bytes []byte, fin bool) {
	st := c.ctx.AttachStream(streamID)
	st.Enqueue(now, bytes, fin)
	if !st.Enabled {
		if _, ok := c.waitingSince[streamID]; !ok {
			c.waitingSince[streamID] = now
		}
	}
	c.ctx.RecomputeUrgency(now)
}

// AddToStreamWithDeadline implements the combined Library API form:
// set the deadline first, then enqueue under it.
func (c *Conn) AddToStreamWithDeadline(now time.Time, streamID uint64, bytes []byte, fin bool, relativeMs uint64, mode deadline.Mode) error {
	if err := c.SetStreamDeadline(now, streamID, relativeMs, mode); err != nil {
		return err
	}
	c.AddToStream(now, streamID, bytes, fin)
	return nil
}

// GetStreamDeadline implements the Library API read operation,
// returning (relativeMs, true) if a deadline is currently set.
func (c *Conn) GetStreamDeadline(streamID uint64) (uint64, bool) {
	st, ok := c.ctx.Stream(streamID)
	if !ok || !st.Enabled {
		return 0, false
	}
	return st.RelativeMs, true
}

// SetFairness implements the Library API knob setter.
func (c *Conn) SetFairness(minNonDeadlineShare float64, maxStarvation time.Duration) {
	c.ctx.SetFairness(minNonDeadlineShare, maxStarvation)
}

// CloseStream tears down a stream's deadline state, per spec §3
// lifecycle, and forgets its starvation clock.
func (c *Conn) CloseStream(streamID uint64) {
	c.ctx.CloseStream(streamID)
	delete(c.waitingSince, streamID)
	delete(c.recv, streamID)
}

// Snapshot returns a read-only connctx.Snapshot of the connection
// context for metrics and tests.
func (c *Conn) Snapshot() connctx.Snapshot { return c.ctx.Snapshot() }

// ContextForConfig exposes the live connctx.Context so config.Config's
// Apply method can push fairness/threshold knobs into it without the
// config package needing to know engine.Conn's internals beyond this
// one escape hatch.
func (c *Conn) ContextForConfig() *connctx.Context { return c.ctx }

// DequeuePendingControlFrames returns and clears the DEADLINE_CONTROL
// frames queued by SetStreamDeadline calls since the last drain.
func (c *Conn) DequeuePendingControlFrames() []*wire.DeadlineControlFrame {
	out := c.pendingControl
	c.pendingControl = nil
	return out
}

// DequeuePendingDropFrames returns and clears the STREAM_DATA_DROPPED
// frames the expiry engine queued since the last drain. Per spec §5's
// ordering guarantee, callers must flush these before emitting any
// STREAM frame covering the same bytes.
func (c *Conn) DequeuePendingDropFrames() []*wire.StreamDataDroppedFrame {
	out := c.pendingDrops
	c.pendingDrops = nil
	return out
}
