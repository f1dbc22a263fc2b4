// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package demo

import (
	channels "gopkg.in/eapache/channels.v1"
)

// FrameQueue decouples frame production (the engine deciding a
// DEADLINE_CONTROL or STREAM_DATA_DROPPED frame needs to go out) from
// the goroutine that actually writes to the control stream, using an
// unbounded channel so a slow writer never blocks the engine's
// synchronous Tick/PrepareSend calls.
type FrameQueue struct {
	ch *channels.InfiniteChannel
}

// NewFrameQueue creates an empty queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{ch: channels.NewInfiniteChannel()}
}

// Push enqueues an encodable frame for the writer goroutine to pick up.
func (q *FrameQueue) Push(f interface{ EncodeToBytes() []byte }) {
	q.ch.In() <- f
}

// Run drains the queue until it is closed, writing each frame to cs.
// onErr is called (non-fatally) for each write failure so the caller
// can log it without the drain loop unwinding.
func (q *FrameQueue) Run(cs *ControlStream, onErr func(error)) {
	for v := range q.ch.Out() {
		f := v.(interface{ EncodeToBytes() []byte })
		if err := cs.WriteFrame(f.EncodeToBytes()); err != nil {
			onErr(err)
		}
	}
}

// Close shuts down the queue; Run's range loop exits once drained.
func (q *FrameQueue) Close() { q.ch.Close() }
