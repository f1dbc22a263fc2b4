// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Command deadlinequicc is a minimal demo client that dials
// deadlinequicd, negotiates the deadline-aware-streams capability, sets
// a hard deadline on one stream, and pushes a chunk through the expiry
// engine so its effects (drops, gap signaling) are visible end to end
// over a real quic-go connection. It dials once and does not retry.
package main

import (
	"context"
	"flag"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/katzenpost/deadlinequic/config"
	"github.com/katzenpost/deadlinequic/connctx"
	corelog "github.com/katzenpost/deadlinequic/core/log"
	"github.com/katzenpost/deadlinequic/core/worker"
	"github.com/katzenpost/deadlinequic/deadline"
	"github.com/katzenpost/deadlinequic/demo"
	"github.com/katzenpost/deadlinequic/engine"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4433", "server address")
	relMs := flag.Uint64("deadline-ms", 50, "relative deadline in milliseconds")
	hard := flag.Bool("hard", true, "use Hard mode (drop expired bytes) instead of Soft")
	delayFirstChunk := flag.Duration("delay-first-chunk", 80*time.Millisecond, "extra delay past the stream deadline before sending, to demonstrate expiry")
	flag.Parse()

	lvl, err := corelog.ParseLevel("INFO")
	if err != nil {
		panic(err)
	}
	corelog.Backend(lvl, false)
	log := corelog.GetLogger("deadlinequicc")

	conn, err := quic.DialAddr(context.Background(), *addr, demo.ClientTLSConfig(), &quic.Config{})
	if err != nil {
		log.Fatalf("dial: %s", err)
	}

	cs, negotiated, modeExt, err := demo.NegotiateClient(context.Background(), conn, demo.Hello{
		EnableDeadlineAwareStreams: true,
		DeadlineModeExtension:      true,
	})
	if err != nil {
		log.Fatalf("negotiate: %s", err)
	}
	log.Noticef("negotiated=%v mode_ext=%v", negotiated, modeExt)

	e := engine.New(time.Now(), engine.Options{
		CCHooks:    passthroughCCHooks{},
		Caps:       config.Default().Caps(),
		Negotiated: negotiated,
	})

	str, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		log.Fatalf("open data stream: %s", err)
	}
	streamID := uint64(str.StreamID())

	mode := deadline.ModeSoft
	if *hard {
		mode = deadline.ModeHard
	}

	queue := demo.NewFrameQueue()
	go queue.Run(cs, func(err error) { log.Errorf("write control frame: %s", err) })
	defer queue.Close()

	now := time.Now()
	if err := e.SetStreamDeadline(now, streamID, *relMs, mode); err != nil {
		log.Fatalf("set deadline: %s", err)
	}
	for _, f := range e.DequeuePendingControlFrames() {
		queue.Push(f)
	}

	e.AddToStream(now, streamID, []byte("hello, deadline-aware world"), false)

	// Wake exactly once, *delayFirstChunk past the stream's own
	// deadline, to demonstrate the expiry engine's drop path end to
	// end; a real sender would instead be driven by the packet
	// engine's own send-ready event, not a fixed overshoot.
	done := make(chan struct{})
	tq := worker.NewTimerQueue(func(v interface{}) {
		defer close(done)
		sid := v.(uint64)
		sendNow := time.Now()
		chunk, drops := e.PrepareSend(sendNow, sid)
		for _, d := range drops {
			queue.Push(d)
		}
		if chunk == nil {
			log.Noticef("chunk fully expired and dropped before send (hard=%v)", *hard)
			return
		}
		n, err := str.Write(chunk.Remaining())
		if err != nil {
			log.Errorf("write data: %s", err)
			return
		}
		e.RecordSent(sendNow, sid, uint64(n), chunk)
		log.Noticef("sent %d bytes on stream=%d", n, sid)
	})
	tq.Start()
	fireAt := now.Add(time.Duration(*relMs)*time.Millisecond + *delayFirstChunk)
	tq.Push(uint64(fireAt.UnixNano()), streamID)

	<-done
	tq.Halt()
	tq.Wait()
	str.Close()
}

type passthroughCCHooks struct{}

func (passthroughCCHooks) OnUrgencyChange(level connctx.Urgency)              {}
func (passthroughCCHooks) PacingGainAdjust(baseGain float64, inProbeUp bool) float64 { return baseGain }
func (passthroughCCHooks) CwndAdjust(baseCwnd, bdp uint64, now time.Time) uint64     { return baseCwnd }
func (passthroughCCHooks) ShouldSkipProbePhase(phase string, now time.Time) bool     { return false }
func (passthroughCCHooks) UpdateFairness(bytesSent uint64, isDeadlineBoosted bool, now time.Time) {}
