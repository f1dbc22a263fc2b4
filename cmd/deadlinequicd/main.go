// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Command deadlinequicd is a minimal demo server that accepts one
// quic-go connection, negotiates the deadline-aware-streams capability
// at the application layer (see demo.NegotiateServer), and applies a
// peer's DEADLINE_CONTROL / STREAM_DATA_DROPPED frames to its receiver-
// side view of the stream, the way sockatz/common/conn.go's
// QUICProxyConn.Accept wires a quic.Listener into this corpus's own
// transports.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/katzenpost/deadlinequic/config"
	"github.com/katzenpost/deadlinequic/connctx"
	corelog "github.com/katzenpost/deadlinequic/core/log"
	"github.com/katzenpost/deadlinequic/core/metrics"
	"github.com/katzenpost/deadlinequic/demo"
	"github.com/katzenpost/deadlinequic/engine"
	"github.com/katzenpost/deadlinequic/wire"

	logging "gopkg.in/op/go-logging.v1"
)

func main() {
	cfgPath := flag.String("config", "", "path to a deadlinequic TOML config file")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.LoadFile(*cfgPath)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}

	lvl, err := corelog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	corelog.Backend(lvl, cfg.Logging.Timestamps)
	log := corelog.GetLogger("deadlinequicd")

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Noticef("metrics listening on %s", cfg.Metrics.ListenAddr)
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				log.Errorf("metrics server: %s", err)
			}
		}()
	}

	tlsConf, err := demo.GenerateTLSConfig()
	if err != nil {
		log.Fatalf("generate tls config: %s", err)
	}

	listener, err := quic.ListenAddr(cfg.Demo.ListenAddr, tlsConf, &quic.Config{})
	if err != nil {
		log.Fatalf("listen: %s", err)
	}
	log.Noticef("listening on %s", cfg.Demo.ListenAddr)

	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			log.Errorf("accept: %s", err)
			continue
		}
		go handleConn(log, m, cfg, conn)
	}
}

// gapLogger implements engine.AppCallbacks, logging received data and
// gap notifications so an operator running this demo can see the
// deadline engine's receiver-side behavior directly.
type gapLogger struct {
	log *logging.Logger
}

func (g gapLogger) OnStreamData(streamID uint64, data []byte, offset uint64) {
	g.log.Infof("stream=%d received %d bytes at offset=%d: %q", streamID, len(data), offset, string(data))
}

func (g gapLogger) OnStreamDataDiscarded(gap engine.Gap) {
	g.log.Warnf("stream=%d GAP offset=%d length=%d (hard deadline expired upstream)", gap.StreamID, gap.Offset, gap.Length)
}

func (g gapLogger) OnStreamFin(streamID uint64) { g.log.Infof("stream=%d fin", streamID) }

func (g gapLogger) OnStreamReset(streamID uint64, err error) {
	g.log.Warnf("stream=%d reset: %s", streamID, err)
}

func handleConn(log *logging.Logger, m *metrics.Metrics, cfg *config.Config, conn quic.Connection) {
	ctx := context.Background()

	cs, negotiated, modeExt, err := demo.NegotiateServer(ctx, conn, demo.Hello{
		EnableDeadlineAwareStreams: true,
		DeadlineModeExtension:      true,
	})
	if err != nil {
		log.Errorf("negotiate: %s", err)
		return
	}
	log.Noticef("connection from %s negotiated=%v mode_ext=%v", conn.RemoteAddr(), negotiated, modeExt)

	e := engine.New(time.Now(), engine.Options{
		Callbacks:     gapLogger{log: log},
		CCHooks:       noopCCHooks{},
		Caps:          cfg.Caps(),
		Negotiated:    negotiated,
		ModeExtension: modeExt,
		Metrics:       m,
	})
	cfg.Apply(e.ContextForConfig())

	go controlLoop(log, e, cs)

	str, err := conn.AcceptStream(ctx)
	if err != nil {
		log.Errorf("accept data stream: %s", err)
		return
	}
	streamID := uint64(str.StreamID())
	buf := make([]byte, 4096)
	var offset uint64
	for {
		n, err := str.Read(buf)
		if n > 0 {
			e.DeliverStreamData(streamID, offset, append([]byte(nil), buf[:n]...), false)
			offset += uint64(n)
		}
		if err != nil {
			if err != io.EOF {
				log.Errorf("read data stream: %s", err)
			}
			return
		}
	}
}

func controlLoop(log *logging.Logger, e *engine.Conn, cs *demo.ControlStream) {
	for {
		payload, err := cs.ReadFrame()
		if err != nil {
			if err != io.EOF {
				log.Errorf("control stream read: %s", err)
			}
			return
		}
		out, err := wire.DecodeFrameExact(payload, true)
		if err != nil {
			log.Errorf("decode control frame: %s", err)
			continue
		}
		now := time.Now()
		switch f := out.(type) {
		case *wire.DeadlineControlFrame:
			if err := e.HandleDeadlineControlFrame(now, f); err != nil {
				log.Errorf("handle DEADLINE_CONTROL: %s", err)
			}
		case *wire.StreamDataDroppedFrame:
			if err := e.HandleStreamDataDroppedFrame(now, f); err != nil {
				log.Errorf("handle STREAM_DATA_DROPPED: %s", err)
			}
		}
	}
}

// noopCCHooks is a congestion-controller stand-in: this demo does not
// run a real congestion controller, so every hook just echoes the base
// value it was given, matching what cc.Coupler would see from a CC that
// chooses not to boost anything on its own.
type noopCCHooks struct{}

func (noopCCHooks) OnUrgencyChange(level connctx.Urgency)                     {}
func (noopCCHooks) PacingGainAdjust(baseGain float64, inProbeUp bool) float64 { return baseGain }
func (noopCCHooks) CwndAdjust(baseCwnd, bdp uint64, now time.Time) uint64     { return baseCwnd }
func (noopCCHooks) ShouldSkipProbePhase(phase string, now time.Time) bool     { return false }
func (noopCCHooks) UpdateFairness(bytesSent uint64, isDeadlineBoosted bool, now time.Time) {}
