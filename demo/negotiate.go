// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package demo

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	quic "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"
)

// Hello is exchanged on the control stream immediately after the QUIC
// handshake to stand in for the enable_deadline_aware_streams transport
// parameter, since quic-go's public API (as vendored for this demo)
// does not expose raw transport-parameter injection. A real deployment
// forked onto a quic-go that exposes AdditionalTransportParameters
// would carry this flag there instead; the wire package's frame codec
// is unaffected either way, and the control stream continues to carry
// DEADLINE_CONTROL / STREAM_DATA_DROPPED frames length-prefixed the
// same way after the handshake.
type Hello struct {
	EnableDeadlineAwareStreams bool `cbor:"1,keyasint"`
	DeadlineModeExtension      bool `cbor:"2,keyasint"`
}

// ControlStream bundles the quic.Stream carrying negotiation and
// subsequent deadline control/drop frames with a buffered reader, since
// quic.Stream itself is not an io.ByteReader.
type ControlStream struct {
	Stream quic.Stream
	R      *bufio.Reader
}

func writeFramed(w io.Writer, payload []byte) error {
	bw := &byteWriter{w: w}
	quicvarint.Write(bw, uint64(len(payload)))
	if bw.err != nil {
		return bw.err
	}
	_, err := w.Write(payload)
	return err
}

// byteWriter adapts an io.Writer to io.ByteWriter for quicvarint.Write,
// the same shim role quicvarint.NewWriter plays for the corpus's own
// http3 frame writers.
type byteWriter struct {
	w   io.Writer
	err error
}

func (b *byteWriter) WriteByte(c byte) error {
	if b.err != nil {
		return b.err
	}
	_, b.err = b.w.Write([]byte{c})
	return b.err
}

func readFramed(r *bufio.Reader) ([]byte, error) {
	n, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NegotiateClient opens the control stream, sends our Hello, and reads
// the server's, returning the AND of both sides' flags per spec §6's
// negotiation rule ("both peers advertise").
func NegotiateClient(ctx context.Context, conn quic.Connection, ours Hello) (*ControlStream, bool, bool, error) {
	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, false, false, fmt.Errorf("demo: open control stream: %w", err)
	}
	return exchangeHello(str, ours)
}

// NegotiateServer accepts the control stream and exchanges Hello the
// same way.
func NegotiateServer(ctx context.Context, conn quic.Connection, ours Hello) (*ControlStream, bool, bool, error) {
	str, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, false, false, fmt.Errorf("demo: accept control stream: %w", err)
	}
	return exchangeHello(str, ours)
}

func exchangeHello(str quic.Stream, ours Hello) (*ControlStream, bool, bool, error) {
	cs := &ControlStream{Stream: str, R: bufio.NewReader(str)}

	enc, err := cbor.Marshal(ours)
	if err != nil {
		return nil, false, false, err
	}
	if err := writeFramed(str, enc); err != nil {
		return nil, false, false, fmt.Errorf("demo: write hello: %w", err)
	}

	payload, err := readFramed(cs.R)
	if err != nil {
		return nil, false, false, fmt.Errorf("demo: read hello: %w", err)
	}
	var theirs Hello
	if err := cbor.Unmarshal(payload, &theirs); err != nil {
		return nil, false, false, fmt.Errorf("demo: decode hello: %w", err)
	}

	negotiated := ours.EnableDeadlineAwareStreams && theirs.EnableDeadlineAwareStreams
	modeExt := negotiated && ours.DeadlineModeExtension && theirs.DeadlineModeExtension
	return cs, negotiated, modeExt, nil
}

// WriteFrame length-prefixes and writes a wire-encoded frame (whatever
// Encode produced) to the control stream.
func (cs *ControlStream) WriteFrame(payload []byte) error {
	return writeFramed(cs.Stream, payload)
}

// ReadFrame reads one length-prefixed frame payload from the control
// stream, suitable for wire.DecodeFrameExact.
func (cs *ControlStream) ReadFrame() ([]byte, error) {
	return readFramed(cs.R)
}
