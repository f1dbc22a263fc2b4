// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the encode/decode contract for the three
// wire-format additions this module defines on top of base QUIC: the
// enable_deadline_aware_streams transport parameter, the
// DEADLINE_CONTROL frame, and the STREAM_DATA_DROPPED frame. Varint
// widths follow QUIC's own variable-length integer encoding via
// quic-go's exported quicvarint helpers, the way http3's FrameReader/
// FrameWriter in this corpus build frames atop quic.Stream.
package wire

import (
	"bytes"
	"errors"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// FrameType identifies a DEADLINE_CONTROL or STREAM_DATA_DROPPED frame
// on the wire. Both values sit in QUIC's private/experimental frame
// type range.
type FrameType uint64

const (
	// FrameTypeDeadlineControl carries {stream_id, deadline_ms} (and,
	// when the mode extension is negotiated, a mode octet) from sender
	// to receiver.
	FrameTypeDeadlineControl FrameType = 0x4160751e

	// FrameTypeStreamDataDropped carries {stream_id, offset, length}
	// from sender to receiver, replacing a STREAM frame for that range.
	FrameTypeStreamDataDropped FrameType = 0x4160751f
)

// TransportParamEnableDeadlineAwareStreams is the transport parameter
// ID negotiated during the handshake; its value is always zero-length
// (a flag).
const TransportParamEnableDeadlineAwareStreams uint64 = 0x4161646c

// TransportParamDeadlineModeExtension gates the optional one-octet mode
// field on DEADLINE_CONTROL frames (spec's first Open Question,
// resolved by making the extension itself negotiable).
const TransportParamDeadlineModeExtension uint64 = 0x4161646d

// DeadlineMode mirrors deadline.Mode without importing it, so wire stays
// leaf-level and dependency-free of the state packages above it.
type DeadlineMode uint8

const (
	ModeUnspecified DeadlineMode = iota
	ModeSoft
	ModeHard
)

// DecodeError reports a malformed frame: truncated input or a trailing
// byte count that does not match what the frame's fields declared.
// Nothing in this module turns it into a FRAME_ENCODING_ERROR connection
// close; cmd/deadlinequicd logs it and reads the next frame.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string { return "wire: decode " + e.Frame + ": " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

var errTruncated = errors.New("truncated frame")
var errTrailingBytes = errors.New("trailing bytes after frame fields")

// DeadlineControlFrame is {stream_id, deadline_ms} plus an optional
// sender-local mode byte, per §4.1.
type DeadlineControlFrame struct {
	StreamID   uint64
	DeadlineMs uint64
	HasMode    bool
	Mode       DeadlineMode
}

// Encode writes the frame type and payload to w.
func (f *DeadlineControlFrame) Encode(w io.ByteWriter) error {
	quicvarint.Write(w, uint64(FrameTypeDeadlineControl))
	quicvarint.Write(w, f.StreamID)
	quicvarint.Write(w, f.DeadlineMs)
	if f.HasMode {
		return w.WriteByte(byte(f.Mode))
	}
	return nil
}

// EncodeToBytes is a convenience wrapper around Encode for callers that
// just want a []byte, e.g. tests and the demo binaries.
func (f *DeadlineControlFrame) EncodeToBytes() []byte {
	buf := &bytes.Buffer{}
	_ = f.Encode(buf)
	return buf.Bytes()
}

// DecodeDeadlineControlFrame reads a DEADLINE_CONTROL frame's payload
// (the frame type varint has already been consumed by the caller's
// frame-type dispatch, matching how http3's FrameReader peeks the type
// before delegating). hasModeExt tells the decoder whether the optional
// mode octet was negotiated for this connection.
func DecodeDeadlineControlFrame(r io.ByteReader, hasModeExt bool) (*DeadlineControlFrame, error) {
	sid, err := quicvarint.Read(r)
	if err != nil {
		return nil, &DecodeError{Frame: "DEADLINE_CONTROL", Err: errTruncated}
	}
	ms, err := quicvarint.Read(r)
	if err != nil {
		return nil, &DecodeError{Frame: "DEADLINE_CONTROL", Err: errTruncated}
	}
	f := &DeadlineControlFrame{StreamID: sid, DeadlineMs: ms}
	if hasModeExt {
		b, err := r.ReadByte()
		if err != nil {
			return nil, &DecodeError{Frame: "DEADLINE_CONTROL", Err: errTruncated}
		}
		f.HasMode = true
		f.Mode = DeadlineMode(b)
	}
	return f, nil
}

// StreamDataDroppedFrame is {stream_id, offset, length} per §4.1.
type StreamDataDroppedFrame struct {
	StreamID uint64
	Offset   uint64
	Length   uint64
}

// Encode writes the frame type and payload to w.
func (f *StreamDataDroppedFrame) Encode(w io.ByteWriter) error {
	quicvarint.Write(w, uint64(FrameTypeStreamDataDropped))
	quicvarint.Write(w, f.StreamID)
	quicvarint.Write(w, f.Offset)
	quicvarint.Write(w, f.Length)
	return nil
}

// EncodeToBytes is a convenience wrapper around Encode.
func (f *StreamDataDroppedFrame) EncodeToBytes() []byte {
	buf := &bytes.Buffer{}
	_ = f.Encode(buf)
	return buf.Bytes()
}

// DecodeStreamDataDroppedFrame reads a STREAM_DATA_DROPPED frame's
// payload; the frame type varint has already been consumed.
func DecodeStreamDataDroppedFrame(r io.ByteReader) (*StreamDataDroppedFrame, error) {
	sid, err := quicvarint.Read(r)
	if err != nil {
		return nil, &DecodeError{Frame: "STREAM_DATA_DROPPED", Err: errTruncated}
	}
	off, err := quicvarint.Read(r)
	if err != nil {
		return nil, &DecodeError{Frame: "STREAM_DATA_DROPPED", Err: errTruncated}
	}
	length, err := quicvarint.Read(r)
	if err != nil {
		return nil, &DecodeError{Frame: "STREAM_DATA_DROPPED", Err: errTruncated}
	}
	return &StreamDataDroppedFrame{StreamID: sid, Offset: off, Length: length}, nil
}

// PeekFrameType reads the leading frame-type varint from r without
// consuming any payload bytes beyond it, so the connection's frame
// dispatcher can route to the right decoder.
func PeekFrameType(r io.ByteReader) (FrameType, error) {
	t, err := quicvarint.Read(r)
	if err != nil {
		return 0, &DecodeError{Frame: "frame-type", Err: errTruncated}
	}
	return FrameType(t), nil
}

// DecodeFrameExact decodes a single frame from a closed buffer (all of
// data must belong to exactly one frame, trailing bytes are an error),
// used by the codec round-trip tests (spec §8 P7) and by any transport
// that delivers whole frames rather than a byte stream.
func DecodeFrameExact(data []byte, hasModeExt bool) (interface{}, error) {
	r := bytes.NewReader(data)
	t, err := PeekFrameType(r)
	if err != nil {
		return nil, err
	}
	var out interface{}
	switch t {
	case FrameTypeDeadlineControl:
		out, err = DecodeDeadlineControlFrame(r, hasModeExt)
	case FrameTypeStreamDataDropped:
		out, err = DecodeStreamDataDroppedFrame(r)
	default:
		return nil, &DecodeError{Frame: "unknown", Err: errors.New("unrecognized frame type")}
	}
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, &DecodeError{Frame: "frame", Err: errTrailingBytes}
	}
	return out, nil
}
