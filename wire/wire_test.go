// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeadlineControlRoundTrip(t *testing.T) {
	cases := []struct {
		streamID   uint64
		deadlineMs uint64
		hasMode    bool
		mode       DeadlineMode
	}{
		{streamID: 4, deadlineMs: 100, hasMode: false},
		{streamID: 8, deadlineMs: 50, hasMode: true, mode: ModeHard},
		{streamID: 0, deadlineMs: 0, hasMode: true, mode: ModeSoft},
		{streamID: 1 << 30, deadlineMs: 1 << 40, hasMode: false},
	}
	for _, tc := range cases {
		f := &DeadlineControlFrame{StreamID: tc.streamID, DeadlineMs: tc.deadlineMs, HasMode: tc.hasMode, Mode: tc.mode}
		enc := f.EncodeToBytes()
		out, err := DecodeFrameExact(enc, tc.hasMode)
		require.NoError(t, err)
		got, ok := out.(*DeadlineControlFrame)
		require.True(t, ok)
		require.Equal(t, tc.streamID, got.StreamID)
		require.Equal(t, tc.deadlineMs, got.DeadlineMs)
		if tc.hasMode {
			require.Equal(t, tc.mode, got.Mode)
		}
	}
}

func TestStreamDataDroppedRoundTrip(t *testing.T) {
	cases := []struct {
		streamID, offset, length uint64
	}{
		{4, 0, 100},
		{8, 12345, 67},
		{0, 0, 0},
		{1 << 32, 1 << 20, 1 << 16},
	}
	for _, tc := range cases {
		f := &StreamDataDroppedFrame{StreamID: tc.streamID, Offset: tc.offset, Length: tc.length}
		enc := f.EncodeToBytes()
		out, err := DecodeFrameExact(enc, false)
		require.NoError(t, err)
		got, ok := out.(*StreamDataDroppedFrame)
		require.True(t, ok)
		require.Equal(t, tc.streamID, got.StreamID)
		require.Equal(t, tc.offset, got.Offset)
		require.Equal(t, tc.length, got.Length)
	}
}

func TestDecodeTruncated(t *testing.T) {
	f := &DeadlineControlFrame{StreamID: 4, DeadlineMs: 100}
	enc := f.EncodeToBytes()
	_, err := DecodeFrameExact(enc[:len(enc)-1], false)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeTrailingBytes(t *testing.T) {
	f := &StreamDataDroppedFrame{StreamID: 4, Offset: 0, Length: 10}
	enc := append(f.EncodeToBytes(), 0xff)
	_, err := DecodeFrameExact(enc, false)
	require.Error(t, err)
}

func TestDecodeUnknownFrameType(t *testing.T) {
	_, err := DecodeFrameExact([]byte{0x00}, false)
	require.Error(t, err)
}
