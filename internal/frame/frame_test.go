// Copyright 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateChecksum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{name: "empty data", data: []byte{}, want: 0x00},
		{name: "single byte", data: []byte{0x01}, want: 0xFF},
		{name: "wraps", data: []byte{0xFF, 0x01}, want: 0x00},
		{name: "setup type and packet", data: []byte{0x01, 0xC1, 0x00, 0x00, 0x00, 0x00, 0x00, 0x1E, 0x00}, want: 0x20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CalculateChecksum(tt.data)
			assert.Equal(t, tt.want, got)
			assert.True(t, ValidateFrameChecksum(append(append([]byte{}, tt.data...), got), 0, len(tt.data)+1))
		})
	}
}

func TestLengthChecksum(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 8, 255, 256, 4096} {
		lcs := LengthChecksum(n)
		assert.Equal(t, byte(0), byte(n)+byte(n>>8)+lcs, "length %d", n)
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	got, err := Encode(TypeResponse, []byte{0xAA, 0x55})
	require.NoError(t, err)
	// 0x03 + 0xAA + 0x55 = 0x102, DCS = 0xFE
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x02, 0x00, 0xFE, 0x03, 0xAA, 0x55, 0xFE, 0x00}, got)

	empty, err := Encode(TypeStall, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x00, 0x00, 0x00, 0x05, 0xFB, 0x00}, empty)

	_, err = Encode(TypeBulk, make([]byte, MaxPayloadLength+1))
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestEncodeChunks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		size   int
		frames int
	}{
		{name: "empty", size: 0, frames: 1},
		{name: "one byte", size: 1, frames: 1},
		{name: "exactly one frame", size: MaxPayloadLength, frames: 1},
		{name: "spills", size: MaxPayloadLength + 1, frames: 2},
		{name: "several", size: 3*MaxPayloadLength + 17, frames: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := bytes.Repeat([]byte{0x5A}, tt.size)
			frames, err := EncodeChunks(TypeBulk, payload)
			require.NoError(t, err)
			assert.Len(t, frames, tt.frames)

			var stream bytes.Buffer
			for _, f := range frames {
				stream.Write(f)
			}
			r := NewReader(&stream, "test")
			var out []byte
			for range frames {
				f, err := r.ReadFrame()
				require.NoError(t, err)
				assert.Equal(t, TypeBulk, f.Type)
				out = append(out, f.Payload...)
			}
			assert.Len(t, out, tt.size)
		})
	}
}

func TestReaderRoundTrip(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	inputs := []Frame{
		{Type: TypeConnect},
		{Type: TypeSetup, Payload: []byte{0x41, 0x53, 0, 0, 0, 0, 0x1A, 0}},
		{Type: TypeBulk, Payload: bytes.Repeat([]byte{0x00, 0xFF}, 100)},
		{Type: TypeDisconnect},
	}
	for _, in := range inputs {
		f, err := Encode(in.Type, in.Payload)
		require.NoError(t, err)
		stream.Write(f)
	}

	r := NewReader(&stream, "test")
	for _, want := range inputs {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, len(want.Payload), len(got.Payload))
		if len(want.Payload) > 0 {
			assert.Equal(t, want.Payload, got.Payload)
		}
	}
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, r.Skipped())
	assert.Zero(t, r.Dropped())
}

func TestReaderResynchronises(t *testing.T) {
	t.Parallel()

	good, err := Encode(TypeSetup, []byte{1, 2, 3})
	require.NoError(t, err)

	tests := []struct {
		name   string
		prefix []byte
	}{
		{name: "line noise", prefix: []byte{0x12, 0x34, 0x56}},
		{name: "stray start code with bad length", prefix: []byte{0x00, 0xFF, 0x05, 0x00, 0x00}},
		{name: "truncated preamble", prefix: []byte{0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stream := append(append([]byte{}, tt.prefix...), good...)
			r := NewReader(bytes.NewReader(stream), "test")
			f, err := r.ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, TypeSetup, f.Type)
			assert.Equal(t, []byte{1, 2, 3}, f.Payload)
		})
	}
}

func TestReaderChecksumMismatch(t *testing.T) {
	t.Parallel()

	bad, err := Encode(TypeBulk, []byte{9, 9, 9})
	require.NoError(t, err)
	bad[8]++ // corrupt payload byte
	good, err := Encode(TypeConnect, nil)
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(append(bad, good...)), "test")
	_, err = r.ReadFrame()
	require.ErrorIs(t, err, gud.ErrChecksumMismatch)
	assert.True(t, gud.IsRetryable(err))

	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TypeConnect, f.Type)
	assert.Equal(t, uint64(1), r.Dropped())
}

func TestReaderTruncatedFrame(t *testing.T) {
	t.Parallel()

	f, err := Encode(TypeBulk, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(f[:len(f)-3]), "test")
	_, err = r.ReadFrame()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF))
}

func TestValidateFrameLength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		wantErr error
		lo, hi  byte
		lcs     byte
		want    int
	}{
		{name: "zero", lo: 0, hi: 0, lcs: 0, want: 0},
		{name: "eight", lo: 8, hi: 0, lcs: 0xF8, want: 8},
		{name: "max", lo: 0x00, hi: 0x10, lcs: 0xF0, want: MaxPayloadLength},
		{name: "bad lcs", lo: 8, hi: 0, lcs: 0, wantErr: gud.ErrFrameCorrupted},
		{name: "too long", lo: 0x01, hi: 0x10, lcs: 0xEF, wantErr: ErrInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateFrameLength(tt.lo, tt.hi, tt.lcs, "test", "test")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateFrameChecksumBounds(t *testing.T) {
	t.Parallel()
	buf := []byte{0x01, 0xFF}
	assert.True(t, ValidateFrameChecksum(buf, 0, 2))
	assert.False(t, ValidateFrameChecksum(buf, 0, 3))
	assert.False(t, ValidateFrameChecksum(buf, 2, 1))
	assert.False(t, ValidateFrameChecksum(buf, -1, 1))
}

func TestBufferPool(t *testing.T) {
	t.Parallel()
	buf := GetBuffer()
	assert.Empty(t, buf)
	assert.Equal(t, MaxFrameLength, cap(buf))
	PutBuffer(append(buf, 1, 2, 3))
	PutBuffer(make([]byte, 10)) // ignored

	again := GetBuffer()
	assert.Empty(t, again)
}
