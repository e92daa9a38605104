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

package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func patternFrame(format gud.PixelFormat, width, height uint32, seq uint64, damage ...gud.Rect) *gud.DamagedFrame {
	pitch := int(format.Pitch(uint64(width)))
	pixels := make([]byte, pitch*int(height))
	for i := range pixels {
		pixels[i] = byte(i*7 + int(seq))
	}
	return &gud.DamagedFrame{
		Pixels:   pixels,
		Damage:   damage,
		Sequence: seq,
		Pitch:    pitch,
		Width:    width,
		Height:   height,
		Format:   format,
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var passed []uint64
	next := gud.SinkFunc(func(_ context.Context, f *gud.DamagedFrame) error {
		passed = append(passed, f.Sequence)
		return nil
	})
	s := New(&buf, next)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	frames := []*gud.DamagedFrame{
		patternFrame(gud.FormatXRGB8888, 16, 8, 1, gud.Rect{Width: 16, Height: 8}),
		patternFrame(gud.FormatXRGB8888, 16, 8, 2, gud.Rect{X: 4, Y: 2, Width: 3, Height: 3}, gud.Rect{X: 10, Y: 6, Width: 6, Height: 2}),
	}
	for _, f := range frames {
		require.NoError(t, s.Present(context.Background(), f))
	}
	require.NoError(t, s.Close())
	assert.Equal(t, []uint64{1, 2}, passed)
	assert.Equal(t, uint64(2), s.Count())

	records, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Replaying both records reproduces the damaged area of the last frame.
	out := make([]byte, len(frames[1].Pixels))
	for i := range records {
		rec := records[i]
		assert.True(t, fixed.Equal(rec.Timestamp))
		assert.Equal(t, frames[i].Sequence, rec.Sequence)
		assert.Equal(t, frames[i].Damage, gud.DamageSet(rec.Damage))
		require.NoError(t, rec.Blit(out, frames[i].Pitch))
	}
	last := frames[1]
	for _, r := range last.Damage {
		got := (&gud.DamagedFrame{Pixels: out, Pitch: last.Pitch, Width: 16, Height: 8, Format: last.Format}).RectBytes(r)
		assert.Equal(t, last.RectBytes(r), got, "rect %s", r)
	}
}

func TestBlitSubBytePreservesNeighbours(t *testing.T) {
	t.Parallel()

	rec := Record{
		Damage: []gud.Rect{{X: 8, Y: 0, Width: 4, Height: 1}},
		Pixels: [][]byte{{0xF0}},
		Width:  16,
		Height: 1,
		Format: gud.FormatR1,
	}
	dst := []byte{0x00, 0x0F}
	require.NoError(t, rec.Blit(dst, 2))
	assert.Equal(t, []byte{0x00, 0xFF}, dst)
}

func TestBlitErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rec  Record
	}{
		{
			name: "missing pixels",
			rec:  Record{Damage: []gud.Rect{{Width: 1, Height: 1}}, Format: gud.FormatXRGB8888},
		},
		{
			name: "wrong size",
			rec: Record{Damage: []gud.Rect{{Width: 2, Height: 1}}, Pixels: [][]byte{{1, 2, 3}},
				Format: gud.FormatXRGB8888},
		},
		{
			name: "outside destination",
			rec: Record{Damage: []gud.Rect{{Y: 4, Width: 1, Height: 1}}, Pixels: [][]byte{{1, 2, 3, 4}},
				Format: gud.FormatXRGB8888},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, tt.rec.Blit(make([]byte, 16), 4))
		})
	}
}

func TestWriteFailureIsSinkUnavailable(t *testing.T) {
	t.Parallel()

	s := New(failingWriter{}, nil)
	err := s.Present(context.Background(), patternFrame(gud.FormatRGB565, 4, 4, 1, gud.Rect{Width: 4, Height: 4}))
	require.ErrorIs(t, err, gud.ErrSinkUnavailable)
	assert.Zero(t, s.Count())
}

func TestPresentAfterClose(t *testing.T) {
	t.Parallel()

	s := New(&bytes.Buffer{}, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	err := s.Present(context.Background(), patternFrame(gud.FormatRGB565, 4, 4, 1, gud.Rect{Width: 1, Height: 1}))
	require.ErrorIs(t, err, gud.ErrSinkUnavailable)
}

func TestCreateFile(t *testing.T) {
	t.Parallel()

	_, err := Create(t.TempDir()+"/missing/dir/capture.msgpack", nil)
	require.Error(t, err)
}

func TestReadAllCorrupt(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := New(&buf, nil)
	require.NoError(t, s.Present(context.Background(), patternFrame(gud.FormatRGB565, 4, 4, 1, gud.Rect{Width: 4, Height: 4})))
	buf.WriteByte(0xC1) // never used by msgpack

	records, err := ReadAll(&buf)
	require.Error(t, err)
	assert.Len(t, records, 1)
}
