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

// Package capture records presented frames as a stream of msgpack records,
// optionally passing every frame on to another sink. Captures replay with
// ReadAll and Record.Blit.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/ZaparooProject/go-gud/internal/syncutil"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Record is one presented frame. Pixels[i] holds the packed contents of
// Damage[i], laid out as a host would send it in SET_BUFFER.
type Record struct {
	Timestamp time.Time       `msgpack:"ts"`
	Damage    []gud.Rect      `msgpack:"damage"`
	Pixels    [][]byte        `msgpack:"pixels"`
	Sequence  uint64          `msgpack:"seq"`
	Width     uint32          `msgpack:"width"`
	Height    uint32          `msgpack:"height"`
	Format    gud.PixelFormat `msgpack:"format"`
}

// Blit writes the record's rectangles into a full-frame buffer of the
// record's geometry with the given line pitch.
func (r *Record) Blit(dst []byte, pitch int) error {
	if len(r.Pixels) != len(r.Damage) {
		return fmt.Errorf("record %d: %d rects but %d pixel blocks", r.Sequence, len(r.Damage), len(r.Pixels))
	}
	bpp := r.Format.BitsPerPixel()
	for i, rect := range r.Damage {
		linePitch := int(r.Format.Pitch(uint64(rect.Width)))
		src := r.Pixels[i]
		if len(src) != linePitch*int(rect.Height) {
			return fmt.Errorf("record %d: rect %s has %d bytes, want %d",
				r.Sequence, rect, len(src), linePitch*int(rect.Height))
		}
		offset := int(uint64(rect.X) * bpp / 8)
		rem := (uint64(rect.Width) * bpp) % 8
		for y := range int(rect.Height) {
			line := src[y*linePitch : (y+1)*linePitch]
			start := (int(rect.Y)+y)*pitch + offset
			if start+linePitch > len(dst) {
				return fmt.Errorf("record %d: rect %s outside destination", r.Sequence, rect)
			}
			out := dst[start : start+linePitch]
			if rem == 0 {
				copy(out, line)
				continue
			}
			copy(out[:linePitch-1], line[:linePitch-1])
			mask := byte(0xFF << (8 - rem))
			out[linePitch-1] = out[linePitch-1]&^mask | line[linePitch-1]&mask
		}
	}
	return nil
}

// Sink writes a Record per presented frame.
type Sink struct {
	next   gud.Sink
	w      *bufio.Writer
	enc    *msgpack.Encoder
	closer io.Closer
	log    *zap.Logger
	now    func() time.Time
	mu     syncutil.Mutex
	count  uint64
}

// New records to w. next, when not nil, receives every frame after it was
// recorded.
func New(w io.Writer, next gud.Sink) *Sink {
	bw := bufio.NewWriter(w)
	s := &Sink{
		next: next,
		w:    bw,
		enc:  msgpack.NewEncoder(bw),
		log:  gud.Logger().Named("capture"),
		now:  time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Create records into a new file at path.
func Create(path string, next gud.Sink) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	return New(f, next), nil
}

// Present implements gud.Sink.
func (s *Sink) Present(ctx context.Context, frame *gud.DamagedFrame) error {
	rec := Record{
		Timestamp: s.now(),
		Damage:    append([]gud.Rect(nil), frame.Damage...),
		Pixels:    make([][]byte, 0, len(frame.Damage)),
		Sequence:  frame.Sequence,
		Width:     frame.Width,
		Height:    frame.Height,
		Format:    frame.Format,
	}
	for _, r := range frame.Damage {
		rec.Pixels = append(rec.Pixels, frame.RectBytes(r))
	}

	s.mu.Lock()
	if s.enc == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: capture closed", gud.ErrSinkUnavailable)
	}
	err := s.enc.Encode(&rec)
	if err == nil {
		err = s.w.Flush()
	}
	if err == nil {
		s.count++
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write capture: %w", gud.ErrSinkUnavailable, err)
	}

	if s.next != nil {
		return s.next.Present(ctx, frame)
	}
	return nil
}

// Count returns how many frames were recorded.
func (s *Sink) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes the capture and closes the underlying writer if it is a
// Closer. The pass-through sink is left alone.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return nil
	}
	s.enc = nil
	err := s.w.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	s.log.Debug("capture closed", zap.Uint64("frames", s.count))
	return err
}

// ReadAll decodes every record in a capture stream.
func ReadAll(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var records []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
