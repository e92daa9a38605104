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

package testing

import (
	"context"
	"fmt"
	"slices"
	"time"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/ZaparooProject/go-gud/internal/syncutil"
)

// RecordedFrame is a copy of a frame a RecordingSink was asked to present.
type RecordedFrame struct {
	Pixels   []byte
	Damage   gud.DamageSet
	Sequence uint64
	Pitch    int
	Width    uint32
	Height   uint32
	Format   gud.PixelFormat
}

// RectBytes returns the packed pixels of r, as a host would send them.
func (f *RecordedFrame) RectBytes(r gud.Rect) []byte {
	df := gud.DamagedFrame{
		Pixels: f.Pixels,
		Pitch:  f.Pitch,
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
	}
	return df.RectBytes(r)
}

// RecordingSink is a gud.Sink that keeps a copy of every frame and can be
// told to fail or to be slow.
type RecordingSink struct {
	failWith error
	notify   chan struct{}
	frames   []RecordedFrame
	delay    time.Duration
	mu       syncutil.RWMutex
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{notify: make(chan struct{}, 1)}
}

// Present implements gud.Sink.
func (s *RecordingSink) Present(ctx context.Context, frame *gud.DamagedFrame) error {
	s.mu.RLock()
	delay, failWith := s.delay, s.failWith
	s.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failWith != nil {
		return failWith
	}

	rec := RecordedFrame{
		Pixels:   slices.Clone(frame.Pixels),
		Damage:   slices.Clone(frame.Damage),
		Sequence: frame.Sequence,
		Pitch:    frame.Pitch,
		Width:    frame.Width,
		Height:   frame.Height,
		Format:   frame.Format,
	}
	s.mu.Lock()
	s.frames = append(s.frames, rec)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// FailWith makes every following Present return err. nil restores success.
func (s *RecordingSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// SetDelay makes every following Present take at least d.
func (s *RecordingSink) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Frames returns the recorded frames in presentation order.
func (s *RecordingSink) Frames() []RecordedFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.frames)
}

// Last returns the most recent frame.
func (s *RecordingSink) Last() (RecordedFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frames) == 0 {
		return RecordedFrame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// WaitFrames blocks until at least n frames were recorded or timeout passes.
func (s *RecordingSink) WaitFrames(n int, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		got := len(s.frames)
		s.mu.Unlock()
		if got >= n {
			return nil
		}
		select {
		case <-s.notify:
		case <-deadline.C:
			return fmt.Errorf("recorded %d frames, want %d", got, n)
		}
	}
}
