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

package gud

import (
	"sync"
	"sync/atomic"
)

// DamagedFrame is a full-resolution snapshot of the reassembled display
// contents plus the rectangles that changed since the previous frame handed
// to the sink. Frames are pooled: the consumer calls Release when done.
type DamagedFrame struct {
	pool     *framePool
	Pixels   []byte    // Height lines of Pitch bytes in Format
	Damage   DamageSet // Non-overlapping, each within Width x Height
	Sequence uint64
	Pitch    int
	Width    uint32
	Height   uint32
	Format   PixelFormat
	released atomic.Bool
}

// Line returns line y of the snapshot.
func (f *DamagedFrame) Line(y int) []byte {
	return f.Pixels[y*f.Pitch : (y+1)*f.Pitch]
}

// RectBytes returns the pixels of r packed line after line, the same layout a
// host sends for a SET_BUFFER of that rectangle. r must lie within the frame
// and start on a byte boundary.
func (f *DamagedFrame) RectBytes(r Rect) []byte {
	linePitch := f.Format.Pitch(uint64(r.Width))
	offset := uint64(r.X) * f.Format.BitsPerPixel() / 8
	out := make([]byte, 0, linePitch*uint64(r.Height))
	for y := uint64(r.Y); y < r.Bottom(); y++ {
		start := y*uint64(f.Pitch) + offset
		line := f.Pixels[start : start+linePitch]
		if rem := (uint64(r.Width) * f.Format.BitsPerPixel()) % 8; rem != 0 {
			out = append(out, line[:linePitch-1]...)
			out = append(out, line[linePitch-1]&trailingMask(rem))
			continue
		}
		out = append(out, line...)
	}
	return out
}

// Release returns the frame's buffer to its pool. It is safe to call more
// than once.
func (f *DamagedFrame) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	if f.pool != nil {
		f.pool.put(f)
	}
}

// trailingMask selects the top bits of a partially covered last byte.
func trailingMask(bits uint64) byte {
	return byte(0xFF << (8 - bits))
}

// framePool recycles snapshot buffers of one geometry.
type framePool struct {
	pool sync.Pool
	size int
}

func newFramePool(size int) *framePool {
	p := &framePool{size: size}
	p.pool.New = func() any {
		return &DamagedFrame{Pixels: make([]byte, size)}
	}
	return p
}

func (p *framePool) get() *DamagedFrame {
	f, ok := p.pool.Get().(*DamagedFrame)
	if !ok {
		f = &DamagedFrame{Pixels: make([]byte, p.size)}
	}
	f.pool = p
	f.Damage = f.Damage[:0]
	f.released.Store(false)
	return f
}

func (p *framePool) put(f *DamagedFrame) {
	if len(f.Pixels) != p.size {
		return
	}
	p.pool.Put(f)
}
