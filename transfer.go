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
	"fmt"
	"time"

	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"
)

// PendingTransfer tracks one in-flight buffer update.
type PendingTransfer struct {
	Started      time.Time
	LastActivity time.Time
	Request      SetBufferRequest
	Expected     uint64 // Bytes expected on the bulk endpoint
	Received     uint64
}

// TransferStats counts transfer engine outcomes.
type TransferStats struct {
	Completed             uint64
	Aborted               uint64
	Superseded            uint64 // Pending transfers replaced by a new SET_BUFFER
	Rejected              uint64 // SET_BUFFER descriptors that failed validation
	DecompressionFailures uint64
	BytesReceived         uint64
}

// TransferEngine reassembles bulk data announced by SET_BUFFER into a shadow
// framebuffer and emits damaged frames. It is not safe for concurrent use;
// the session serializes access.
//
// Only one transfer is pending at a time. A SET_BUFFER received while a
// transfer is pending aborts the older transfer, since the host never
// interleaves buffer updates.
type TransferEngine struct {
	log       *zap.Logger
	now       func() time.Time
	pending   *PendingTransfer
	frames    *framePool
	state     NegotiatedDisplayState
	shadow    []byte
	wire      []byte // Bulk bytes of the pending transfer
	pixels    []byte // Decompression target
	dirty     DamageSet
	stats     TransferStats
	sequence  uint64
	maxBuffer uint32
	manual    bool
}

// NewTransferEngine creates an engine bounded by maxBufferSize bytes of
// uncompressed pixel data per transfer.
func NewTransferEngine(maxBufferSize uint32, log *zap.Logger) *TransferEngine {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransferEngine{
		log:       log,
		now:       time.Now,
		maxBuffer: maxBufferSize,
	}
}

// setManualFlush controls handoff. By default a completed transfer is
// flushed immediately and returned by Append. With manual flush the damage
// accumulates until Flush is called.
func (e *TransferEngine) setManualFlush(manual bool) {
	e.manual = manual
}

// Reset discards any pending transfer and reallocates the shadow buffer for
// state. A zero state releases the shadow buffer.
func (e *TransferEngine) Reset(state NegotiatedDisplayState) {
	e.Abort()
	e.state = state.clone()
	e.dirty = nil
	if state.Width == 0 || state.Height == 0 {
		e.shadow = nil
		e.frames = nil
		return
	}
	size := int(state.Pitch() * uint64(state.Height))
	e.shadow = make([]byte, size)
	e.frames = newFramePool(size)
	e.log.Debug("shadow buffer allocated",
		zap.Uint32("width", state.Width),
		zap.Uint32("height", state.Height),
		zap.Stringer("format", state.Format),
		zap.Int("bytes", size))
}

// Begin validates a SET_BUFFER descriptor against state and opens a pending
// transfer. Any transfer still pending is aborted first, whether or not the
// new descriptor is accepted. A rejected descriptor creates no transfer.
func (e *TransferEngine) Begin(state NegotiatedDisplayState, req SetBufferRequest) error {
	if e.pending != nil {
		e.log.Debug("pending transfer superseded",
			zap.Uint64("received", e.pending.Received),
			zap.Uint64("expected", e.pending.Expected))
		e.pending = nil
		e.stats.Superseded++
	}
	if state.Width == 0 || state.Height == 0 {
		return fmt.Errorf("%w: no display state committed", ErrInvalidState)
	}
	if !e.state.sameGeometry(&state) {
		e.Reset(state)
	}

	expected, err := e.validate(&state, &req)
	if err != nil {
		e.stats.Rejected++
		return err
	}

	now := e.now()
	e.pending = &PendingTransfer{
		Request:      req,
		Expected:     expected,
		Started:      now,
		LastActivity: now,
	}
	if uint64(cap(e.wire)) < expected {
		e.wire = make([]byte, 0, expected)
	}
	e.wire = e.wire[:0]
	e.log.Debug("transfer started",
		zap.Stringer("rect", req.Rect()),
		zap.Uint32("length", req.Length),
		zap.Uint8("compression", req.Compression),
		zap.Uint64("wire_length", expected))
	return nil
}

// validate checks a descriptor and returns the number of bulk bytes to expect.
// All arithmetic is done in uint64 on uint32 inputs and cannot wrap.
func (e *TransferEngine) validate(state *NegotiatedDisplayState, req *SetBufferRequest) (uint64, error) {
	rect := req.Rect()
	switch {
	case rect.Empty():
		return 0, fmt.Errorf("%w: empty rectangle %s", ErrInvalidBufferDescriptor, rect)
	case !rect.Within(state.Width, state.Height):
		return 0, fmt.Errorf("%w: rectangle %s exceeds %dx%d",
			ErrInvalidBufferDescriptor, rect, state.Width, state.Height)
	case !state.Format.ByteAligned(uint64(rect.X)):
		return 0, fmt.Errorf("%w: x=%d is not byte aligned for %s",
			ErrInvalidBufferDescriptor, rect.X, state.Format)
	}

	want := state.Format.Pitch(uint64(rect.Width)) * uint64(rect.Height)
	if uint64(req.Length) != want {
		return 0, fmt.Errorf("%w: length %d, rectangle %s in %s needs %d",
			ErrInvalidBufferDescriptor, req.Length, rect, state.Format, want)
	}
	if req.Length > e.maxBuffer {
		return 0, fmt.Errorf("%w: length %d exceeds max buffer size %d",
			ErrInvalidBufferDescriptor, req.Length, e.maxBuffer)
	}

	if req.Compression == CompressionNone {
		return want, nil
	}
	if req.Compression&^state.Compression != 0 {
		return 0, fmt.Errorf("%w: compression 0x%02X not negotiated",
			ErrInvalidBufferDescriptor, req.Compression)
	}
	bound := uint64(lz4.CompressBlockBound(int(req.Length)))
	if req.CompressedLength == 0 || uint64(req.CompressedLength) > bound {
		return 0, fmt.Errorf("%w: compressed length %d outside 1..%d",
			ErrInvalidBufferDescriptor, req.CompressedLength, bound)
	}
	return uint64(req.CompressedLength), nil
}

// Append adds bulk bytes to the pending transfer. It returns a frame once the
// transfer is complete, unless manual flush is enabled. Bytes arriving with
// no transfer pending are dropped with ErrInvalidState. An overrun aborts the
// transfer.
func (e *TransferEngine) Append(chunk []byte) (*DamagedFrame, error) {
	p := e.pending
	if p == nil {
		return nil, fmt.Errorf("%w: %d bulk bytes without a pending transfer", ErrInvalidState, len(chunk))
	}
	e.stats.BytesReceived += uint64(len(chunk))
	if p.Received+uint64(len(chunk)) > p.Expected {
		e.abort("overrun")
		return nil, fmt.Errorf("%w: %d bytes overrun a transfer of %d",
			ErrInvalidBufferDescriptor, p.Received+uint64(len(chunk))-p.Expected, p.Expected)
	}

	e.wire = append(e.wire, chunk...)
	p.Received += uint64(len(chunk))
	p.LastActivity = e.now()
	if p.Received < p.Expected {
		return nil, nil
	}

	e.pending = nil
	if err := e.complete(p); err != nil {
		return nil, err
	}
	if e.manual {
		return nil, nil
	}
	return e.Flush()
}

func (e *TransferEngine) complete(p *PendingTransfer) error {
	req := &p.Request
	pixels := e.wire
	if req.Compression&CompressionLZ4 != 0 {
		if cap(e.pixels) < int(req.Length) {
			e.pixels = make([]byte, req.Length)
		}
		e.pixels = e.pixels[:req.Length]
		n, err := lz4.UncompressBlock(e.wire, e.pixels)
		if err != nil || n != int(req.Length) {
			e.stats.DecompressionFailures++
			e.stats.Aborted++
			e.log.Debug("transfer discarded",
				zap.Stringer("rect", req.Rect()),
				zap.Int("decompressed", n),
				zap.Error(err))
			if err == nil {
				err = fmt.Errorf("decompressed %d bytes, want %d", n, req.Length)
			}
			return fmt.Errorf("%w: %w", ErrDecompression, err)
		}
		pixels = e.pixels
	}

	e.blit(req.Rect(), pixels)
	e.dirty = e.dirty.Add(req.Rect())
	e.stats.Completed++
	e.log.Debug("transfer complete",
		zap.Stringer("rect", req.Rect()),
		zap.Duration("elapsed", p.LastActivity.Sub(p.Started)))
	return nil
}

// blit copies packed rectangle pixels into the shadow buffer line by line.
func (e *TransferEngine) blit(rect Rect, pixels []byte) {
	bpp := e.state.Format.BitsPerPixel()
	pitch := e.state.Pitch()
	srcPitch := e.state.Format.Pitch(uint64(rect.Width))
	offset := uint64(rect.X) * bpp / 8
	rem := (uint64(rect.Width) * bpp) % 8

	for row := uint64(0); row < uint64(rect.Height); row++ {
		src := pixels[row*srcPitch : (row+1)*srcPitch]
		start := (uint64(rect.Y)+row)*pitch + offset
		dst := e.shadow[start : start+srcPitch]
		if rem == 0 {
			copy(dst, src)
			continue
		}
		last := srcPitch - 1
		copy(dst[:last], src[:last])
		mask := trailingMask(rem)
		dst[last] = dst[last]&^mask | src[last]&mask
	}
}

// Flush snapshots the shadow buffer with the damage accumulated since the
// last flush. It fails with ErrInvalidState when nothing changed.
func (e *TransferEngine) Flush() (*DamagedFrame, error) {
	if len(e.dirty) == 0 || e.frames == nil {
		return nil, fmt.Errorf("%w: no completed buffer update to flush", ErrInvalidState)
	}
	f := e.frames.get()
	copy(f.Pixels, e.shadow)
	f.Damage = append(f.Damage, e.dirty...)
	f.Width = e.state.Width
	f.Height = e.state.Height
	f.Format = e.state.Format
	f.Pitch = int(e.state.Pitch())
	e.sequence++
	f.Sequence = e.sequence
	e.dirty = e.dirty[:0]
	return f, nil
}

// Abort discards the pending transfer. It reports whether one existed.
func (e *TransferEngine) Abort() bool {
	if e.pending == nil {
		return false
	}
	e.abort("aborted")
	return true
}

func (e *TransferEngine) abort(reason string) {
	e.log.Debug("transfer "+reason,
		zap.Uint64("received", e.pending.Received),
		zap.Uint64("expected", e.pending.Expected))
	e.pending = nil
	e.wire = e.wire[:0]
	e.stats.Aborted++
}

// Pending reports whether a transfer is in flight.
func (e *TransferEngine) Pending() bool {
	return e.pending != nil
}

// PendingTransfer returns a copy of the in-flight transfer.
func (e *TransferEngine) PendingTransfer() (PendingTransfer, bool) {
	if e.pending == nil {
		return PendingTransfer{}, false
	}
	return *e.pending, true
}

// IdleSince returns how long the pending transfer has gone without data, or
// zero when nothing is pending.
func (e *TransferEngine) IdleSince(now time.Time) time.Duration {
	if e.pending == nil {
		return 0
	}
	return now.Sub(e.pending.LastActivity)
}

// Stats returns a copy of the engine counters.
func (e *TransferEngine) Stats() TransferStats {
	return e.stats
}
