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

// Package fbdev presents frames on a Linux framebuffer device. The device is
// used at whatever mode it is already in; frames are clipped to it.
package fbdev

import (
	"context"
	"encoding/binary"
	"fmt"

	gud "github.com/ZaparooProject/go-gud"
	"go.uber.org/zap"
)

// Screen describes the mapped framebuffer.
type Screen struct {
	Width        uint32
	Height       uint32
	BitsPerPixel uint32
	LineLength   uint32
}

// Sink writes damaged rectangles into framebuffer memory.
type Sink struct {
	mem    []byte
	unmap  func() error
	log    *zap.Logger
	screen Screen
}

// newSink wraps already mapped framebuffer memory.
func newSink(mem []byte, screen Screen, unmap func() error, log *zap.Logger) (*Sink, error) {
	if screen.BitsPerPixel != 16 && screen.BitsPerPixel != 32 {
		return nil, fmt.Errorf("unsupported framebuffer depth %d", screen.BitsPerPixel)
	}
	if need := uint64(screen.LineLength) * uint64(screen.Height); uint64(len(mem)) < need {
		return nil, fmt.Errorf("framebuffer memory of %d bytes is smaller than %d", len(mem), need)
	}
	if screen.LineLength < screen.Width*screen.BitsPerPixel/8 {
		return nil, fmt.Errorf("line length %d too short for width %d", screen.LineLength, screen.Width)
	}
	return &Sink{mem: mem, unmap: unmap, screen: screen, log: log}, nil
}

// Screen returns the framebuffer geometry.
func (s *Sink) Screen() Screen {
	return s.screen
}

// Present converts each damaged rectangle into the framebuffer's format.
func (s *Sink) Present(ctx context.Context, frame *gud.DamagedFrame) error {
	bytesPerPixel := int(s.screen.BitsPerPixel / 8)
	for _, r := range frame.Damage {
		if err := ctx.Err(); err != nil {
			return err
		}
		clipped, ok := s.clip(r)
		if !ok {
			continue
		}
		x, w := int(clipped.X), int(clipped.Width)
		for y := int(clipped.Y); y < int(clipped.Bottom()); y++ {
			off := y*int(s.screen.LineLength) + x*bytesPerPixel
			dst := s.mem[off : off+w*bytesPerPixel]
			if bytesPerPixel == 2 {
				gud.ConvertLineRGB565(dst, frame.Line(y), frame.Format, x, w, false)
			} else {
				gud.ConvertLineXRGB8888(dst, frame.Line(y), frame.Format, x, w)
			}
		}
	}
	s.log.Debug("presented",
		zap.Uint64("sequence", frame.Sequence),
		zap.Int("rects", len(frame.Damage)))
	return nil
}

func (s *Sink) clip(r gud.Rect) (gud.Rect, bool) {
	if r.X >= s.screen.Width || r.Y >= s.screen.Height {
		return gud.Rect{}, false
	}
	r.Width = min(r.Width, s.screen.Width-r.X)
	r.Height = min(r.Height, s.screen.Height-r.Y)
	return r, !r.Empty()
}

// Close unmaps the framebuffer.
func (s *Sink) Close() error {
	if s.unmap == nil {
		return nil
	}
	unmap := s.unmap
	s.unmap = nil
	return unmap()
}

// parseVarScreenInfo reads struct fb_var_screeninfo.
func parseVarScreenInfo(b []byte) (width, height, bpp uint32) {
	return binary.NativeEndian.Uint32(b[0:4]),
		binary.NativeEndian.Uint32(b[4:8]),
		binary.NativeEndian.Uint32(b[24:28])
}

// parseFixScreenInfo reads smem_len and line_length from struct
// fb_fix_screeninfo, whose layout depends on the size of unsigned long.
func parseFixScreenInfo(b []byte, ulong int) (smemLen, lineLength uint32) {
	smemOff := 16 + ulong
	lineOff := (16 + ulong + 4*4 + 2*3 + 3) &^ 3
	return binary.NativeEndian.Uint32(b[smemOff : smemOff+4]),
		binary.NativeEndian.Uint32(b[lineOff : lineOff+4])
}
