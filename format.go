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
	"strings"
)

// PixelFormat is a GUD pixel format code.
type PixelFormat uint8

// Pixel formats defined by the protocol. Multi-byte formats are little-endian
// in memory, sub-byte formats pack the leftmost pixel into the most
// significant bits.
const (
	FormatR1       PixelFormat = 0x01
	FormatR8       PixelFormat = 0x08
	FormatXRGB1111 PixelFormat = 0x20
	FormatRGB332   PixelFormat = 0x30
	FormatRGB565   PixelFormat = 0x40
	FormatRGB888   PixelFormat = 0x50
	FormatXRGB8888 PixelFormat = 0x80
	FormatARGB8888 PixelFormat = 0x81
)

var formatNames = map[PixelFormat]string{
	FormatR1:       "R1",
	FormatR8:       "R8",
	FormatXRGB1111: "XRGB1111",
	FormatRGB332:   "RGB332",
	FormatRGB565:   "RGB565",
	FormatRGB888:   "RGB888",
	FormatXRGB8888: "XRGB8888",
	FormatARGB8888: "ARGB8888",
}

// AllFormats lists every format this package can reassemble and convert.
var AllFormats = []PixelFormat{
	FormatR1, FormatR8, FormatXRGB1111, FormatRGB332,
	FormatRGB565, FormatRGB888, FormatXRGB8888, FormatARGB8888,
}

func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(0x%02X)", uint8(f))
}

// ParsePixelFormat parses a format name such as "XRGB8888" (case-insensitive).
func ParsePixelFormat(name string) (PixelFormat, error) {
	for f, n := range formatNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pixel format %q", ErrUnsupportedParameter, name)
}

// Valid reports whether f is a known format.
func (f PixelFormat) Valid() bool {
	_, ok := formatNames[f]
	return ok
}

// BitsPerPixel returns the storage size of one pixel, or 0 for unknown formats.
func (f PixelFormat) BitsPerPixel() uint64 {
	switch f {
	case FormatR1:
		return 1
	case FormatXRGB1111:
		return 4
	case FormatR8, FormatRGB332:
		return 8
	case FormatRGB565:
		return 16
	case FormatRGB888:
		return 24
	case FormatXRGB8888, FormatARGB8888:
		return 32
	default:
		return 0
	}
}

// Pitch returns the byte length of a line of width pixels.
func (f PixelFormat) Pitch(width uint64) uint64 {
	return (width*f.BitsPerPixel() + 7) / 8
}

// ByteAligned reports whether pixel x starts on a byte boundary.
func (f PixelFormat) ByteAligned(x uint64) bool {
	return (x*f.BitsPerPixel())%8 == 0
}

// RGB decodes the pixel at column x of a line. x is relative to the start of
// the line slice.
func (f PixelFormat) RGB(line []byte, x int) (r, g, b uint8) {
	switch f {
	case FormatR1:
		bit := (line[x/8] >> (7 - uint(x%8))) & 1
		v := uint8(0)
		if bit != 0 {
			v = 0xFF
		}
		return v, v, v
	case FormatR8:
		v := line[x]
		return v, v, v
	case FormatXRGB1111:
		nibble := line[x/2] >> 4
		if x%2 == 1 {
			nibble = line[x/2] & 0x0F
		}
		return expand1(nibble >> 2), expand1(nibble >> 1), expand1(nibble)
	case FormatRGB332:
		v := uint16(line[x])
		return uint8((v >> 5) * 255 / 7), uint8(((v >> 2) & 0x07) * 255 / 7), uint8((v & 0x03) * 255 / 3)
	case FormatRGB565:
		v := uint16(line[2*x]) | uint16(line[2*x+1])<<8
		return expand5(uint8(v >> 11)), expand6(uint8(v>>5) & 0x3F), expand5(uint8(v) & 0x1F)
	case FormatRGB888:
		return line[3*x+2], line[3*x+1], line[3*x]
	case FormatXRGB8888, FormatARGB8888:
		return line[4*x+2], line[4*x+1], line[4*x]
	default:
		return 0, 0, 0
	}
}

func expand1(v uint8) uint8 {
	if v&1 != 0 {
		return 0xFF
	}
	return 0
}

func expand5(v uint8) uint8 {
	return v<<3 | v>>2
}

func expand6(v uint8) uint8 {
	return v<<2 | v>>4
}

// PackRGB565 packs 8-bit channels into an RGB565 value.
func PackRGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// ConvertLineRGB565 converts width pixels starting at column x of src into
// RGB565 values written to dst. bigEndian selects the byte order expected by
// SPI panels; framebuffers use little-endian.
func ConvertLineRGB565(dst []byte, src []byte, f PixelFormat, x, width int, bigEndian bool) {
	for i := range width {
		v := PackRGB565(f.RGB(src, x+i))
		if bigEndian {
			dst[2*i] = byte(v >> 8)
			dst[2*i+1] = byte(v)
		} else {
			dst[2*i] = byte(v)
			dst[2*i+1] = byte(v >> 8)
		}
	}
}

// ConvertLineXRGB8888 converts width pixels starting at column x of src into
// little-endian XRGB8888 written to dst.
func ConvertLineXRGB8888(dst []byte, src []byte, f PixelFormat, x, width int) {
	if f == FormatXRGB8888 || f == FormatARGB8888 {
		copy(dst[:4*width], src[4*x:4*(x+width)])
		return
	}
	for i := range width {
		r, g, b := f.RGB(src, x+i)
		dst[4*i] = b
		dst[4*i+1] = g
		dst[4*i+2] = r
		dst[4*i+3] = 0xFF
	}
}
