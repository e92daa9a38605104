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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelFormatGeometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format  PixelFormat
		bpp     uint64
		pitch   uint64 // for a 10 pixel line
		aligned uint64 // smallest x > 0 on a byte boundary
	}{
		{format: FormatR1, bpp: 1, pitch: 2, aligned: 8},
		{format: FormatXRGB1111, bpp: 4, pitch: 5, aligned: 2},
		{format: FormatR8, bpp: 8, pitch: 10, aligned: 1},
		{format: FormatRGB332, bpp: 8, pitch: 10, aligned: 1},
		{format: FormatRGB565, bpp: 16, pitch: 20, aligned: 1},
		{format: FormatRGB888, bpp: 24, pitch: 30, aligned: 1},
		{format: FormatXRGB8888, bpp: 32, pitch: 40, aligned: 1},
		{format: FormatARGB8888, bpp: 32, pitch: 40, aligned: 1},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.format.Valid())
			assert.Equal(t, tt.bpp, tt.format.BitsPerPixel())
			assert.Equal(t, tt.pitch, tt.format.Pitch(10))
			assert.True(t, tt.format.ByteAligned(tt.aligned))
			if tt.aligned > 1 {
				assert.False(t, tt.format.ByteAligned(tt.aligned-1))
			}
		})
	}
}

func TestUnknownPixelFormat(t *testing.T) {
	t.Parallel()

	f := PixelFormat(0x99)
	assert.False(t, f.Valid())
	assert.Zero(t, f.BitsPerPixel())
	assert.Equal(t, "PixelFormat(0x99)", f.String())
}

func TestParsePixelFormat(t *testing.T) {
	t.Parallel()

	f, err := ParsePixelFormat(" xrgb8888 ")
	require.NoError(t, err)
	assert.Equal(t, FormatXRGB8888, f)

	_, err = ParsePixelFormat("YUYV")
	require.ErrorIs(t, err, ErrUnsupportedParameter)
}

func TestPixelFormatRGB(t *testing.T) {
	t.Parallel()

	type rgb struct{ r, g, b uint8 }
	tests := []struct {
		name   string
		line   []byte
		format PixelFormat
		x      int
		want   rgb
	}{
		{name: "R1 set", format: FormatR1, line: []byte{0x80}, x: 0, want: rgb{255, 255, 255}},
		{name: "R1 clear", format: FormatR1, line: []byte{0x80}, x: 1, want: rgb{0, 0, 0}},
		{name: "R1 second byte", format: FormatR1, line: []byte{0x00, 0x01}, x: 15, want: rgb{255, 255, 255}},
		{name: "R8", format: FormatR8, line: []byte{0x10, 0x7F}, x: 1, want: rgb{0x7F, 0x7F, 0x7F}},
		{name: "XRGB1111 high nibble", format: FormatXRGB1111, line: []byte{0x42}, x: 0, want: rgb{255, 0, 0}},
		{name: "XRGB1111 low nibble", format: FormatXRGB1111, line: []byte{0x42}, x: 1, want: rgb{0, 255, 0}},
		{name: "RGB332 red", format: FormatRGB332, line: []byte{0xE0}, x: 0, want: rgb{255, 0, 0}},
		{name: "RGB332 blue", format: FormatRGB332, line: []byte{0x03}, x: 0, want: rgb{0, 0, 255}},
		{name: "RGB565 red", format: FormatRGB565, line: []byte{0x00, 0xF8}, x: 0, want: rgb{255, 0, 0}},
		{name: "RGB565 green", format: FormatRGB565, line: []byte{0xE0, 0x07}, x: 0, want: rgb{0, 255, 0}},
		{name: "RGB888", format: FormatRGB888, line: []byte{0, 0, 0, 0x01, 0x02, 0x03}, x: 1, want: rgb{3, 2, 1}},
		{name: "XRGB8888", format: FormatXRGB8888, line: []byte{0x10, 0x20, 0x30, 0x00}, x: 0, want: rgb{0x30, 0x20, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, g, b := tt.format.RGB(tt.line, tt.x)
			assert.Equal(t, tt.want, rgb{r, g, b})
		})
	}
}

func TestConvertLine(t *testing.T) {
	t.Parallel()

	src := []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0x00, 0x00} // red, blue in XRGB8888

	t.Run("RGB565 little endian", func(t *testing.T) {
		t.Parallel()
		dst := make([]byte, 4)
		ConvertLineRGB565(dst, src, FormatXRGB8888, 0, 2, false)
		assert.Equal(t, []byte{0x00, 0xF8, 0x1F, 0x00}, dst)
	})

	t.Run("RGB565 big endian from offset", func(t *testing.T) {
		t.Parallel()
		dst := make([]byte, 2)
		ConvertLineRGB565(dst, src, FormatXRGB8888, 1, 1, true)
		assert.Equal(t, []byte{0x00, 0x1F}, dst)
	})

	t.Run("XRGB8888 copies", func(t *testing.T) {
		t.Parallel()
		dst := make([]byte, 4)
		ConvertLineXRGB8888(dst, src, FormatXRGB8888, 1, 1)
		assert.Equal(t, src[4:8], dst)
	})

	t.Run("XRGB8888 from R1", func(t *testing.T) {
		t.Parallel()
		dst := make([]byte, 8)
		ConvertLineXRGB8888(dst, []byte{0x40}, FormatR1, 0, 2)
		assert.Equal(t, []byte{0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, dst)
	})
}

func TestPackRGB565(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint16(0xF800), PackRGB565(255, 0, 0))
	assert.Equal(t, uint16(0x07E0), PackRGB565(0, 255, 0))
	assert.Equal(t, uint16(0x001F), PackRGB565(0, 0, 255))
	assert.Equal(t, uint16(0xFFFF), PackRGB565(255, 255, 255))
}
