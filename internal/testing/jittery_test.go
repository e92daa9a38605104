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
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/ZaparooProject/go-gud/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferPort struct {
	*bytes.Buffer
}

func (bufferPort) Close() error { return nil }

func newBufferPort(data []byte) bufferPort {
	return bufferPort{Buffer: bytes.NewBuffer(data)}
}

func sequence(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

// readSizes drains the port with a large buffer and records every read.
func readSizes(t *testing.T, port *JitteryPort) ([]byte, []int) {
	t.Helper()
	var got []byte
	var sizes []int
	buf := make([]byte, 4096)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			got = append(got, buf[:n]...)
			sizes = append(sizes, n)
		}
		if err == io.EOF {
			return got, sizes
		}
		require.NoError(t, err)
	}
}

func TestJitteryPortPreservesData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config JitterConfig
	}{
		{name: "passthrough", config: JitterConfig{}},
		{name: "random fragments", config: JitterConfig{Fragment: true, MinFragment: 1, Seed: 42}},
		{name: "usb packets", config: JitterConfig{USBPacketSize: 64, Seed: 7}},
		{name: "plan", config: JitterConfig{Plan: ChunkPlan{1, 3, 17}}},
		{name: "everything", config: JitterConfig{
			Fragment: true, MinFragment: 2, USBPacketSize: 64, StallAfterBytes: 100, Seed: 99,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := sequence(3000)
			port := NewJitteryPort(newBufferPort(append([]byte(nil), data...)), tt.config)
			got, _ := readSizes(t, port)
			assert.Equal(t, data, got)
			assert.Equal(t, int64(len(data)), port.BytesRead())
		})
	}
}

func TestJitteryPortPlanSizes(t *testing.T) {
	t.Parallel()
	port := NewJitteryPort(newBufferPort(sequence(20)), JitterConfig{Plan: ChunkPlan{1, 3, 5}})
	_, sizes := readSizes(t, port)
	assert.Equal(t, []int{1, 3, 5, 1, 3, 5, 1, 1}, sizes)
}

func TestJitteryPortUSBBoundaries(t *testing.T) {
	t.Parallel()
	port := NewJitteryPort(newBufferPort(sequence(1000)), JitterConfig{
		USBPacketSize: 64, Fragment: true, MinFragment: 1, Seed: 3,
	})
	_, sizes := readSizes(t, port)

	pos := 0
	for _, n := range sizes {
		assert.Equal(t, pos/64, (pos+n-1)/64, "read at %d of %d bytes crosses a packet", pos, n)
		pos += n
	}
}

func TestJitteryPortStall(t *testing.T) {
	t.Parallel()
	port := NewJitteryPort(newBufferPort(sequence(200)), JitterConfig{
		StallAfterBytes: 50, StallDuration: 20 * time.Millisecond,
	})

	buf := make([]byte, 512)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	start := time.Now()
	n, err = port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 150, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestJitteryPortFramesSurvive(t *testing.T) {
	t.Parallel()

	var stream []byte
	payloads := [][]byte{{0x01}, sequence(700), nil, sequence(frame.MaxPayloadLength)}
	for _, p := range payloads {
		buf, err := frame.Encode(frame.TypeBulk, p)
		require.NoError(t, err)
		stream = append(stream, buf...)
	}

	cfg := DefaultJitterConfig()
	cfg.MaxLatency = 0
	cfg.USBPacketSize = 64
	cfg.Seed = 11
	r := frame.NewReader(NewJitteryPort(newBufferPort(stream), cfg), "jittery")
	for _, want := range payloads {
		f, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, frame.TypeBulk, f.Type)
		if len(want) == 0 {
			assert.Empty(t, f.Payload)
		} else {
			assert.Equal(t, want, f.Payload)
		}
	}
	assert.Zero(t, r.Skipped())
}

func TestJitteryPortLatency(t *testing.T) {
	t.Parallel()
	port := NewJitteryPort(newBufferPort(sequence(10)), JitterConfig{MaxLatency: 5 * time.Millisecond, Seed: 1})
	got, _ := readSizes(t, port)
	assert.Len(t, got, 10)
}
