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
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// JitterConfig shapes how a JitteryPort delivers serial data.
type JitterConfig struct {
	// Plan cycles through fixed read sizes. It takes precedence over
	// random fragmentation.
	Plan            ChunkPlan
	MaxLatency      time.Duration
	MinFragment     int
	StallAfterBytes int
	StallDuration   time.Duration
	// USBPacketSize cuts reads at multiples of the bridge's packet size,
	// typically 64 bytes for full-speed USB-UART chips. Zero disables it.
	USBPacketSize int
	Seed          uint64
	Fragment      bool
}

// DefaultJitterConfig fragments reads randomly with a few milliseconds of
// latency.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:  2 * time.Millisecond,
		Fragment:    true,
		MinFragment: 1,
	}
}

// JitteryPort wraps the gadget end of a serial link and returns reads in
// the irregular pieces USB-UART bridges (FTDI, CH340) produce. Writes pass
// through unchanged. No data is lost: whatever a shortened read leaves
// behind is returned by the next one. Read must not be called concurrently.
type JitteryPort struct {
	backend   io.ReadWriteCloser
	rng       *rand.Rand
	pending   []byte
	scratch   []byte
	config    JitterConfig
	delivered atomic.Int64
	read      int
	next      int
	stalled   bool
}

// NewJitteryPort wraps backend. A zero seed picks a random one.
func NewJitteryPort(backend io.ReadWriteCloser, config JitterConfig) *JitteryPort {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	config.MinFragment = max(config.MinFragment, 1)
	return &JitteryPort{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
		scratch: make([]byte, 1024),
	}
}

func (j *JitteryPort) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Close closes the backend.
func (j *JitteryPort) Close() error {
	if err := j.backend.Close(); err != nil {
		return fmt.Errorf("jittery port close: %w", err)
	}
	return nil
}

// Read returns at most one fragment of the buffered backend data.
func (j *JitteryPort) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		if delay := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.pending) == 0 {
		n, err := j.backend.Read(j.scratch)
		if n == 0 {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.pending = append(j.pending[:0], j.scratch[:n]...)
	}

	n := min(len(buf), len(j.pending))
	n = j.limitStall(n)
	if size := j.config.USBPacketSize; size > 0 {
		n = min(n, size-j.read%size)
	}
	n = j.fragment(n)

	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.read += n
	j.delivered.Add(int64(n))
	return n, nil
}

// limitStall stops a read at StallAfterBytes and sleeps once that many bytes
// have been delivered.
func (j *JitteryPort) limitStall(n int) int {
	if j.config.StallAfterBytes <= 0 || j.stalled {
		return n
	}
	if j.read >= j.config.StallAfterBytes {
		j.stalled = true
		time.Sleep(j.config.StallDuration)
		return n
	}
	return min(n, j.config.StallAfterBytes-j.read)
}

func (j *JitteryPort) fragment(n int) int {
	if len(j.config.Plan) > 0 {
		size := max(j.config.Plan[j.next%len(j.config.Plan)], 1)
		j.next++
		return min(n, size)
	}
	if !j.config.Fragment || n <= j.config.MinFragment {
		return n
	}
	return j.config.MinFragment + j.rng.IntN(n-j.config.MinFragment+1)
}

// BytesRead returns how many bytes have been delivered to the reader.
func (j *JitteryPort) BytesRead() int64 {
	return j.delivered.Load()
}
