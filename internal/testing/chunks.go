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
	"math/rand/v2"
)

// ChunkPlan lists the sizes in which a payload is cut into bulk transfers.
// The last chunk absorbs whatever the plan does not cover.
type ChunkPlan []int

// Split cuts data according to the plan. A nil plan yields one chunk.
func (p ChunkPlan) Split(data []byte) [][]byte {
	chunks := make([][]byte, 0, len(p)+1)
	for _, size := range p {
		if len(data) == 0 {
			break
		}
		size = min(max(size, 1), len(data))
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}

// EvenChunks splits total bytes into n nearly equal chunks.
func EvenChunks(total, n int) ChunkPlan {
	if n < 1 {
		n = 1
	}
	plan := make(ChunkPlan, 0, n)
	for i := range n {
		size := total / n
		if i < total%n {
			size++
		}
		if size > 0 {
			plan = append(plan, size)
		}
	}
	return plan
}

// RandomChunks splits total bytes into chunks of 1..maxChunk bytes chosen by
// a seeded generator, so a failing partition can be reproduced.
func RandomChunks(total, maxChunk int, seed uint64) ChunkPlan {
	rng := rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	if maxChunk < 1 {
		maxChunk = 1
	}
	var plan ChunkPlan
	for total > 0 {
		size := min(1+rng.IntN(maxChunk), total)
		plan = append(plan, size)
		total -= size
	}
	return plan
}

// USBPackets splits total bytes at max packet size boundaries, the way a
// full-speed or high-speed bulk endpoint delivers them.
func USBPackets(total, maxPacket int) ChunkPlan {
	if maxPacket < 1 {
		maxPacket = 512
	}
	plan := make(ChunkPlan, 0, total/maxPacket+1)
	for total > 0 {
		size := min(maxPacket, total)
		plan = append(plan, size)
		total -= size
	}
	return plan
}
