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

package frame

import "sync"

// BufferPool recycles frame-sized byte slices for the encoder and reader.
type BufferPool struct {
	frames sync.Pool
}

var defaultPool = &BufferPool{
	frames: sync.Pool{
		New: func() any {
			buf := make([]byte, 0, MaxFrameLength)
			return &buf
		},
	},
}

// GetBuffer returns an empty buffer with room for one maximum sized frame.
func GetBuffer() []byte {
	bufPtr, ok := defaultPool.frames.Get().(*[]byte)
	if !ok {
		return make([]byte, 0, MaxFrameLength)
	}
	return (*bufPtr)[:0]
}

// PutBuffer returns a buffer obtained from GetBuffer. Buffers that grew past
// a single frame are dropped.
func PutBuffer(buf []byte) {
	if cap(buf) != MaxFrameLength {
		return
	}
	buf = buf[:0]
	defaultPool.frames.Put(&buf)
}
