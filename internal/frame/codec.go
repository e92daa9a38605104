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

import (
	"fmt"
)

// Frame is one decoded frame.
type Frame struct {
	Payload []byte
	Type    byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%s(%d bytes)", TypeName(f.Type), len(f.Payload))
}

// Append encodes a frame onto dst and returns the extended slice.
func Append(dst []byte, frameType byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return dst, fmt.Errorf("%w: %d > %d", ErrInvalidLength, len(payload), MaxPayloadLength)
	}
	length := len(payload)
	dst = append(dst, Preamble, StartCode1, StartCode2,
		byte(length), byte(length>>8), LengthChecksum(length), frameType)
	dst = append(dst, payload...)

	sum := frameType
	for _, b := range payload {
		sum += b
	}
	return append(dst, -sum, Postamble), nil
}

// Encode returns a freshly allocated frame.
func Encode(frameType byte, payload []byte) ([]byte, error) {
	return Append(make([]byte, 0, len(payload)+Overhead), frameType, payload)
}

// EncodeChunks splits payload into MaxPayloadLength pieces and encodes each
// as a frame of the given type. An empty payload yields a single empty frame.
func EncodeChunks(frameType byte, payload []byte) ([][]byte, error) {
	if len(payload) == 0 {
		f, err := Encode(frameType, nil)
		if err != nil {
			return nil, err
		}
		return [][]byte{f}, nil
	}
	frames := make([][]byte, 0, (len(payload)+MaxPayloadLength-1)/MaxPayloadLength)
	for len(payload) > 0 {
		n := min(len(payload), MaxPayloadLength)
		f, err := Encode(frameType, payload[:n])
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		payload = payload[n:]
	}
	return frames, nil
}
