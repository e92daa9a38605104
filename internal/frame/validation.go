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
	"errors"
	"fmt"

	gud "github.com/ZaparooProject/go-gud"
)

// ErrInvalidLength is returned when LEN and LCS disagree or LEN is too large.
var ErrInvalidLength = errors.New("invalid frame length")

// ValidateFrameLength checks the length bytes and length checksum and
// returns the payload length.
func ValidateFrameLength(lo, hi, lcs byte, operation, endpoint string) (int, error) {
	if lo+hi+lcs != 0 {
		return 0, gud.NewFrameCorruptedError(operation, endpoint)
	}
	length := int(lo) | int(hi)<<8
	if length > MaxPayloadLength {
		return 0, gud.NewTransportError(operation, endpoint,
			fmt.Errorf("%w: %d bytes", ErrInvalidLength, length), gud.ErrorTypeTransient)
	}
	return length, nil
}

// ValidateFrameChecksum reports whether buf[start:end], which ends with the
// DCS byte, sums to zero. Out of range bounds report false.
func ValidateFrameChecksum(buf []byte, start, end int) bool {
	if start < 0 || end < 0 || start > end || end > len(buf) {
		return false
	}
	sum := byte(0)
	for _, b := range buf[start:end] {
		sum += b
	}
	return sum == 0
}
