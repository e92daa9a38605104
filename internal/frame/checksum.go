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

// CalculateChecksum returns the byte that makes the sum of data plus the
// checksum zero modulo 256.
func CalculateChecksum(data []byte) byte {
	sum := byte(0)
	for _, b := range data {
		sum += b
	}
	return -sum
}

// LengthChecksum returns the LCS byte for a payload length.
func LengthChecksum(length int) byte {
	return -(byte(length) + byte(length>>8))
}
