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

// Package frame implements the framing used on the serial link between the
// gadget and a USB front-end microcontroller:
//
//	00 00 FF | LEN lo | LEN hi | LCS | TYPE | payload | DCS | 00
//
// LCS makes LEN lo + LEN hi + LCS zero modulo 256; DCS does the same for
// TYPE, the payload and DCS. LEN counts the payload only.
package frame

// Frame markers
const (
	Preamble   = 0x00 // Frame preamble byte
	StartCode1 = 0x00 // Start code byte 1
	StartCode2 = 0xFF // Start code byte 2
	Postamble  = 0x00 // Frame postamble byte
)

// Frame types
const (
	TypeSetup      byte = 0x01 // Front-end to gadget: 8-byte SETUP plus OUT data stage
	TypeBulk       byte = 0x02 // Front-end to gadget: bulk OUT data
	TypeResponse   byte = 0x03 // Gadget to front-end: IN data stage or OUT acknowledgement
	TypeStall      byte = 0x05 // Gadget to front-end: stall the current control transfer
	TypeConnect    byte = 0x10 // Front-end to gadget: host enabled the function
	TypeDisconnect byte = 0x11 // Front-end to gadget: host went away
)

// Frame size limits
const (
	MaxPayloadLength = 4096             // Maximum payload carried by one frame
	HeaderLength     = 7                // Preamble, start code, length, LCS and TYPE
	Overhead         = HeaderLength + 2 // Header plus DCS and postamble
	MaxFrameLength   = MaxPayloadLength + Overhead
)

// TypeName returns a readable name for a frame type.
func TypeName(t byte) string {
	switch t {
	case TypeSetup:
		return "SETUP"
	case TypeBulk:
		return "BULK"
	case TypeResponse:
		return "RESPONSE"
	case TypeStall:
		return "STALL"
	case TypeConnect:
		return "CONNECT"
	case TypeDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}
