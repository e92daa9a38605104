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
	"bufio"
	"io"

	gud "github.com/ZaparooProject/go-gud"
)

// Reader decodes frames from a byte stream. Bytes before a start code are
// skipped, so the reader resynchronises after line noise or a frame whose
// length header is corrupt.
type Reader struct {
	r        *bufio.Reader
	endpoint string
	skipped  uint64
	dropped  uint64
}

// NewReader wraps r. The endpoint names the link in returned errors.
func NewReader(r io.Reader, endpoint string) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, MaxFrameLength), endpoint: endpoint}
}

// Skipped returns how many bytes were discarded while hunting for a start code.
func (r *Reader) Skipped() uint64 { return r.skipped }

// Dropped returns how many frames were discarded for bad checksums.
func (r *Reader) Dropped() uint64 { return r.dropped }

// ReadFrame returns the next frame. A frame whose data checksum fails is
// consumed and reported as a checksum mismatch so the caller can carry on
// reading; I/O errors from the underlying reader are returned unchanged.
// The returned payload is owned by the caller.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		if err := r.syncStart(); err != nil {
			return Frame{}, err
		}

		var hdr [3]byte
		if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
			return Frame{}, err
		}
		length, err := ValidateFrameLength(hdr[0], hdr[1], hdr[2], "read frame", r.endpoint)
		if err != nil {
			// Bad header: the start code was probably data. Keep scanning.
			r.skipped += 3
			continue
		}

		buf := GetBuffer()
		buf = buf[:length+3] // TYPE, payload, DCS, postamble
		if _, err := io.ReadFull(r.r, buf); err != nil {
			PutBuffer(buf)
			return Frame{}, err
		}
		if !ValidateFrameChecksum(buf, 0, length+2) {
			PutBuffer(buf)
			r.dropped++
			return Frame{}, gud.NewChecksumMismatchError("read frame", r.endpoint)
		}

		f := Frame{Type: buf[0], Payload: append([]byte(nil), buf[1:1+length]...)}
		PutBuffer(buf)
		return f, nil
	}
}

// syncStart consumes input up to and including the 00 FF start code.
func (r *Reader) syncStart() error {
	prevZero := false
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		if prevZero && b == StartCode2 {
			return nil
		}
		if b != StartCode1 {
			r.skipped++
		}
		prevZero = b == StartCode1
	}
}
