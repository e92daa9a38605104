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
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/ZaparooProject/go-gud/internal/frame"
)

// ErrFrontEndClosed is returned once the link to the gadget is gone.
var ErrFrontEndClosed = errors.New("front-end link closed")

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// FrontEnd simulates the USB front-end microcontroller of the serial bridge.
// It relays host requests to the gadget as frames and returns the gadget's
// RESPONSE or STALL frames, so the host helpers of VirtualHost work over a
// real byte stream.
type FrontEnd struct {
	hostOps
	conn    io.ReadWriteCloser
	replies chan frame.Frame
	done    chan struct{}
	stop    chan struct{}
	counts  map[byte]int
	readErr error
	writeMu sync.Mutex
	hostMu  sync.Mutex
	countMu sync.Mutex
	once    sync.Once
}

// NewFrontEnd starts reading gadget frames from conn.
func NewFrontEnd(conn io.ReadWriteCloser) *FrontEnd {
	f := &FrontEnd{
		conn:    conn,
		replies: make(chan frame.Frame, 1),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		counts:  make(map[byte]int),
	}
	f.hostOps = hostOps{link: f}
	go f.readLoop()
	return f
}

func (f *FrontEnd) readLoop() {
	defer close(f.done)
	r := frame.NewReader(f.conn, "front-end")
	for {
		fr, err := r.ReadFrame()
		if err != nil {
			if gud.IsRetryable(err) && !gud.IsFatal(err) {
				continue
			}
			f.readErr = err
			return
		}
		f.count(fr.Type)
		if fr.Type != frame.TypeResponse && fr.Type != frame.TypeStall {
			continue
		}
		select {
		case f.replies <- fr:
		case <-f.stop:
			return
		}
	}
}

func (f *FrontEnd) count(frameType byte) {
	f.countMu.Lock()
	f.counts[frameType]++
	f.countMu.Unlock()
}

// Received returns how many frames of a type the gadget sent.
func (f *FrontEnd) Received(frameType byte) int {
	f.countMu.Lock()
	defer f.countMu.Unlock()
	return f.counts[frameType]
}

func (f *FrontEnd) write(ctx context.Context, buf []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if dw, ok := f.conn.(deadlineWriter); ok {
		deadline, _ := ctx.Deadline()
		_ = dw.SetWriteDeadline(deadline)
	}
	if _, err := f.conn.Write(buf); err != nil {
		return fmt.Errorf("front-end write: %w", err)
	}
	return nil
}

func (f *FrontEnd) send(ctx context.Context, frameType byte, payload []byte) error {
	buf, err := frame.Encode(frameType, payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.TypeName(frameType), err)
	}
	return f.write(ctx, buf)
}

// Control sends a SETUP frame carrying the OUT data stage and waits for the
// gadget's answer.
func (f *FrontEnd) Control(ctx context.Context, setup gud.SetupPacket, payload []byte) ([]byte, error) {
	f.hostMu.Lock()
	defer f.hostMu.Unlock()

	if err := f.send(ctx, frame.TypeSetup, append(setup.Marshal(), payload...)); err != nil {
		return nil, err
	}
	select {
	case fr := <-f.replies:
		if fr.Type == frame.TypeStall {
			return nil, fmt.Errorf("%s: %w", gud.RequestName(setup.Request), ErrStalled)
		}
		return fr.Payload, nil
	case <-f.done:
		return nil, f.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendBulk writes chunk as one or more BULK frames. The serial link has no
// completion handshake, so it returns once the bytes are written.
func (f *FrontEnd) SendBulk(ctx context.Context, chunk []byte) error {
	frames, err := frame.EncodeChunks(frame.TypeBulk, chunk)
	if err != nil {
		return fmt.Errorf("encode bulk frames: %w", err)
	}
	for _, buf := range frames {
		if err := f.write(ctx, buf); err != nil {
			return err
		}
	}
	return nil
}

// SendCorrupt writes a frame whose data checksum is wrong. The gadget must
// drop it and keep reading.
func (f *FrontEnd) SendCorrupt(ctx context.Context, frameType byte, payload []byte) error {
	buf, err := frame.Encode(frameType, payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.TypeName(frameType), err)
	}
	buf[len(buf)-2] ^= 0xFF
	return f.write(ctx, buf)
}

// SendNoise writes raw bytes outside any frame.
func (f *FrontEnd) SendNoise(ctx context.Context, noise []byte) error {
	return f.write(ctx, noise)
}

// Connect reports that the host enabled the function.
func (f *FrontEnd) Connect(ctx context.Context) error {
	return f.send(ctx, frame.TypeConnect, nil)
}

// Disconnect reports that the host went away.
func (f *FrontEnd) Disconnect(ctx context.Context) error {
	return f.send(ctx, frame.TypeDisconnect, nil)
}

// Close closes the link.
func (f *FrontEnd) Close() error {
	var err error
	f.once.Do(func() {
		close(f.stop)
		if cerr := f.conn.Close(); cerr != nil && !errors.Is(cerr, io.ErrClosedPipe) {
			err = fmt.Errorf("front-end close: %w", cerr)
		}
		<-f.done
	})
	return err
}

func (f *FrontEnd) closedErr() error {
	if f.readErr != nil {
		return fmt.Errorf("%w: %w", ErrFrontEndClosed, f.readErr)
	}
	return ErrFrontEndClosed
}
