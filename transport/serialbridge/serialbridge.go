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

// Package serialbridge implements gud.Transport over a UART link to a USB
// front-end microcontroller. The front-end owns the USB device controller;
// it forwards SETUP packets, bulk OUT data and bus state as frames (see
// internal/frame) and replays RESPONSE and STALL frames onto ep0.
package serialbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/ZaparooProject/go-gud/internal/frame"
	"github.com/ZaparooProject/go-gud/internal/syncutil"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// DefaultBaudRate suits the CDC-ACM and high-speed UART bridges this is
// used with.
const DefaultBaudRate = 921600

const bulkQueueDepth = 64

type controlRequest struct {
	data  []byte
	setup gud.SetupPacket
}

// Transport implements gud.Transport for a serial-bridged front-end.
type Transport struct {
	port     io.ReadWriteCloser
	log      *zap.Logger
	control  chan controlRequest
	complete chan struct{}
	bulk     chan []byte
	events   chan gud.ConnectorEvent
	eventAck chan struct{}
	closing  chan struct{}
	done     chan struct{}
	readErr  error
	portName string
	partial  []byte // unread tail of the last bulk frame
	writeMu  syncutil.Mutex
	stopOnce sync.Once

	pending   bool // a control request was read and not yet answered
	eventSeen bool // an event was returned and not yet acknowledged
}

type options struct {
	log      *zap.Logger
	baudRate int
}

// Option configures a Transport.
type Option func(*options)

// WithBaudRate overrides DefaultBaudRate.
func WithBaudRate(rate int) Option {
	return func(o *options) {
		o.baudRate = rate
	}
}

// WithLogger sets the transport logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func buildOptions(opts []Option) options {
	o := options{baudRate: DefaultBaudRate, log: gud.Logger().Named("serialbridge")}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New opens portName and starts reading frames from it.
func New(portName string, opts ...Option) (*Transport, error) {
	o := buildOptions(opts)
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: o.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, gud.NewTransportError("open", portName,
			fmt.Errorf("failed to open serial port: %w", err), gud.ErrorTypeTransient)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to reset input buffer on %s: %w", portName, err)
	}
	return newTransport(port, portName, o), nil
}

// NewWithPort runs the bridge protocol over an already open stream.
func NewWithPort(port io.ReadWriteCloser, name string, opts ...Option) *Transport {
	return newTransport(port, name, buildOptions(opts))
}

func newTransport(port io.ReadWriteCloser, name string, o options) *Transport {
	t := &Transport{
		port:     port,
		portName: name,
		log:      o.log.With(zap.String("port", name)),
		control:  make(chan controlRequest),
		complete: make(chan struct{}, 1),
		bulk:     make(chan []byte, bulkQueueDepth),
		events:   make(chan gud.ConnectorEvent),
		eventAck: make(chan struct{}),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.demux()
	return t
}

// demux routes incoming frames to the control, bulk and event queues until
// the port fails or is closed. It does not read past a SETUP until the
// request is answered, nor past a bus event until the next
// NextConnectorEvent call, so both reach the session in wire order.
func (t *Transport) demux() {
	defer close(t.done)

	r := frame.NewReader(t.port, t.portName)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			if gud.IsRetryable(err) && !gud.IsFatal(err) {
				t.log.Debug("dropping frame", zap.Error(err))
				continue
			}
			t.readErr = t.classifyReadError(err)
			return
		}
		if !t.route(f) {
			t.readErr = gud.ErrTransportClosed
			return
		}
	}
}

func (t *Transport) classifyReadError(err error) error {
	select {
	case <-t.closing:
		return gud.ErrTransportClosed
	default:
	}
	t.log.Warn("serial link lost", zap.Error(err))
	return gud.NewTransportError("read frame", t.portName,
		fmt.Errorf("%w: %w", gud.ErrTransportRead, err), gud.ErrorTypePermanent)
}

// route returns false once the transport is closing.
func (t *Transport) route(f frame.Frame) bool {
	switch f.Type {
	case frame.TypeSetup:
		setup, err := gud.ParseSetupPacket(f.Payload)
		if err != nil {
			t.log.Debug("short SETUP frame", zap.Int("bytes", len(f.Payload)))
			return true
		}
		req := controlRequest{setup: setup, data: f.Payload[gud.SetupPacketSize:]}
		select {
		case t.control <- req:
		case <-t.closing:
			return false
		}
		return t.await(t.complete)
	case frame.TypeBulk:
		if len(f.Payload) == 0 {
			return true
		}
		select {
		case t.bulk <- f.Payload:
		case <-t.closing:
			return false
		}
	case frame.TypeConnect, frame.TypeDisconnect:
		ev := gud.ConnectorConnected
		if f.Type == frame.TypeDisconnect {
			ev = gud.ConnectorDisconnected
		}
		select {
		case t.events <- ev:
		case <-t.closing:
			return false
		}
		return t.await(t.eventAck)
	default:
		t.log.Debug("ignoring frame", zap.Stringer("frame", f))
	}
	return true
}

func (t *Transport) await(ack <-chan struct{}) bool {
	select {
	case <-ack:
		return true
	case <-t.closing:
		return false
	}
}

// terminal returns the error blocked calls report once the reader stopped.
func (t *Transport) terminal() error {
	<-t.done
	if t.readErr == nil {
		return gud.ErrTransportClosed
	}
	return t.readErr
}

// ReadControl implements gud.Transport.
func (t *Transport) ReadControl(ctx context.Context) (gud.SetupPacket, []byte, error) {
	select {
	case req := <-t.control:
		t.pending = true
		return req.setup, req.data, nil
	case <-t.done:
		return gud.SetupPacket{}, nil, t.terminal()
	case <-ctx.Done():
		return gud.SetupPacket{}, nil, ctx.Err()
	}
}

// WriteControlResponse sends a RESPONSE frame. The front-end uses it as the
// IN data stage, or as the go-ahead for the status stage of an OUT request.
func (t *Transport) WriteControlResponse(ctx context.Context, data []byte) error {
	defer t.finishControl()
	if len(data) > frame.MaxPayloadLength {
		return gud.NewDataTooLargeError("write response", t.portName)
	}
	return t.writeFrame(ctx, "write response", frame.TypeResponse, data)
}

// StallControl sends a STALL frame.
func (t *Transport) StallControl(ctx context.Context) error {
	defer t.finishControl()
	return t.writeFrame(ctx, "stall", frame.TypeStall, nil)
}

// finishControl lets demux read past the request ReadControl returned.
func (t *Transport) finishControl() {
	if !t.pending {
		return
	}
	t.pending = false
	select {
	case t.complete <- struct{}{}:
	default:
	}
}

func (t *Transport) writeFrame(ctx context.Context, op string, frameType byte, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closing:
		return gud.ErrTransportClosed
	default:
	}

	buf := frame.GetBuffer()
	defer frame.PutBuffer(buf)
	buf, err := frame.Append(buf, frameType, payload)
	if err != nil {
		return gud.NewTransportError(op, t.portName, err, gud.ErrorTypePermanent)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	n, err := t.port.Write(buf)
	if err != nil {
		return gud.NewTransportError(op, t.portName,
			fmt.Errorf("%w: %w", gud.ErrTransportWrite, err), gud.ErrorTypeTransient)
	}
	if n != len(buf) {
		return gud.NewTransportError(op, t.portName,
			fmt.Errorf("%w: short write %d of %d", gud.ErrTransportWrite, n, len(buf)), gud.ErrorTypeTransient)
	}
	return nil
}

// ReadBulk implements gud.Transport. A bulk frame larger than buf is
// returned over several calls.
func (t *Transport) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	if len(t.partial) == 0 {
		select {
		case chunk := <-t.bulk:
			t.partial = chunk
		case <-t.done:
			return 0, t.terminal()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	n := copy(buf, t.partial)
	t.partial = t.partial[n:]
	return n, nil
}

// NextConnectorEvent implements gud.Transport. Calling it again acknowledges
// the previous event.
func (t *Transport) NextConnectorEvent(ctx context.Context) (gud.ConnectorEvent, error) {
	if t.eventSeen {
		select {
		case t.eventAck <- struct{}{}:
			t.eventSeen = false
		case <-t.done:
			return 0, t.terminal()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	select {
	case ev := <-t.events:
		t.eventSeen = true
		return ev, nil
	case <-t.done:
		return 0, t.terminal()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops the reader and closes the port. It is safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.closing)
		if cerr := t.port.Close(); cerr != nil && !errors.Is(cerr, io.ErrClosedPipe) {
			err = fmt.Errorf("serial bridge close failed: %w", cerr)
		}
		<-t.done
	})
	return err
}

// Type implements gud.Transport.
func (*Transport) Type() gud.TransportType {
	return gud.TransportSerialBridge
}
