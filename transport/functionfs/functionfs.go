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

// Package functionfs implements gud.Transport on the Linux USB gadget
// FunctionFS interface. The caller mounts FunctionFS, supplies prebuilt
// descriptor and string blobs, and binds the gadget to a UDC once Open
// returns. ep0 carries control requests and bus events, ep1 is the bulk OUT
// endpoint.
package functionfs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	gud "github.com/ZaparooProject/go-gud"
	"go.uber.org/zap"
)

// FunctionFS event types (enum usb_functionfs_event_type)
const (
	EventBind    byte = 0
	EventUnbind  byte = 1
	EventEnable  byte = 2
	EventDisable byte = 3
	EventSetup   byte = 4
	EventSuspend byte = 5
	EventResume  byte = 6
)

// EventSize is sizeof(struct usb_functionfs_event).
const EventSize = 12

// maxEventsPerRead matches the kernel's event queue length.
const maxEventsPerRead = 4

// Event is one decoded ep0 event.
type Event struct {
	Setup gud.SetupPacket // valid for EventSetup
	Type  byte
}

// EventName returns a readable name for a FunctionFS event type.
func EventName(t byte) string {
	switch t {
	case EventBind:
		return "BIND"
	case EventUnbind:
		return "UNBIND"
	case EventEnable:
		return "ENABLE"
	case EventDisable:
		return "DISABLE"
	case EventSetup:
		return "SETUP"
	case EventSuspend:
		return "SUSPEND"
	case EventResume:
		return "RESUME"
	default:
		return fmt.Sprintf("EVENT(%d)", t)
	}
}

// ParseEvent decodes a 12-byte event record.
func ParseEvent(b []byte) (Event, error) {
	if len(b) < EventSize {
		return Event{}, fmt.Errorf("%w: event of %d bytes", gud.ErrFrameCorrupted, len(b))
	}
	ev := Event{Type: b[8]}
	if ev.Type == EventSetup {
		ev.Setup = gud.SetupPacket{
			RequestType: b[0],
			Request:     b[1],
			Value:       binary.LittleEndian.Uint16(b[2:4]),
			Index:       binary.LittleEndian.Uint16(b[4:6]),
			Length:      binary.LittleEndian.Uint16(b[6:8]),
		}
	}
	return ev, nil
}

// endpoint is ep0. Reads and writes must reach the kernel even when empty:
// a zero-length transfer is how the status stage is acknowledged or stalled.
type endpoint interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type controlRequest struct {
	data     []byte
	setup    gud.SetupPacket
	dataRead bool // OUT data stage already consumed, status stage done
}

// Transport implements gud.Transport over FunctionFS.
type Transport struct {
	ep0      endpoint
	bulk     io.ReadCloser
	log      *zap.Logger
	control  chan controlRequest
	complete chan struct{}
	events   chan gud.ConnectorEvent
	eventAck chan struct{}
	closing  chan struct{}
	done     chan struct{}
	enabled  chan struct{} // closed while the host has the function enabled
	bulkData chan []byte
	bulkDone chan struct{}
	readErr  error
	bulkErr  error
	pending  *controlRequest
	dir      string
	partial  []byte
	enableMu sync.Mutex
	stopOnce sync.Once

	bulkReadSize int
	eventSeen    bool // an event was returned and not yet acknowledged
}

type options struct {
	log          *zap.Logger
	bulkReadSize int
}

// Option configures a Transport.
type Option func(*options)

// WithBulkReadSize sets the size of each ep1 read. It defaults to
// gud.DefaultBulkChunkSize.
func WithBulkReadSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.bulkReadSize = size
		}
	}
}

// WithLogger sets the transport logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func newTransport(ep0 endpoint, bulk io.ReadCloser, dir string, opts ...Option) *Transport {
	o := options{log: gud.Logger().Named("functionfs"), bulkReadSize: gud.DefaultBulkChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Transport{
		ep0:      ep0,
		bulk:     bulk,
		dir:      dir,
		log:      o.log.With(zap.String("dir", dir)),
		control:  make(chan controlRequest),
		complete: make(chan struct{}),
		events:   make(chan gud.ConnectorEvent),
		eventAck: make(chan struct{}),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		enabled:  make(chan struct{}),
		bulkData: make(chan []byte, 4),
		bulkDone: make(chan struct{}),

		bulkReadSize: o.bulkReadSize,
	}
	go t.readEvents()
	go t.readBulk()
	return t
}

// readEvents owns ep0 between control requests. After a SETUP it hands the
// request to ReadControl and waits until the request was completed, since
// any read of ep0 while a request is pending is taken as its status stage.
// Connector events are likewise held until the next NextConnectorEvent call,
// so events and requests are handled in the order the host sent them.
func (t *Transport) readEvents() {
	defer close(t.done)

	buf := make([]byte, EventSize*maxEventsPerRead)
	for {
		n, err := t.ep0.Read(buf)
		if err != nil {
			t.readErr = t.classify("read events", err)
			return
		}
		for off := 0; off+EventSize <= n; off += EventSize {
			ev, _ := ParseEvent(buf[off : off+EventSize])
			if !t.handleEvent(ev) {
				t.readErr = gud.ErrTransportClosed
				return
			}
		}
	}
}

func (t *Transport) handleEvent(ev Event) bool {
	switch ev.Type {
	case EventSetup:
		return t.handleSetup(ev.Setup)
	case EventEnable:
		t.setEnabled(true)
		return t.sendEvent(gud.ConnectorConnected)
	case EventDisable, EventUnbind:
		t.setEnabled(false)
		return t.sendEvent(gud.ConnectorDisconnected)
	default:
		t.log.Debug("event", zap.String("type", EventName(ev.Type)))
		return true
	}
}

func (t *Transport) handleSetup(setup gud.SetupPacket) bool {
	req := controlRequest{setup: setup}
	if !setup.IsDeviceToHost() && setup.Length > 0 {
		req.data = make([]byte, setup.Length)
		n, err := t.ep0.Read(req.data)
		if err != nil {
			// The host cancelled the request; nothing to answer.
			t.log.Debug("OUT data stage failed", zap.Stringer("setup", setup), zap.Error(err))
			return true
		}
		req.data = req.data[:n]
		req.dataRead = true
	}

	select {
	case t.control <- req:
	case <-t.closing:
		return false
	}
	select {
	case <-t.complete:
		return true
	case <-t.closing:
		return false
	}
}

func (t *Transport) sendEvent(ev gud.ConnectorEvent) bool {
	select {
	case t.events <- ev:
	case <-t.closing:
		return false
	}
	select {
	case <-t.eventAck:
		return true
	case <-t.closing:
		return false
	}
}

func (t *Transport) setEnabled(on bool) {
	t.enableMu.Lock()
	defer t.enableMu.Unlock()
	select {
	case <-t.enabled:
		if !on {
			t.enabled = make(chan struct{})
		}
	default:
		if on {
			close(t.enabled)
		}
	}
}

func (t *Transport) enabledChan() <-chan struct{} {
	t.enableMu.Lock()
	defer t.enableMu.Unlock()
	return t.enabled
}

func (t *Transport) classify(op string, err error) error {
	select {
	case <-t.closing:
		return gud.ErrTransportClosed
	default:
	}
	return gud.NewTransportError(op, t.dir+"/ep0",
		fmt.Errorf("%w: %w", gud.ErrTransportRead, err), gud.ErrorTypePermanent)
}

func (t *Transport) terminal() error {
	<-t.done
	if t.readErr == nil {
		return gud.ErrTransportClosed
	}
	return t.readErr
}

// ReadControl implements gud.Transport. OUT data stages are already read,
// which also acknowledged them to the host.
func (t *Transport) ReadControl(ctx context.Context) (gud.SetupPacket, []byte, error) {
	if t.pending != nil {
		return gud.SetupPacket{}, nil, errors.New("previous control request not completed")
	}
	select {
	case req := <-t.control:
		t.pending = &req
		return req.setup, req.data, nil
	case <-t.done:
		return gud.SetupPacket{}, nil, t.terminal()
	case <-ctx.Done():
		return gud.SetupPacket{}, nil, ctx.Err()
	}
}

// WriteControlResponse implements gud.Transport.
func (t *Transport) WriteControlResponse(_ context.Context, data []byte) error {
	req, err := t.takePending("write response")
	if err != nil {
		return err
	}
	defer t.release()

	switch {
	case req.setup.IsDeviceToHost():
		_, err = t.ep0.Write(data)
	case !req.dataRead:
		_, err = t.ep0.Read(nil)
	}
	if err != nil {
		return gud.NewTransportError("write response", t.dir+"/ep0",
			fmt.Errorf("%w: %w", gud.ErrTransportWrite, err), gud.ErrorTypeTransient)
	}
	return nil
}

// StallControl implements gud.Transport by transferring in the opposite
// direction, which FunctionFS turns into a halt of ep0.
func (t *Transport) StallControl(_ context.Context) error {
	req, err := t.takePending("stall")
	if err != nil {
		return err
	}
	defer t.release()

	switch {
	case req.dataRead:
		t.log.Debug("cannot stall after OUT data stage", zap.Stringer("setup", req.setup))
		return nil
	case req.setup.IsDeviceToHost():
		_, err = t.ep0.Read(nil)
	default:
		_, err = t.ep0.Write(nil)
	}
	if err != nil && !isHalted(err) {
		return gud.NewTransportError("stall", t.dir+"/ep0", err, gud.ErrorTypeTransient)
	}
	return nil
}

func (t *Transport) takePending(op string) (*controlRequest, error) {
	if t.pending == nil {
		return nil, gud.NewTransportError(op, t.dir+"/ep0",
			errors.New("no control request pending"), gud.ErrorTypeTransient)
	}
	return t.pending, nil
}

func (t *Transport) release() {
	t.pending = nil
	select {
	case t.complete <- struct{}{}:
	case <-t.done:
	}
}

// readBulk feeds ep1 into the bulk queue while the function is enabled. A
// blocking read of ep1 cannot be interrupted, so it runs on its own and
// ReadBulk only waits on the queue.
func (t *Transport) readBulk() {
	defer close(t.bulkDone)

	for {
		select {
		case <-t.enabledChan():
		case <-t.closing:
			return
		}

		buf := make([]byte, t.bulkReadSize)
		n, err := t.bulk.Read(buf)
		switch {
		case err == nil:
			if n == 0 {
				continue
			}
			select {
			case t.bulkData <- buf[:n]:
			case <-t.closing:
				return
			}
		case isClosing(t.closing):
			return
		case isShutdown(err):
			// Disabled under us; the DISABLE event follows on ep0.
			t.log.Debug("bulk endpoint shut down")
			t.setEnabled(false)
		default:
			t.bulkErr = gud.NewTransportError("read bulk", t.dir+"/ep1",
				fmt.Errorf("%w: %w", gud.ErrTransportRead, err), gud.ErrorTypePermanent)
			return
		}
	}
}

func isClosing(closing <-chan struct{}) bool {
	select {
	case <-closing:
		return true
	default:
		return false
	}
}

// ReadBulk implements gud.Transport. Data queued from one ep1 read that
// does not fit buf is returned by the following calls.
func (t *Transport) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	if len(t.partial) == 0 {
		select {
		case chunk := <-t.bulkData:
			t.partial = chunk
		case <-t.bulkDone:
			if t.bulkErr != nil {
				return 0, t.bulkErr
			}
			return 0, gud.ErrTransportClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	n := copy(buf, t.partial)
	t.partial = t.partial[n:]
	return n, nil
}

// NextConnectorEvent implements gud.Transport. Calling it again acknowledges
// the previous event and lets ep0 be read past it.
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

// Close releases both endpoints. A bulk read blocked in the kernel may
// outlive Close until the host sends data or disables the function.
func (t *Transport) Close() error {
	var errs []error
	t.stopOnce.Do(func() {
		close(t.closing)
		if err := t.bulk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ep1: %w", err))
		}
		if err := t.ep0.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ep0: %w", err))
		}
		<-t.done
	})
	return errors.Join(errs...)
}

// Type implements gud.Transport.
func (*Transport) Type() gud.TransportType {
	return gud.TransportFunctionFS
}
