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

// Package testing provides an in-memory GUD host, a recording sink and
// chunking helpers for exercising sessions without USB hardware.
package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gud "github.com/ZaparooProject/go-gud"
)

// ErrStalled is returned by host-side requests the device stalled.
var ErrStalled = errors.New("control request stalled")

// StatusError is returned by Set when GET_STATUS reports a failure.
type StatusError struct {
	Request byte
	Status  byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d", gud.RequestName(e.Request), e.Status)
}

type controlRequest struct {
	payload []byte
	setup   gud.SetupPacket
}

type controlResult struct {
	data    []byte
	stalled bool
}

// VirtualHost is an in-memory gud.Transport whose other side behaves like the
// Linux gud host driver: every SET is followed by GET_STATUS and bulk writes
// complete only once the device has consumed them.
type VirtualHost struct {
	hostOps
	control   chan controlRequest
	results   chan controlResult
	bulk      chan []byte
	bulkDone  chan struct{}
	events    chan gud.ConnectorEvent
	eventDone chan struct{}
	closed    chan struct{}
	remainder []byte
	delivered bool
	eventSeen bool
	closeOnce sync.Once
	hostMu    sync.Mutex // Serializes host-side control transfers
}

// NewVirtualHost creates a connected virtual host.
func NewVirtualHost() *VirtualHost {
	h := &VirtualHost{
		control:   make(chan controlRequest),
		results:   make(chan controlResult),
		bulk:      make(chan []byte),
		bulkDone:  make(chan struct{}),
		events:    make(chan gud.ConnectorEvent),
		eventDone: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	h.hostOps = hostOps{link: h}
	return h
}

// ReadControl implements gud.Transport.
func (h *VirtualHost) ReadControl(ctx context.Context) (gud.SetupPacket, []byte, error) {
	select {
	case req := <-h.control:
		return req.setup, req.payload, nil
	case <-h.closed:
		return gud.SetupPacket{}, nil, gud.ErrTransportClosed
	case <-ctx.Done():
		return gud.SetupPacket{}, nil, ctx.Err()
	}
}

// WriteControlResponse implements gud.Transport.
func (h *VirtualHost) WriteControlResponse(ctx context.Context, data []byte) error {
	return h.complete(ctx, controlResult{data: append([]byte(nil), data...)})
}

// StallControl implements gud.Transport.
func (h *VirtualHost) StallControl(ctx context.Context) error {
	return h.complete(ctx, controlResult{stalled: true})
}

func (h *VirtualHost) complete(ctx context.Context, res controlResult) error {
	select {
	case h.results <- res:
		return nil
	case <-h.closed:
		return gud.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadBulk implements gud.Transport. Returning to ReadBulk acknowledges the
// previously delivered chunk to the host.
func (h *VirtualHost) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	if len(h.remainder) == 0 && h.delivered {
		h.delivered = false
		select {
		case h.bulkDone <- struct{}{}:
		case <-h.closed:
			return 0, gud.ErrTransportClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if len(h.remainder) == 0 {
		select {
		case chunk := <-h.bulk:
			h.remainder = chunk
			h.delivered = true
		case <-h.closed:
			return 0, gud.ErrTransportClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	n := copy(buf, h.remainder)
	h.remainder = h.remainder[n:]
	return n, nil
}

// NextConnectorEvent implements gud.Transport. Returning to it acknowledges
// the previous event to the host.
func (h *VirtualHost) NextConnectorEvent(ctx context.Context) (gud.ConnectorEvent, error) {
	if h.eventSeen {
		h.eventSeen = false
		select {
		case h.eventDone <- struct{}{}:
		case <-h.closed:
			return 0, gud.ErrTransportClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	select {
	case ev := <-h.events:
		h.eventSeen = true
		return ev, nil
	case <-h.closed:
		return 0, gud.ErrTransportClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close implements gud.Transport.
func (h *VirtualHost) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

// Type implements gud.Transport.
func (*VirtualHost) Type() gud.TransportType {
	return gud.TransportVirtual
}

// Control performs one raw control transfer and returns the IN data.
func (h *VirtualHost) Control(ctx context.Context, setup gud.SetupPacket, payload []byte) ([]byte, error) {
	h.hostMu.Lock()
	defer h.hostMu.Unlock()

	select {
	case h.control <- controlRequest{setup: setup, payload: append([]byte(nil), payload...)}:
	case <-h.closed:
		return nil, gud.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-h.results:
		if res.stalled {
			return nil, fmt.Errorf("%s: %w", gud.RequestName(setup.Request), ErrStalled)
		}
		return res.data, nil
	case <-h.closed:
		return nil, gud.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendBulk writes one chunk to the bulk endpoint and waits until the device
// has handled it.
func (h *VirtualHost) SendBulk(ctx context.Context, chunk []byte) error {
	select {
	case h.bulk <- append([]byte(nil), chunk...):
	case <-h.closed:
		return gud.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.bulkDone:
		return nil
	case <-h.closed:
		return gud.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect signals that the host enabled the function.
func (h *VirtualHost) Connect(ctx context.Context) error {
	return h.event(ctx, gud.ConnectorConnected)
}

// Disconnect signals that the host went away.
func (h *VirtualHost) Disconnect(ctx context.Context) error {
	return h.event(ctx, gud.ConnectorDisconnected)
}

func (h *VirtualHost) event(ctx context.Context, ev gud.ConnectorEvent) error {
	select {
	case h.events <- ev:
	case <-h.closed:
		return gud.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.eventDone:
		return nil
	case <-h.closed:
		return gud.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
