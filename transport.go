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

package gud

import (
	"context"
	"fmt"
)

// Transport is the USB peripheral-function side of a session. Every method
// may block and must return promptly once ctx is done. ReadControl,
// WriteControlResponse and StallControl are called from one goroutine,
// ReadBulk from another and NextConnectorEvent from a third.
//
// Control requests and connector events come out in the order the host sent
// them. A transport does not hand out anything that followed a control
// request until the request was answered or stalled, nor anything that
// followed an event until NextConnectorEvent is called again.
type Transport interface {
	// ReadControl returns the next vendor control request and, for OUT
	// requests, its data stage.
	ReadControl(ctx context.Context) (SetupPacket, []byte, error)

	// WriteControlResponse completes the current control request. For IN
	// requests data is the data stage; for OUT requests it is nil and only
	// the status stage is acknowledged.
	WriteControlResponse(ctx context.Context, data []byte) error

	// StallControl rejects the current control request. Transports that
	// already consumed an OUT data stage cannot stall it; the host learns
	// the outcome from GET_STATUS instead.
	StallControl(ctx context.Context) error

	// ReadBulk reads the next chunk from the bulk OUT endpoint into buf.
	ReadBulk(ctx context.Context, buf []byte) (int, error)

	// NextConnectorEvent blocks until the host link comes or goes. Calling
	// it again means the previous event was handled.
	NextConnectorEvent(ctx context.Context) (ConnectorEvent, error)

	// Close releases the transport. Blocked calls return ErrTransportClosed.
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportFunctionFS is the Linux USB gadget FunctionFS interface.
	TransportFunctionFS TransportType = "functionfs"
	// TransportSerialBridge is a UART link to a USB front-end microcontroller.
	TransportSerialBridge TransportType = "serialbridge"
	// TransportVirtual is an in-memory host used by tests.
	TransportVirtual TransportType = "virtual"
)

// ConnectorEvent reports the presence of the USB host.
type ConnectorEvent int

const (
	// ConnectorConnected means the host enabled the function.
	ConnectorConnected ConnectorEvent = iota + 1
	// ConnectorDisconnected means the host disabled or unbound the function.
	ConnectorDisconnected
)

func (e ConnectorEvent) String() string {
	switch e {
	case ConnectorConnected:
		return "connected"
	case ConnectorDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnectorEvent(%d)", int(e))
	}
}
