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
	"fmt"

	"go.uber.org/zap"
)

// DispatchStats counts control requests.
type DispatchStats struct {
	Requests    uint64
	Rejected    uint64
	Unsupported uint64
}

// Dispatcher decodes control requests, validates them against the state
// machine and routes buffer announcements to the transfer engine. It is not
// safe for concurrent use; the session serializes access.
type Dispatcher struct {
	caps   *Capabilities
	sm     *StateMachine
	engine *TransferEngine
	log    *zap.Logger
	stats  DispatchStats
	status byte // Reported by the next GET_STATUS
}

// NewDispatcher wires a dispatcher to a session's state machine and engine.
func NewDispatcher(caps *Capabilities, sm *StateMachine, engine *TransferEngine, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{caps: caps, sm: sm, engine: engine, log: log}
}

// HandleControl executes one control request. GET requests return the
// response data truncated to wLength. SET requests return nil data. A
// rejected request returns a *ProtocolError and leaves state unchanged; its
// status is reported by the next GET_STATUS.
func (d *Dispatcher) HandleControl(setup SetupPacket, payload []byte) ([]byte, error) {
	d.stats.Requests++

	cmd, err := DecodeCommand(setup, payload)
	if err != nil {
		return nil, d.reject(setup.Request, err)
	}
	if u, ok := cmd.(Unsupported); ok {
		d.stats.Unsupported++
		return nil, d.reject(u.Code, ErrRequestNotSupported)
	}

	resp, err := d.execute(cmd)
	if err != nil {
		return nil, d.reject(cmd.Request(), err)
	}
	if _, ok := cmd.(GetStatus); !ok {
		d.status = StatusOK
	}
	if len(resp) > int(setup.Length) {
		resp = resp[:setup.Length]
	}
	d.log.Debug("request handled",
		zap.String("request", RequestName(cmd.Request())),
		zap.Int("response", len(resp)))
	return resp, nil
}

func (d *Dispatcher) reject(request byte, err error) error {
	d.stats.Rejected++
	kind, _ := KindOf(err)
	pe := NewProtocolError(kind, RequestName(request), request, err)
	d.status = StatusForError(err)
	d.log.Debug("request rejected",
		zap.String("request", RequestName(request)),
		zap.Uint8("status", d.status),
		zap.Error(err))
	return pe
}

//nolint:gocyclo // one case per protocol request
func (d *Dispatcher) execute(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case GetStatus:
		status := d.status
		d.status = StatusOK
		return []byte{status}, nil
	case GetDescriptor:
		desc := d.caps.Descriptor()
		return desc.MarshalBinary()
	case GetFormats:
		return d.caps.FormatBytes(), nil
	case GetProperties:
		return encodePropertySpecs(d.caps.Properties), nil
	case GetConnectors:
		return EncodeConnectors([]ConnectorDescriptor{{
			ConnectorType: d.caps.ConnectorType,
			Flags:         d.caps.ConnectorFlags,
		}}), nil
	case GetConnectorProperties:
		if err := checkConnector(c.Connector); err != nil {
			return nil, err
		}
		return encodePropertySpecs(d.caps.ConnectorProperties), nil
	case GetConnectorStatus:
		if err := checkConnector(c.Connector); err != nil {
			return nil, err
		}
		return []byte{d.sm.ConnectorStatus()}, nil
	case GetConnectorModes:
		if err := checkConnector(c.Connector); err != nil {
			return nil, err
		}
		return EncodeDisplayModes(d.caps.Modes), nil
	case GetConnectorEDID:
		if err := checkConnector(c.Connector); err != nil {
			return nil, err
		}
		return append([]byte(nil), d.caps.EDID...), nil
	case SetConnectorForceDetect:
		return nil, d.sm.SetForceDetect(c.Connector, c.Mode)
	case SetBuffer:
		state, err := d.sm.RequireNegotiated()
		if err != nil {
			return nil, err
		}
		return nil, d.engine.Begin(state, c.Buffer)
	case SetStateCheck:
		return nil, d.sm.Check(&c.State)
	case SetStateCommit:
		state, reset, err := d.sm.Commit()
		if err != nil {
			return nil, err
		}
		if reset {
			d.engine.Reset(state)
		}
		d.log.Info("display state committed",
			zap.Uint32("width", state.Width),
			zap.Uint32("height", state.Height),
			zap.Stringer("format", state.Format))
		return nil, nil
	case SetControllerEnable:
		d.sm.SetControllerEnable(c.Enable)
		return nil, nil
	case SetDisplayEnable:
		d.sm.SetDisplayEnable(c.Enable)
		return nil, nil
	default:
		return nil, ErrRequestNotSupported
	}
}

func checkConnector(index uint16) error {
	if index != 0 {
		return fmt.Errorf("%w: connector %d", ErrUnsupportedParameter, index)
	}
	return nil
}

// Status returns the status the next GET_STATUS will report.
func (d *Dispatcher) Status() byte {
	return d.status
}

// Stats returns a copy of the dispatch counters.
func (d *Dispatcher) Stats() DispatchStats {
	return d.stats
}
