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

import "fmt"

// Command is a decoded GUD control request. The set of implementations is
// closed; Unsupported is the fallback for request codes this device does not
// know.
type Command interface {
	// Request returns the bRequest code the command was decoded from.
	Request() byte
	command()
}

type (
	GetStatus              struct{}
	GetDescriptor          struct{}
	GetFormats             struct{}
	GetProperties          struct{}
	GetConnectors          struct{}
	GetConnectorProperties struct{ Connector uint16 }
	GetConnectorStatus     struct{ Connector uint16 }
	GetConnectorModes      struct{ Connector uint16 }
	GetConnectorEDID       struct{ Connector uint16 }

	SetConnectorForceDetect struct {
		Connector uint16
		Mode      byte
	}
	SetBuffer           struct{ Buffer SetBufferRequest }
	SetStateCheck       struct{ State StateRequest }
	SetStateCommit      struct{}
	SetControllerEnable struct{ Enable bool }
	SetDisplayEnable    struct{ Enable bool }

	// Unsupported is any request code outside the GUD command set.
	Unsupported struct{ Code byte }
)

func (GetStatus) Request() byte { return ReqGetStatus }
func (GetDescriptor) Request() byte { return ReqGetDescriptor }
func (GetFormats) Request() byte { return ReqGetFormats }
func (GetProperties) Request() byte { return ReqGetProperties }
func (GetConnectors) Request() byte { return ReqGetConnectors }
func (GetConnectorProperties) Request() byte { return ReqGetConnectorProperties }
func (GetConnectorStatus) Request() byte { return ReqGetConnectorStatus }
func (GetConnectorModes) Request() byte { return ReqGetConnectorModes }
func (GetConnectorEDID) Request() byte { return ReqGetConnectorEDID }
func (SetConnectorForceDetect) Request() byte { return ReqSetConnectorForceDetect }
func (SetBuffer) Request() byte { return ReqSetBuffer }
func (SetStateCheck) Request() byte { return ReqSetStateCheck }
func (SetStateCommit) Request() byte { return ReqSetStateCommit }
func (SetControllerEnable) Request() byte { return ReqSetControllerEnable }
func (SetDisplayEnable) Request() byte { return ReqSetDisplayEnable }
func (u Unsupported) Request() byte { return u.Code }

func (GetStatus) command() {}
func (GetDescriptor) command() {}
func (GetFormats) command() {}
func (GetProperties) command() {}
func (GetConnectors) command() {}
func (GetConnectorProperties) command() {}
func (GetConnectorStatus) command() {}
func (GetConnectorModes) command() {}
func (GetConnectorEDID) command() {}
func (SetConnectorForceDetect) command() {}
func (SetBuffer) command() {}
func (SetStateCheck) command() {}
func (SetStateCommit) command() {}
func (SetControllerEnable) command() {}
func (SetDisplayEnable) command() {}
func (Unsupported) command() {}

// commandNames maps request codes to names for logging.
var commandNames = map[byte]string{
	ReqGetStatus:               "GET_STATUS",
	ReqGetDescriptor:           "GET_DESCRIPTOR",
	ReqGetFormats:              "GET_FORMATS",
	ReqGetProperties:           "GET_PROPERTIES",
	ReqGetConnectors:           "GET_CONNECTORS",
	ReqGetConnectorProperties:  "GET_CONNECTOR_PROPERTIES",
	ReqSetConnectorForceDetect: "SET_CONNECTOR_FORCE_DETECT",
	ReqGetConnectorStatus:      "GET_CONNECTOR_STATUS",
	ReqGetConnectorModes:       "GET_CONNECTOR_MODES",
	ReqGetConnectorEDID:        "GET_CONNECTOR_EDID",
	ReqSetBuffer:               "SET_BUFFER",
	ReqSetStateCheck:           "SET_STATE_CHECK",
	ReqSetStateCommit:          "SET_STATE_COMMIT",
	ReqSetControllerEnable:     "SET_CONTROLLER_ENABLE",
	ReqSetDisplayEnable:        "SET_DISPLAY_ENABLE",
}

// RequestName returns the protocol name of a request code.
func RequestName(code byte) string {
	if name, ok := commandNames[code]; ok {
		return name
	}
	return fmt.Sprintf("REQ_0x%02X", code)
}

// DecodeCommand decodes a control request and its OUT data stage. For IN
// requests payload must be empty. Unknown request codes decode to
// Unsupported without error; everything else that does not fit the request's
// fixed schema fails with ErrMalformedCommand.
func DecodeCommand(setup SetupPacket, payload []byte) (Command, error) {
	if !setup.IsVendorInterface() {
		return nil, fmt.Errorf("%w: request type 0x%02X is not vendor/interface",
			ErrMalformedCommand, setup.RequestType)
	}
	name, known := commandNames[setup.Request]
	if !known {
		return Unsupported{Code: setup.Request}, nil
	}

	in := isGetRequest(setup.Request)
	if setup.IsDeviceToHost() != in {
		return nil, fmt.Errorf("%w: %s sent in the wrong direction", ErrMalformedCommand, name)
	}
	if in {
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: %s carries %d bytes of OUT data", ErrMalformedCommand, name, len(payload))
		}
		return decodeGet(setup), nil
	}
	if len(payload) != int(setup.Length) {
		return nil, fmt.Errorf("%w: %s data stage is %d bytes, wLength %d",
			ErrMalformedCommand, name, len(payload), setup.Length)
	}
	return decodeSet(setup, name, payload)
}

func isGetRequest(code byte) bool {
	switch code {
	case ReqSetConnectorForceDetect, ReqSetBuffer, ReqSetStateCheck, ReqSetStateCommit,
		ReqSetControllerEnable, ReqSetDisplayEnable:
		return false
	default:
		return true
	}
}

func decodeGet(setup SetupPacket) Command {
	switch setup.Request {
	case ReqGetStatus:
		return GetStatus{}
	case ReqGetDescriptor:
		return GetDescriptor{}
	case ReqGetFormats:
		return GetFormats{}
	case ReqGetProperties:
		return GetProperties{}
	case ReqGetConnectors:
		return GetConnectors{}
	case ReqGetConnectorProperties:
		return GetConnectorProperties{Connector: setup.Index}
	case ReqGetConnectorStatus:
		return GetConnectorStatus{Connector: setup.Index}
	case ReqGetConnectorModes:
		return GetConnectorModes{Connector: setup.Index}
	default:
		return GetConnectorEDID{Connector: setup.Index}
	}
}

func decodeSet(setup SetupPacket, name string, payload []byte) (Command, error) {
	fixed := func(size int) error {
		if len(payload) != size {
			return fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrMalformedCommand, name, len(payload), size)
		}
		return nil
	}

	switch setup.Request {
	case ReqSetConnectorForceDetect:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return SetConnectorForceDetect{Connector: setup.Index, Mode: payload[0]}, nil
	case ReqSetBuffer:
		var cmd SetBuffer
		if err := cmd.Buffer.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return cmd, nil
	case ReqSetStateCheck:
		var cmd SetStateCheck
		if err := cmd.State.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return cmd, nil
	case ReqSetStateCommit:
		if err := fixed(0); err != nil {
			return nil, err
		}
		return SetStateCommit{}, nil
	case ReqSetControllerEnable:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return SetControllerEnable{Enable: payload[0] != 0}, nil
	default:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return SetDisplayEnable{Enable: payload[0] != 0}, nil
	}
}
