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

// GUD request codes (bRequest)
const (
	ReqGetStatus               byte = 0x00
	ReqGetDescriptor           byte = 0x01
	ReqGetFormats              byte = 0x40
	ReqGetProperties           byte = 0x41
	ReqGetConnectors           byte = 0x50
	ReqGetConnectorProperties  byte = 0x51
	ReqSetConnectorForceDetect byte = 0x53
	ReqGetConnectorStatus      byte = 0x54
	ReqGetConnectorModes       byte = 0x55
	ReqGetConnectorEDID        byte = 0x56
	ReqSetBuffer               byte = 0x60
	ReqSetStateCheck           byte = 0x61
	ReqSetStateCommit          byte = 0x62
	ReqSetControllerEnable     byte = 0x63
	ReqSetDisplayEnable        byte = 0x64
)

// Status codes returned by GET_STATUS
const (
	StatusOK                  byte = 0x00
	StatusBusy                byte = 0x01
	StatusRequestNotSupported byte = 0x02
	StatusProtocolError       byte = 0x03
	StatusInvalidParameter    byte = 0x04
	StatusError               byte = 0x05
)

// DisplayMagic identifies a GUD display descriptor.
const DisplayMagic uint32 = 0x1d50614d

// DescriptorVersion is the protocol version reported in the display descriptor.
const DescriptorVersion uint8 = 1

// Display descriptor flags
const (
	DisplayFlagStatusOnSet uint32 = 1 << 0 // Host reads GET_STATUS after every SET request
	DisplayFlagFullUpdate  uint32 = 1 << 1 // Host always sends full frames
)

// Compression schemes
const (
	CompressionNone byte = 0x00
	CompressionLZ4  byte = 0x01
)

// Connector types
const (
	ConnectorTypePanel       byte = 0
	ConnectorTypeVGA         byte = 1
	ConnectorTypeComposite   byte = 2
	ConnectorTypeSVideo      byte = 3
	ConnectorTypeComponent   byte = 4
	ConnectorTypeDVI         byte = 5
	ConnectorTypeDisplayPort byte = 6
	ConnectorTypeHDMI        byte = 7
)

// Connector flags
const (
	ConnectorFlagPollStatus uint32 = 1 << 0
	ConnectorFlagInterlace  uint32 = 1 << 1
	ConnectorFlagDoubleScan uint32 = 1 << 2
)

// Connector status byte
const (
	ConnectorStatusDisconnected  byte = 0x00
	ConnectorStatusConnected     byte = 0x01
	ConnectorStatusUnknown       byte = 0x02
	ConnectorStatusConnectedMask byte = 0x03
	ConnectorStatusChanged       byte = 0x80
)

// Force detect modes for SET_CONNECTOR_FORCE_DETECT
const (
	ForceDetectDefault      byte = 0x00
	ForceDetectConnected    byte = 0x01
	ForceDetectDisconnected byte = 0x02
)

// DisplayModeFlagPreferred marks the preferred mode in GET_CONNECTOR_MODES.
const DisplayModeFlagPreferred uint32 = 1 << 10

// Property identifiers
const (
	PropertyBacklightBrightness uint16 = 1
	PropertyRotation            uint16 = 50
)

// Rotation property bits, as in the DRM rotation property
const (
	Rotate0   uint64 = 1 << 0
	Rotate90  uint64 = 1 << 1
	Rotate180 uint64 = 1 << 2
	Rotate270 uint64 = 1 << 3
	ReflectX  uint64 = 1 << 4
	ReflectY  uint64 = 1 << 5
)

// BacklightMax is the largest accepted backlight brightness value.
const BacklightMax uint64 = 100

// Protocol limits
const (
	MaxFormats             = 32
	MaxProperties          = 32
	MaxConnectors          = 32
	MaxConnectorProperties = 32
	MaxConnectorModes      = 128
	MaxEDIDLength          = 2048
)
