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
	"encoding/binary"
	"fmt"
)

// Request type bits (bmRequestType)
const (
	RequestDirectionMask      byte = 0x80
	RequestDirectionOut       byte = 0x00 // Host to device
	RequestDirectionIn        byte = 0x80 // Device to host
	RequestTypeMask           byte = 0x60
	RequestTypeVendor         byte = 0x40
	RequestRecipientMask      byte = 0x1F
	RequestRecipientInterface byte = 0x01
)

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// Wire sizes of the fixed GUD structures
const (
	DisplayDescriptorSize   = 30
	DisplayModeSize         = 24
	ConnectorDescriptorSize = 5
	PropertySize            = 10
	SetBufferRequestSize    = 25
	StateRequestBaseSize    = DisplayModeSize + 2
)

// SetupPacket is the 8-byte USB SETUP packet that opens a control transfer.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex (connector index for connector requests)
	Length      uint16 // wLength
}

// ParseSetupPacket parses 8 raw bytes into a SetupPacket.
func ParseSetupPacket(data []byte) (SetupPacket, error) {
	if len(data) < SetupPacketSize {
		return SetupPacket{}, fmt.Errorf("%w: setup packet is %d bytes", ErrMalformedCommand, len(data))
	}
	return SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:4]),
		Index:       binary.LittleEndian.Uint16(data[4:6]),
		Length:      binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

// Marshal returns the 8-byte wire form of the setup packet.
func (s SetupPacket) Marshal() []byte {
	buf := make([]byte, SetupPacketSize)
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return buf
}

// IsDeviceToHost reports whether the data stage flows from device to host.
func (s SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestDirectionMask == RequestDirectionIn
}

// IsVendorInterface reports whether the request is a vendor request addressed
// to an interface, which is how every GUD request is sent.
func (s SetupPacket) IsVendorInterface() bool {
	return s.RequestType&RequestTypeMask == RequestTypeVendor &&
		s.RequestType&RequestRecipientMask == RequestRecipientInterface
}

func (s SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	return fmt.Sprintf("SETUP[%s] type=0x%02X req=0x%02X value=0x%04X index=0x%04X len=%d",
		dir, s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// DisplayDescriptor is the GET_DESCRIPTOR response.
type DisplayDescriptor struct {
	Magic         uint32
	Version       uint8
	Flags         uint32
	Compression   uint8
	MaxBufferSize uint32
	MinWidth      uint32
	MaxWidth      uint32
	MinHeight     uint32
	MaxHeight     uint32
}

// MarshalBinary encodes the descriptor in wire order.
func (d *DisplayDescriptor) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, DisplayDescriptorSize)
	buf = binary.LittleEndian.AppendUint32(buf, d.Magic)
	buf = append(buf, d.Version)
	buf = binary.LittleEndian.AppendUint32(buf, d.Flags)
	buf = append(buf, d.Compression)
	buf = binary.LittleEndian.AppendUint32(buf, d.MaxBufferSize)
	buf = binary.LittleEndian.AppendUint32(buf, d.MinWidth)
	buf = binary.LittleEndian.AppendUint32(buf, d.MaxWidth)
	buf = binary.LittleEndian.AppendUint32(buf, d.MinHeight)
	buf = binary.LittleEndian.AppendUint32(buf, d.MaxHeight)
	return buf, nil
}

// UnmarshalBinary decodes a descriptor.
func (d *DisplayDescriptor) UnmarshalBinary(data []byte) error {
	if len(data) != DisplayDescriptorSize {
		return fmt.Errorf("%w: display descriptor is %d bytes, want %d",
			ErrMalformedCommand, len(data), DisplayDescriptorSize)
	}
	d.Magic = binary.LittleEndian.Uint32(data[0:4])
	d.Version = data[4]
	d.Flags = binary.LittleEndian.Uint32(data[5:9])
	d.Compression = data[9]
	d.MaxBufferSize = binary.LittleEndian.Uint32(data[10:14])
	d.MinWidth = binary.LittleEndian.Uint32(data[14:18])
	d.MaxWidth = binary.LittleEndian.Uint32(data[18:22])
	d.MinHeight = binary.LittleEndian.Uint32(data[22:26])
	d.MaxHeight = binary.LittleEndian.Uint32(data[26:30])
	return nil
}

// DisplayMode describes a video timing, as in GET_CONNECTOR_MODES and the
// first part of SET_STATE_CHECK.
type DisplayMode struct {
	Clock      uint32 // Pixel clock in kHz
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	Flags      uint32
}

// SimpleMode returns a mode without blanking, the way panels without real
// video timings report themselves.
func SimpleMode(width, height uint16, refreshHz uint32) DisplayMode {
	return DisplayMode{
		Clock:      refreshHz * uint32(width) * uint32(height) / 1000,
		HDisplay:   width,
		HSyncStart: width,
		HSyncEnd:   width,
		HTotal:     width,
		VDisplay:   height,
		VSyncStart: height,
		VSyncEnd:   height,
		VTotal:     height,
	}
}

func (m DisplayMode) appendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, m.Clock)
	buf = binary.LittleEndian.AppendUint16(buf, m.HDisplay)
	buf = binary.LittleEndian.AppendUint16(buf, m.HSyncStart)
	buf = binary.LittleEndian.AppendUint16(buf, m.HSyncEnd)
	buf = binary.LittleEndian.AppendUint16(buf, m.HTotal)
	buf = binary.LittleEndian.AppendUint16(buf, m.VDisplay)
	buf = binary.LittleEndian.AppendUint16(buf, m.VSyncStart)
	buf = binary.LittleEndian.AppendUint16(buf, m.VSyncEnd)
	buf = binary.LittleEndian.AppendUint16(buf, m.VTotal)
	return binary.LittleEndian.AppendUint32(buf, m.Flags)
}

func decodeDisplayMode(data []byte) DisplayMode {
	return DisplayMode{
		Clock:      binary.LittleEndian.Uint32(data[0:4]),
		HDisplay:   binary.LittleEndian.Uint16(data[4:6]),
		HSyncStart: binary.LittleEndian.Uint16(data[6:8]),
		HSyncEnd:   binary.LittleEndian.Uint16(data[8:10]),
		HTotal:     binary.LittleEndian.Uint16(data[10:12]),
		VDisplay:   binary.LittleEndian.Uint16(data[12:14]),
		VSyncStart: binary.LittleEndian.Uint16(data[14:16]),
		VSyncEnd:   binary.LittleEndian.Uint16(data[16:18]),
		VTotal:     binary.LittleEndian.Uint16(data[18:20]),
		Flags:      binary.LittleEndian.Uint32(data[20:24]),
	}
}

// EncodeDisplayModes encodes a mode list for GET_CONNECTOR_MODES.
func EncodeDisplayModes(modes []DisplayMode) []byte {
	buf := make([]byte, 0, len(modes)*DisplayModeSize)
	for _, m := range modes {
		buf = m.appendTo(buf)
	}
	return buf
}

// ConnectorDescriptor is one entry of the GET_CONNECTORS response.
type ConnectorDescriptor struct {
	ConnectorType uint8
	Flags         uint32
}

// EncodeConnectors encodes a connector list for GET_CONNECTORS.
func EncodeConnectors(connectors []ConnectorDescriptor) []byte {
	buf := make([]byte, 0, len(connectors)*ConnectorDescriptorSize)
	for _, c := range connectors {
		buf = append(buf, c.ConnectorType)
		buf = binary.LittleEndian.AppendUint32(buf, c.Flags)
	}
	return buf
}

// Property is a (prop, value) pair used in property lists and state requests.
type Property struct {
	Prop  uint16
	Value uint64
}

// EncodeProperties encodes a property list.
func EncodeProperties(props []Property) []byte {
	buf := make([]byte, 0, len(props)*PropertySize)
	for _, p := range props {
		buf = binary.LittleEndian.AppendUint16(buf, p.Prop)
		buf = binary.LittleEndian.AppendUint64(buf, p.Value)
	}
	return buf
}

func decodeProperties(data []byte) ([]Property, error) {
	if len(data)%PropertySize != 0 {
		return nil, fmt.Errorf("%w: property list of %d bytes", ErrMalformedCommand, len(data))
	}
	props := make([]Property, 0, len(data)/PropertySize)
	for off := 0; off < len(data); off += PropertySize {
		props = append(props, Property{
			Prop:  binary.LittleEndian.Uint16(data[off : off+2]),
			Value: binary.LittleEndian.Uint64(data[off+2 : off+PropertySize]),
		})
	}
	return props, nil
}

// SetBufferRequest is the SET_BUFFER payload announcing a bulk transfer.
type SetBufferRequest struct {
	X                uint32
	Y                uint32
	Width            uint32
	Height           uint32
	Length           uint32 // Uncompressed pixel byte count
	Compression      uint8
	CompressedLength uint32 // Bulk byte count when Compression is set
}

// Rect returns the rectangle the buffer update targets.
func (r *SetBufferRequest) Rect() Rect {
	return Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// WireLength is the number of bytes the host sends on the bulk endpoint.
func (r *SetBufferRequest) WireLength() uint32 {
	if r.Compression != CompressionNone {
		return r.CompressedLength
	}
	return r.Length
}

// MarshalBinary encodes the request in wire order.
func (r *SetBufferRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, SetBufferRequestSize)
	buf = binary.LittleEndian.AppendUint32(buf, r.X)
	buf = binary.LittleEndian.AppendUint32(buf, r.Y)
	buf = binary.LittleEndian.AppendUint32(buf, r.Width)
	buf = binary.LittleEndian.AppendUint32(buf, r.Height)
	buf = binary.LittleEndian.AppendUint32(buf, r.Length)
	buf = append(buf, r.Compression)
	buf = binary.LittleEndian.AppendUint32(buf, r.CompressedLength)
	return buf, nil
}

// UnmarshalBinary decodes a SET_BUFFER payload.
func (r *SetBufferRequest) UnmarshalBinary(data []byte) error {
	if len(data) != SetBufferRequestSize {
		return fmt.Errorf("%w: set buffer payload is %d bytes, want %d",
			ErrMalformedCommand, len(data), SetBufferRequestSize)
	}
	r.X = binary.LittleEndian.Uint32(data[0:4])
	r.Y = binary.LittleEndian.Uint32(data[4:8])
	r.Width = binary.LittleEndian.Uint32(data[8:12])
	r.Height = binary.LittleEndian.Uint32(data[12:16])
	r.Length = binary.LittleEndian.Uint32(data[16:20])
	r.Compression = data[20]
	r.CompressedLength = binary.LittleEndian.Uint32(data[21:25])
	return nil
}

// StateRequest is the SET_STATE_CHECK payload.
type StateRequest struct {
	Mode       DisplayMode
	Format     PixelFormat
	Connector  uint8
	Properties []Property
}

// MarshalBinary encodes the request in wire order.
func (s *StateRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, StateRequestBaseSize+len(s.Properties)*PropertySize)
	buf = s.Mode.appendTo(buf)
	buf = append(buf, byte(s.Format), s.Connector)
	buf = append(buf, EncodeProperties(s.Properties)...)
	return buf, nil
}

// UnmarshalBinary decodes a SET_STATE_CHECK payload.
func (s *StateRequest) UnmarshalBinary(data []byte) error {
	if len(data) < StateRequestBaseSize {
		return fmt.Errorf("%w: state request is %d bytes, want at least %d",
			ErrMalformedCommand, len(data), StateRequestBaseSize)
	}
	props, err := decodeProperties(data[StateRequestBaseSize:])
	if err != nil {
		return err
	}
	if len(props) > MaxConnectorProperties {
		return fmt.Errorf("%w: %d properties in state request", ErrMalformedCommand, len(props))
	}
	s.Mode = decodeDisplayMode(data[:DisplayModeSize])
	s.Format = PixelFormat(data[DisplayModeSize])
	s.Connector = data[DisplayModeSize+1]
	s.Properties = props
	return nil
}
