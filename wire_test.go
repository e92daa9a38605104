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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetupPacket(t *testing.T) {
	t.Parallel()

	raw := []byte{0xC1, ReqGetConnectorModes, 0x00, 0x00, 0x02, 0x00, 0x00, 0x0C}
	setup, err := ParseSetupPacket(raw)
	require.NoError(t, err)

	assert.Equal(t, SetupPacket{
		RequestType: 0xC1,
		Request:     ReqGetConnectorModes,
		Index:       2,
		Length:      0x0C00,
	}, setup)
	assert.True(t, setup.IsDeviceToHost())
	assert.True(t, setup.IsVendorInterface())
	assert.Equal(t, raw, setup.Marshal())
	assert.Contains(t, setup.String(), "SETUP[IN]")

	_, err = ParseSetupPacket(raw[:7])
	require.ErrorIs(t, err, ErrMalformedCommand)
}

func TestSetupPacketClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		requestType byte
		in          bool
		vendor      bool
	}{
		{name: "vendor interface OUT", requestType: 0x41, in: false, vendor: true},
		{name: "vendor interface IN", requestType: 0xC1, in: true, vendor: true},
		{name: "standard device IN", requestType: 0x80, in: true, vendor: false},
		{name: "vendor device OUT", requestType: 0x40, in: false, vendor: false},
		{name: "class interface OUT", requestType: 0x21, in: false, vendor: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := SetupPacket{RequestType: tt.requestType}
			assert.Equal(t, tt.in, s.IsDeviceToHost())
			assert.Equal(t, tt.vendor, s.IsVendorInterface())
		})
	}
}

func TestDisplayDescriptorLayout(t *testing.T) {
	t.Parallel()

	d := DisplayDescriptor{
		Magic:         DisplayMagic,
		Version:       DescriptorVersion,
		Flags:         DisplayFlagStatusOnSet,
		Compression:   CompressionLZ4,
		MaxBufferSize: 0x00123456,
		MinWidth:      1,
		MaxWidth:      1920,
		MinHeight:     1,
		MaxHeight:     1080,
	}
	buf, err := d.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, DisplayDescriptorSize)

	assert.Equal(t, []byte{0x4d, 0x61, 0x50, 0x1d}, buf[0:4])
	assert.Equal(t, byte(1), buf[4])
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[5:9]))
	assert.Equal(t, CompressionLZ4, buf[9])
	assert.Equal(t, uint32(0x00123456), binary.LittleEndian.Uint32(buf[10:14]))
	assert.Equal(t, uint32(1920), binary.LittleEndian.Uint32(buf[18:22]))
	assert.Equal(t, uint32(1080), binary.LittleEndian.Uint32(buf[26:30]))

	var decoded DisplayDescriptor
	require.NoError(t, decoded.UnmarshalBinary(buf))
	assert.Equal(t, d, decoded)
	require.ErrorIs(t, decoded.UnmarshalBinary(buf[:29]), ErrMalformedCommand)
}

func TestSimpleMode(t *testing.T) {
	t.Parallel()

	m := SimpleMode(640, 480, 60)
	assert.Equal(t, uint32(18432), m.Clock)
	assert.Equal(t, uint16(640), m.HTotal)
	assert.Equal(t, uint16(480), m.VSyncEnd)

	buf := EncodeDisplayModes([]DisplayMode{m, SimpleMode(320, 240, 30)})
	require.Len(t, buf, 2*DisplayModeSize)
	assert.Equal(t, uint16(640), binary.LittleEndian.Uint16(buf[4:6]))
	assert.Equal(t, uint16(320), binary.LittleEndian.Uint16(buf[DisplayModeSize+4:DisplayModeSize+6]))
	assert.Equal(t, m, decodeDisplayMode(buf[:DisplayModeSize]))
}

func TestEncodeConnectorsAndProperties(t *testing.T) {
	t.Parallel()

	conns := EncodeConnectors([]ConnectorDescriptor{{ConnectorType: ConnectorTypeHDMI, Flags: ConnectorFlagPollStatus}})
	assert.Equal(t, []byte{ConnectorTypeHDMI, 0x01, 0x00, 0x00, 0x00}, conns)

	props := EncodeProperties([]Property{{Prop: PropertyRotation, Value: Rotate90}})
	assert.Equal(t, []byte{50, 0, 2, 0, 0, 0, 0, 0, 0, 0}, props)

	decoded, err := decodeProperties(props)
	require.NoError(t, err)
	assert.Equal(t, []Property{{Prop: PropertyRotation, Value: Rotate90}}, decoded)

	_, err = decodeProperties(props[:9])
	require.ErrorIs(t, err, ErrMalformedCommand)
}

func TestSetBufferRequestDecode(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 0, SetBufferRequestSize)
	for _, v := range []uint32{600, 400, 100, 200, 80000} {
		payload = binary.LittleEndian.AppendUint32(payload, v)
	}
	payload = append(payload, CompressionLZ4)
	payload = binary.LittleEndian.AppendUint32(payload, 1234)

	var req SetBufferRequest
	require.NoError(t, req.UnmarshalBinary(payload))
	assert.Equal(t, Rect{X: 600, Y: 400, Width: 100, Height: 200}, req.Rect())
	assert.Equal(t, uint32(80000), req.Length)
	assert.Equal(t, uint32(1234), req.WireLength())

	req.Compression = CompressionNone
	assert.Equal(t, uint32(80000), req.WireLength())

	require.ErrorIs(t, req.UnmarshalBinary(payload[:24]), ErrMalformedCommand)
	require.ErrorIs(t, req.UnmarshalBinary(append(payload, 0)), ErrMalformedCommand)
}

func TestStateRequestDecode(t *testing.T) {
	t.Parallel()

	in := StateRequest{
		Mode:       SimpleMode(640, 480, 60),
		Format:     FormatXRGB8888,
		Properties: []Property{{Prop: PropertyBacklightBrightness, Value: 40}},
	}
	buf, err := in.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, StateRequestBaseSize+PropertySize)
	assert.Equal(t, byte(FormatXRGB8888), buf[DisplayModeSize])

	var out StateRequest
	require.NoError(t, out.UnmarshalBinary(buf))
	assert.Equal(t, in, out)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "short", data: buf[:StateRequestBaseSize-1]},
		{name: "partial property", data: buf[:len(buf)-1]},
		{name: "too many properties", data: append(buf[:StateRequestBaseSize:StateRequestBaseSize],
			make([]byte, (MaxConnectorProperties+1)*PropertySize)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var s StateRequest
			require.ErrorIs(t, s.UnmarshalBinary(tt.data), ErrMalformedCommand)
		})
	}
}
