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

	gud "github.com/ZaparooProject/go-gud"
)

// hostLink is the raw transfer layer a simulated host drives.
type hostLink interface {
	Control(ctx context.Context, setup gud.SetupPacket, payload []byte) ([]byte, error)
	SendBulk(ctx context.Context, chunk []byte) error
}

// hostOps layers the GUD requests of the host driver on top of a hostLink.
type hostOps struct {
	link hostLink
}

// Get issues a GUD IN request.
func (h hostOps) Get(ctx context.Context, request byte, index, length uint16) ([]byte, error) {
	return h.link.Control(ctx, gud.SetupPacket{
		RequestType: gud.RequestDirectionIn | gud.RequestTypeVendor | gud.RequestRecipientInterface,
		Request:     request,
		Index:       index,
		Length:      length,
	}, nil)
}

// Set issues a GUD OUT request followed by GET_STATUS, like the host driver
// does for devices advertising STATUS_ON_SET.
func (h hostOps) Set(ctx context.Context, request byte, index uint16, payload []byte) error {
	_, err := h.link.Control(ctx, gud.SetupPacket{
		RequestType: gud.RequestDirectionOut | gud.RequestTypeVendor | gud.RequestRecipientInterface,
		Request:     request,
		Index:       index,
		Length:      uint16(len(payload)), //nolint:gosec // payloads are bounded by the protocol
	}, payload)
	if err != nil && !errors.Is(err, ErrStalled) {
		return err
	}
	status, serr := h.Status(ctx)
	if serr != nil {
		return serr
	}
	if status != gud.StatusOK {
		return &StatusError{Request: request, Status: status}
	}
	return err
}

// Status reads GET_STATUS.
func (h hostOps) Status(ctx context.Context) (byte, error) {
	data, err := h.Get(ctx, gud.ReqGetStatus, 0, 1)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("GET_STATUS returned %d bytes", len(data))
	}
	return data[0], nil
}

// Descriptor reads and decodes the display descriptor.
func (h hostOps) Descriptor(ctx context.Context) (gud.DisplayDescriptor, error) {
	var desc gud.DisplayDescriptor
	data, err := h.Get(ctx, gud.ReqGetDescriptor, 0, gud.DisplayDescriptorSize)
	if err != nil {
		return desc, err
	}
	return desc, desc.UnmarshalBinary(data)
}

// Formats reads the advertised pixel formats.
func (h hostOps) Formats(ctx context.Context) ([]gud.PixelFormat, error) {
	data, err := h.Get(ctx, gud.ReqGetFormats, 0, gud.MaxFormats)
	if err != nil {
		return nil, err
	}
	formats := make([]gud.PixelFormat, len(data))
	for i, b := range data {
		formats[i] = gud.PixelFormat(b)
	}
	return formats, nil
}

// Negotiate checks and commits a display state, then enables the controller
// and display, in the order the host driver uses.
func (h hostOps) Negotiate(ctx context.Context, state *gud.StateRequest) error {
	payload, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	steps := []struct {
		payload []byte
		request byte
	}{
		{request: gud.ReqSetStateCheck, payload: payload},
		{request: gud.ReqSetStateCommit},
		{request: gud.ReqSetControllerEnable, payload: []byte{1}},
		{request: gud.ReqSetDisplayEnable, payload: []byte{1}},
	}
	for _, step := range steps {
		if err := h.Set(ctx, step.request, 0, step.payload); err != nil {
			return err
		}
	}
	return nil
}

// SendBuffer announces a buffer update and streams data in the chunks of
// plan. A nil plan sends data in one piece.
func (h hostOps) SendBuffer(
	ctx context.Context, req *gud.SetBufferRequest, data []byte, plan ChunkPlan,
) error {
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	if err := h.Set(ctx, gud.ReqSetBuffer, 0, payload); err != nil {
		return err
	}
	for _, chunk := range plan.Split(data) {
		if err := h.link.SendBulk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}
