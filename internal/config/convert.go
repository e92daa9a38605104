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

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	gud "github.com/ZaparooProject/go-gud"
)

// Validate checks the parts of the file that can be checked without opening
// any device.
func (f *File) Validate() error {
	switch f.Transport.Kind {
	case TransportSerialBridge:
		if f.Transport.Port == "" {
			return errors.New("transport.port is required for the serial bridge")
		}
		if f.Transport.BaudRate <= 0 {
			return fmt.Errorf("invalid transport.baud_rate %d", f.Transport.BaudRate)
		}
	case TransportFunctionFS:
		if f.Transport.FunctionFS == "" {
			return errors.New("transport.functionfs is required for FunctionFS")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", f.Transport.Kind)
	}

	switch f.Sink.Kind {
	case SinkFramebuffer:
		if f.Sink.Device == "" {
			return errors.New("sink.device is required for fbdev")
		}
	case SinkSPIPanel:
		if f.Sink.DCPin == "" {
			return errors.New("sink.dc_pin is required for an SPI panel")
		}
	case SinkCapture:
		if f.Sink.CapturePath == "" {
			return errors.New("sink.capture_path is required for capture")
		}
	case SinkDiscard:
	default:
		return fmt.Errorf("unknown sink kind %q", f.Sink.Kind)
	}

	if f.Session.TransferTimeout.Duration < 0 {
		return fmt.Errorf("negative session.transfer_timeout %s", f.Session.TransferTimeout)
	}
	if f.Log.LockTimeout.Duration < 0 {
		return fmt.Errorf("negative log.lock_timeout %s", f.Log.LockTimeout)
	}
	return nil
}

// Capabilities builds the advertised capabilities from the display section.
// The EDID file, when set, is read here.
func (f *File) Capabilities() (gud.Capabilities, error) {
	caps := gud.Capabilities{
		ConnectorType: gud.ConnectorTypePanel,
		MaxBufferSize: f.Display.MaxBufferSize,
	}
	for _, name := range f.Display.Formats {
		format, err := gud.ParsePixelFormat(name)
		if err != nil {
			return caps, fmt.Errorf("display.formats: %w", err)
		}
		caps.Formats = append(caps.Formats, format)
	}
	for _, m := range f.Display.Modes {
		mode := gud.SimpleMode(m.Width, m.Height, m.Refresh)
		if m.Preferred {
			mode.Flags |= gud.DisplayModeFlagPreferred
		}
		caps.Modes = append(caps.Modes, mode)
	}
	if f.Display.LZ4 {
		caps.Compression |= gud.CompressionLZ4
	}
	if f.Display.FullUpdate {
		caps.Flags |= gud.DisplayFlagFullUpdate
	}
	if f.Display.Backlight {
		caps.Properties = append(caps.Properties, gud.PropertySpec{
			Prop:    gud.PropertyBacklightBrightness,
			Max:     gud.BacklightMax,
			Default: gud.BacklightMax,
		})
	}
	if f.Display.Rotation {
		caps.Properties = append(caps.Properties, gud.PropertySpec{
			Prop:    gud.PropertyRotation,
			Max:     gud.Rotate0 | gud.Rotate90 | gud.Rotate180 | gud.Rotate270,
			Default: gud.Rotate0,
		})
	}
	if f.Display.EDIDFile != "" {
		edid, err := os.ReadFile(f.Display.EDIDFile)
		if err != nil {
			return caps, fmt.Errorf("read EDID: %w", err)
		}
		caps.EDID = edid
	}

	normalized, err := caps.Normalize()
	if err != nil {
		return caps, fmt.Errorf("display: %w", err)
	}
	return normalized, nil
}

// SessionOptions returns the session options described by the file.
func (f *File) SessionOptions() ([]gud.Option, error) {
	caps, err := f.Capabilities()
	if err != nil {
		return nil, err
	}
	opts := []gud.Option{gud.WithCapabilities(caps)}
	if f.Session.TransferTimeout.Duration > 0 {
		opts = append(opts, gud.WithTransferTimeout(f.Session.TransferTimeout.Duration))
	}
	if f.Session.QueueDepth != 0 {
		opts = append(opts, gud.WithQueueDepth(f.Session.QueueDepth))
	}
	if f.Session.BulkChunkSize != 0 {
		opts = append(opts, gud.WithBulkChunkSize(f.Session.BulkChunkSize))
	}
	return opts, nil
}

// LockTimeout returns the configured lock wait before a deadlock report, or
// zero when unset.
func (f *File) LockTimeout() time.Duration {
	return f.Log.LockTimeout.Duration
}
