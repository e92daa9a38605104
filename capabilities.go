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
	"errors"
	"fmt"
	"slices"
)

// PropertySpec advertises one property and bounds the values a state request
// may carry for it.
type PropertySpec struct {
	Prop uint16
	// Max is the largest accepted value. For PropertyRotation it is instead
	// the mask of supported rotation bits, as the host driver expects.
	Max uint64
	// Default is the value in effect before a state request sets one.
	Default uint64
}

// Accepts reports whether value is valid for the property.
func (p PropertySpec) Accepts(value uint64) bool {
	if p.Prop == PropertyRotation {
		return value != 0 && value&^p.Max == 0
	}
	return value <= p.Max
}

// Capabilities describes what the device advertises to the host.
type Capabilities struct {
	// Formats lists the accepted pixel formats, most preferred first.
	Formats []PixelFormat
	// Modes lists the connector's display modes. When set, a state request
	// must match one of them.
	Modes []DisplayMode
	// Properties are the controller properties reported by GET_PROPERTIES.
	Properties []PropertySpec
	// ConnectorProperties are reported by GET_CONNECTOR_PROPERTIES.
	ConnectorProperties []PropertySpec
	// EDID is returned raw by GET_CONNECTOR_EDID.
	EDID []byte

	// Resolution bounds. Zero values are derived from Modes.
	MinWidth  uint32
	MaxWidth  uint32
	MinHeight uint32
	MaxHeight uint32

	// MaxBufferSize caps a single SET_BUFFER length. Zero derives it from the
	// largest mode in the largest format.
	MaxBufferSize uint32

	Compression    byte   // Supported compression bits
	Flags          uint32 // Extra descriptor flags, e.g. DisplayFlagFullUpdate
	ConnectorType  byte
	ConnectorFlags uint32
}

// DefaultCapabilities describes a 640x480 panel accepting the common formats
// with LZ4 compression.
func DefaultCapabilities() Capabilities {
	mode := SimpleMode(640, 480, 60)
	mode.Flags |= DisplayModeFlagPreferred
	return Capabilities{
		Formats:       []PixelFormat{FormatXRGB8888, FormatRGB565, FormatRGB888, FormatR1},
		Modes:         []DisplayMode{mode},
		Compression:   CompressionLZ4,
		ConnectorType: ConnectorTypePanel,
	}
}

// Normalize fills derived fields and validates the result.
func (c Capabilities) Normalize() (Capabilities, error) {
	c.Formats = slices.Clone(c.Formats)
	c.Modes = slices.Clone(c.Modes)
	c.Properties = slices.Clone(c.Properties)
	c.ConnectorProperties = slices.Clone(c.ConnectorProperties)
	c.EDID = slices.Clone(c.EDID)

	if c.MinWidth == 0 && c.MaxWidth == 0 && c.MinHeight == 0 && c.MaxHeight == 0 {
		if len(c.Modes) == 0 {
			return c, errors.New("capabilities need display modes or explicit resolution bounds")
		}
		c.MinWidth, c.MinHeight = ^uint32(0), ^uint32(0)
		for _, m := range c.Modes {
			c.MinWidth = min(c.MinWidth, uint32(m.HDisplay))
			c.MaxWidth = max(c.MaxWidth, uint32(m.HDisplay))
			c.MinHeight = min(c.MinHeight, uint32(m.VDisplay))
			c.MaxHeight = max(c.MaxHeight, uint32(m.VDisplay))
		}
	}
	if c.MaxBufferSize == 0 {
		var largest uint64
		for _, f := range c.Formats {
			largest = max(largest, f.Pitch(uint64(c.MaxWidth))*uint64(c.MaxHeight))
		}
		if largest > uint64(^uint32(0)) {
			return c, fmt.Errorf("largest frame of %d bytes exceeds the protocol limit", largest)
		}
		c.MaxBufferSize = uint32(largest)
	}
	return c, c.Validate()
}

// Validate checks the capabilities against protocol limits.
func (c *Capabilities) Validate() error {
	switch {
	case len(c.Formats) == 0:
		return errors.New("at least one pixel format is required")
	case len(c.Formats) > MaxFormats:
		return fmt.Errorf("%d formats exceed the limit of %d", len(c.Formats), MaxFormats)
	case len(c.Modes) > MaxConnectorModes:
		return fmt.Errorf("%d modes exceed the limit of %d", len(c.Modes), MaxConnectorModes)
	case len(c.Properties) > MaxProperties:
		return fmt.Errorf("%d properties exceed the limit of %d", len(c.Properties), MaxProperties)
	case len(c.ConnectorProperties) > MaxConnectorProperties:
		return fmt.Errorf("%d connector properties exceed the limit of %d",
			len(c.ConnectorProperties), MaxConnectorProperties)
	case len(c.EDID) > MaxEDIDLength:
		return fmt.Errorf("EDID of %d bytes exceeds the limit of %d", len(c.EDID), MaxEDIDLength)
	case c.MinWidth == 0 || c.MinHeight == 0:
		return errors.New("minimum resolution must be non-zero")
	case c.MinWidth > c.MaxWidth || c.MinHeight > c.MaxHeight:
		return fmt.Errorf("invalid resolution bounds %dx%d..%dx%d",
			c.MinWidth, c.MinHeight, c.MaxWidth, c.MaxHeight)
	case c.MaxBufferSize == 0:
		return errors.New("max buffer size must be non-zero")
	case c.Compression&^CompressionLZ4 != 0:
		return fmt.Errorf("unsupported compression bits 0x%02X", c.Compression)
	}
	for _, f := range c.Formats {
		if !f.Valid() {
			return fmt.Errorf("unknown pixel format 0x%02X", uint8(f))
		}
	}
	for _, m := range c.Modes {
		if m.HDisplay == 0 || m.VDisplay == 0 {
			return fmt.Errorf("display mode %dx%d has zero size", m.HDisplay, m.VDisplay)
		}
	}
	return nil
}

// Descriptor returns the GET_DESCRIPTOR response.
func (c *Capabilities) Descriptor() DisplayDescriptor {
	return DisplayDescriptor{
		Magic:         DisplayMagic,
		Version:       DescriptorVersion,
		Flags:         c.Flags | DisplayFlagStatusOnSet,
		Compression:   c.Compression,
		MaxBufferSize: c.MaxBufferSize,
		MinWidth:      c.MinWidth,
		MaxWidth:      c.MaxWidth,
		MinHeight:     c.MinHeight,
		MaxHeight:     c.MaxHeight,
	}
}

// SupportsFormat reports whether f is advertised.
func (c *Capabilities) SupportsFormat(f PixelFormat) bool {
	return slices.Contains(c.Formats, f)
}

// FormatBytes returns the GET_FORMATS response.
func (c *Capabilities) FormatBytes() []byte {
	buf := make([]byte, len(c.Formats))
	for i, f := range c.Formats {
		buf[i] = byte(f)
	}
	return buf
}

// propertySpec finds prop among controller and connector properties.
func (c *Capabilities) propertySpec(prop uint16) (PropertySpec, bool) {
	for _, list := range [][]PropertySpec{c.Properties, c.ConnectorProperties} {
		for _, p := range list {
			if p.Prop == prop {
				return p, true
			}
		}
	}
	return PropertySpec{}, false
}

// matchesMode reports whether a requested mode is acceptable.
func (c *Capabilities) matchesMode(m DisplayMode) bool {
	w, h := uint32(m.HDisplay), uint32(m.VDisplay)
	if w < c.MinWidth || w > c.MaxWidth || h < c.MinHeight || h > c.MaxHeight {
		return false
	}
	if len(c.Modes) == 0 {
		return true
	}
	return slices.ContainsFunc(c.Modes, func(adv DisplayMode) bool {
		return adv.HDisplay == m.HDisplay && adv.VDisplay == m.VDisplay
	})
}

func encodePropertySpecs(specs []PropertySpec) []byte {
	props := make([]Property, len(specs))
	for i, s := range specs {
		props[i] = Property{Prop: s.Prop, Value: s.Max}
	}
	return EncodeProperties(props)
}
