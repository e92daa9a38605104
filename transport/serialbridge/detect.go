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

package serialbridge

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
)

// AutoPort is the port name that asks for front-end detection.
const AutoPort = "auto"

// ErrNoFrontEnd is returned when no serial port looks like a front-end.
var ErrNoFrontEnd = errors.New("no USB front-end found")

// DefaultFrontEnds returns the VID:PID pairs of boards commonly flashed as
// GUD front-ends.
func DefaultFrontEnds() []string {
	return []string{
		"2E8A:000A", // Raspberry Pi Pico (RP2040) CDC
		"2E8A:0009", // Raspberry Pi Pico SDK CDC
		"0483:5740", // STM32 virtual COM port
		"303A:1001", // ESP32-S3 USB serial/JTAG
		"1209:5744", // pid.codes test PID
	}
}

// PortInfo describes a serial port found during detection.
type PortInfo struct {
	Path         string
	VIDPID       string
	Product      string
	SerialNumber string
}

// DetectOptions narrows detection. Ports on the blocklist or under an
// ignored path are never returned.
type DetectOptions struct {
	// FrontEnds lists the accepted VID:PID pairs. Empty uses DefaultFrontEnds.
	FrontEnds   []string
	Blocklist   []string
	IgnorePaths []string
}

// Detect lists the serial ports whose USB identity matches a known front-end.
func Detect(opts DetectOptions) ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	found := filterPorts(ports, opts)
	if len(found) == 0 {
		return nil, ErrNoFrontEnd
	}
	return found, nil
}

// DetectFirst returns the first detected front-end port.
func DetectFirst(opts DetectOptions) (PortInfo, error) {
	found, err := Detect(opts)
	if err != nil {
		return PortInfo{}, err
	}
	return found[0], nil
}

func filterPorts(ports []*enumerator.PortDetails, opts DetectOptions) []PortInfo {
	allow := opts.FrontEnds
	if len(allow) == 0 {
		allow = DefaultFrontEnds()
	}

	var found []PortInfo
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		vidpid := strings.ToUpper(p.VID + ":" + p.PID)
		if matchesVIDPID(vidpid, opts.Blocklist) || isPathIgnored(p.Name, opts.IgnorePaths) {
			continue
		}
		if !matchesVIDPID(vidpid, allow) {
			continue
		}
		found = append(found, PortInfo{
			Path:         p.Name,
			VIDPID:       vidpid,
			Product:      p.Product,
			SerialNumber: p.SerialNumber,
		})
	}
	return found
}

func matchesVIDPID(vidpid string, list []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	for _, entry := range list {
		if strings.ToUpper(strings.TrimSpace(entry)) == vidpid {
			return true
		}
	}
	return false
}

// isPathIgnored compares cleaned paths. On Windows COM port names compare
// case-insensitively.
func isPathIgnored(path string, ignore []string) bool {
	path = filepath.Clean(path)
	for _, entry := range ignore {
		if entry == "" {
			continue
		}
		if strings.EqualFold(filepath.Clean(entry), path) {
			return true
		}
	}
	return false
}
