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
	"slices"
)

// DisplayState is the protocol state of a session.
type DisplayState int

const (
	// StateUninitialized means no display state has been committed.
	StateUninitialized DisplayState = iota
	// StateNegotiated means a mode and format are committed but no buffer
	// update has completed yet.
	StateNegotiated
	// StatePresenting means at least one buffer update has completed.
	StatePresenting
	// StateDisconnected means the host link is gone.
	StateDisconnected
)

func (s DisplayState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateNegotiated:
		return "negotiated"
	case StatePresenting:
		return "presenting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("DisplayState(%d)", int(s))
	}
}

// NegotiatedDisplayState is the display configuration committed by the host.
type NegotiatedDisplayState struct {
	Properties  []Property
	Mode        DisplayMode
	Width       uint32
	Height      uint32
	Format      PixelFormat
	Connector   uint8
	Compression byte // Compression bits the host may use for buffer updates
}

// Pitch returns the byte length of one full-width line.
func (n *NegotiatedDisplayState) Pitch() uint64 {
	return n.Format.Pitch(uint64(n.Width))
}

// Property returns the committed value of prop.
func (n *NegotiatedDisplayState) Property(prop uint16) (uint64, bool) {
	for _, p := range n.Properties {
		if p.Prop == prop {
			return p.Value, true
		}
	}
	return 0, false
}

func (n NegotiatedDisplayState) clone() NegotiatedDisplayState {
	n.Properties = slices.Clone(n.Properties)
	return n
}

// sameGeometry reports whether two states share resolution and format, in
// which case reassembled pixel data stays valid across a commit.
func (n *NegotiatedDisplayState) sameGeometry(o *NegotiatedDisplayState) bool {
	return n.Width == o.Width && n.Height == o.Height && n.Format == o.Format
}

// ControllerState holds the controller-level switches the host toggles
// independently of the display state.
type ControllerState struct {
	Backlight         uint64
	ForceDetect       byte
	ControllerEnabled bool
	DisplayEnabled    bool
}

// StateMachine is the single authority for the session's display state.
// It is not safe for concurrent use; the session serializes access.
type StateMachine struct {
	caps       *Capabilities
	staged     *NegotiatedDisplayState
	negotiated NegotiatedDisplayState
	controller ControllerState
	state      DisplayState
	changed    bool
}

// NewStateMachine creates a state machine for normalized capabilities.
func NewStateMachine(caps *Capabilities) *StateMachine {
	sm := &StateMachine{caps: caps}
	sm.resetController()
	return sm
}

func (sm *StateMachine) resetController() {
	sm.controller = ControllerState{ForceDetect: ForceDetectDefault}
	if spec, ok := sm.caps.propertySpec(PropertyBacklightBrightness); ok {
		sm.controller.Backlight = spec.Default
	}
}

// State returns the current protocol state.
func (sm *StateMachine) State() DisplayState {
	return sm.state
}

// Snapshot returns a copy of the committed display state. ok is false before
// negotiation.
func (sm *StateMachine) Snapshot() (NegotiatedDisplayState, bool) {
	if sm.state != StateNegotiated && sm.state != StatePresenting {
		return NegotiatedDisplayState{}, false
	}
	return sm.negotiated.clone(), true
}

// RequireNegotiated returns the committed state, or ErrInvalidState when
// buffer commands are not legal yet.
func (sm *StateMachine) RequireNegotiated() (NegotiatedDisplayState, error) {
	snap, ok := sm.Snapshot()
	if !ok {
		return snap, fmt.Errorf("%w: no display state committed (state %s)", ErrInvalidState, sm.state)
	}
	return snap, nil
}

// Controller returns a copy of the controller state.
func (sm *StateMachine) Controller() ControllerState {
	return sm.controller
}

// Check validates a state request and stages it for the next commit. A
// rejected request leaves any previously staged state untouched.
func (sm *StateMachine) Check(req *StateRequest) error {
	if sm.state == StateDisconnected {
		return fmt.Errorf("%w: state check while disconnected", ErrInvalidState)
	}
	if req.Connector != 0 {
		return fmt.Errorf("%w: connector %d", ErrUnsupportedParameter, req.Connector)
	}
	if !sm.caps.matchesMode(req.Mode) {
		return fmt.Errorf("%w: mode %dx%d", ErrUnsupportedParameter, req.Mode.HDisplay, req.Mode.VDisplay)
	}
	if !sm.caps.SupportsFormat(req.Format) {
		return fmt.Errorf("%w: format %s", ErrUnsupportedParameter, req.Format)
	}
	frame := req.Format.Pitch(uint64(req.Mode.HDisplay)) * uint64(req.Mode.VDisplay)
	if frame > uint64(^uint32(0)) {
		return fmt.Errorf("%w: frame of %d bytes", ErrUnsupportedParameter, frame)
	}

	props := make([]Property, 0, len(req.Properties))
	seen := make(map[uint16]bool, len(req.Properties))
	for _, p := range req.Properties {
		spec, ok := sm.caps.propertySpec(p.Prop)
		if !ok {
			return fmt.Errorf("%w: property %d not advertised", ErrUnsupportedParameter, p.Prop)
		}
		if !spec.Accepts(p.Value) {
			return fmt.Errorf("%w: property %d value %d", ErrUnsupportedParameter, p.Prop, p.Value)
		}
		if seen[p.Prop] {
			return fmt.Errorf("%w: property %d repeated", ErrUnsupportedParameter, p.Prop)
		}
		seen[p.Prop] = true
		props = append(props, p)
	}

	sm.staged = &NegotiatedDisplayState{
		Mode:        req.Mode,
		Width:       uint32(req.Mode.HDisplay),
		Height:      uint32(req.Mode.VDisplay),
		Format:      req.Format,
		Connector:   req.Connector,
		Properties:  props,
		Compression: sm.caps.Compression,
	}
	return nil
}

// Commit applies the staged state. It reports whether the geometry or format
// changed, in which case reassembly buffers must be reset.
func (sm *StateMachine) Commit() (NegotiatedDisplayState, bool, error) {
	if sm.state == StateDisconnected {
		return NegotiatedDisplayState{}, false, fmt.Errorf("%w: commit while disconnected", ErrInvalidState)
	}
	if sm.staged == nil {
		return NegotiatedDisplayState{}, false, fmt.Errorf("%w: commit without a checked state", ErrInvalidState)
	}

	next := *sm.staged
	sm.staged = nil

	reset := true
	switch sm.state {
	case StatePresenting:
		if sm.negotiated.sameGeometry(&next) {
			reset = false
		} else {
			sm.state = StateNegotiated
		}
	default:
		sm.state = StateNegotiated
	}
	sm.negotiated = next
	if v, ok := next.Property(PropertyBacklightBrightness); ok {
		sm.controller.Backlight = v
	}
	return next.clone(), reset, nil
}

// MarkPresenting records the first completed buffer update.
func (sm *StateMachine) MarkPresenting() {
	if sm.state == StateNegotiated {
		sm.state = StatePresenting
	}
}

// Disconnect moves to StateDisconnected and drops all negotiated state.
func (sm *StateMachine) Disconnect() {
	if sm.state != StateDisconnected {
		sm.changed = true
	}
	sm.state = StateDisconnected
	sm.negotiated = NegotiatedDisplayState{}
	sm.staged = nil
	sm.resetController()
}

// Connect returns a disconnected session to StateUninitialized.
func (sm *StateMachine) Connect() {
	if sm.state != StateDisconnected {
		return
	}
	sm.state = StateUninitialized
	sm.changed = true
}

// SetControllerEnable handles SET_CONTROLLER_ENABLE.
func (sm *StateMachine) SetControllerEnable(enabled bool) {
	sm.controller.ControllerEnabled = enabled
}

// SetDisplayEnable handles SET_DISPLAY_ENABLE.
func (sm *StateMachine) SetDisplayEnable(enabled bool) {
	sm.controller.DisplayEnabled = enabled
}

// SetForceDetect handles SET_CONNECTOR_FORCE_DETECT.
func (sm *StateMachine) SetForceDetect(connector uint16, mode byte) error {
	if connector != 0 {
		return fmt.Errorf("%w: connector %d", ErrUnsupportedParameter, connector)
	}
	if mode > ForceDetectDisconnected {
		return fmt.Errorf("%w: force detect mode %d", ErrUnsupportedParameter, mode)
	}
	before := sm.connectorStatus()
	sm.controller.ForceDetect = mode
	if sm.connectorStatus() != before {
		sm.changed = true
	}
	return nil
}

func (sm *StateMachine) connectorStatus() byte {
	if sm.state == StateDisconnected || sm.controller.ForceDetect == ForceDetectDisconnected {
		return ConnectorStatusDisconnected
	}
	return ConnectorStatusConnected
}

// ConnectorStatus returns the GET_CONNECTOR_STATUS byte and clears the
// changed bit.
func (sm *StateMachine) ConnectorStatus() byte {
	status := sm.connectorStatus()
	if sm.changed {
		status |= ConnectorStatusChanged
		sm.changed = false
	}
	return status
}
