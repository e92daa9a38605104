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
	"io"
	"syscall"
)

// Protocol errors. Every command rejection wraps one of these.
var (
	// ErrMalformedCommand indicates an unparseable request or a payload that
	// does not match the request's fixed schema.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrRequestNotSupported indicates a request code this device does not
	// implement. It is answered with a not-supported status, never a session error.
	ErrRequestNotSupported = errors.New("request not supported")
	// ErrUnsupportedParameter indicates a rejected SET value.
	ErrUnsupportedParameter = errors.New("unsupported parameter")
	// ErrInvalidState indicates a command that is illegal in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidBufferDescriptor indicates a buffer update whose geometry or
	// length is inconsistent with the negotiated state.
	ErrInvalidBufferDescriptor = errors.New("invalid buffer descriptor")
	// ErrDecompression indicates malformed compressed pixel data.
	ErrDecompression = errors.New("decompression failed")
	// ErrSinkUnavailable indicates the presentation sink failed. It ends the session.
	ErrSinkUnavailable = errors.New("presentation sink unavailable")
)

// Transport errors
var (
	ErrTransportClosed  = errors.New("transport is closed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportTimeout = errors.New("transport timeout")
	ErrFrameCorrupted   = errors.New("frame corrupted")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrDataTooLarge     = errors.New("data too large")
)

// ErrorKind classifies protocol errors for wire responses and recovery.
type ErrorKind int

const (
	KindMalformedCommand ErrorKind = iota
	KindRequestNotSupported
	KindUnsupportedParameter
	KindInvalidState
	KindInvalidBufferDescriptor
	KindDecompression
	KindSinkUnavailable
)

var kindSentinels = map[ErrorKind]error{
	KindMalformedCommand:        ErrMalformedCommand,
	KindRequestNotSupported:     ErrRequestNotSupported,
	KindUnsupportedParameter:    ErrUnsupportedParameter,
	KindInvalidState:            ErrInvalidState,
	KindInvalidBufferDescriptor: ErrInvalidBufferDescriptor,
	KindDecompression:           ErrDecompression,
	KindSinkUnavailable:         ErrSinkUnavailable,
}

func (k ErrorKind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Status returns the GET_STATUS code reported to the host for this kind.
func (k ErrorKind) Status() byte {
	switch k {
	case KindRequestNotSupported:
		return StatusRequestNotSupported
	case KindMalformedCommand:
		return StatusProtocolError
	case KindUnsupportedParameter, KindInvalidBufferDescriptor:
		return StatusInvalidParameter
	default:
		return StatusError
	}
}

// ProtocolError describes a rejected command or failed buffer transfer.
type ProtocolError struct {
	Err     error     // Underlying error, wraps the kind's sentinel
	Op      string    // Operation that failed
	Kind    ErrorKind // Error category
	Request byte      // GUD request code, when the error came from a control request
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s (request 0x%02X): %v", e.Op, e.Request, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Status returns the GET_STATUS code for the error.
func (e *ProtocolError) Status() byte {
	return e.Kind.Status()
}

// NewProtocolError wraps cause as a protocol error of the given kind. A nil
// cause is replaced by the kind's sentinel; a cause that does not already
// wrap the sentinel is joined with it so errors.Is keeps working.
func NewProtocolError(kind ErrorKind, op string, request byte, cause error) *ProtocolError {
	sentinel := kindSentinels[kind]
	switch {
	case cause == nil:
		cause = sentinel
	case sentinel != nil && !errors.Is(cause, sentinel):
		cause = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &ProtocolError{Op: op, Kind: kind, Request: request, Err: cause}
}

// KindOf classifies err. Errors that are not protocol errors report
// KindMalformedCommand and ok=false.
func KindOf(err error) (kind ErrorKind, ok bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	for k, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return k, true
		}
	}
	return KindMalformedCommand, false
}

// StatusForError maps an error to the status code reported by GET_STATUS.
func StatusForError(err error) byte {
	if err == nil {
		return StatusOK
	}
	kind, _ := KindOf(err)
	return kind.Status()
}

// IsSessionFatal reports whether err terminates the protocol session. Only a
// sink failure or a dead transport does; command errors never do.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSinkUnavailable) {
		return true
	}
	return IsFatal(err)
}

// ErrorType represents the category of a transport error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Endpoint  string    // Endpoint or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error with consistent formatting
func NewTransportError(op, endpoint string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Endpoint:  endpoint,
		Err:       err,
		Type:      errType,
		Retryable: errType != ErrorTypePermanent,
	}
}

// NewFrameCorruptedError creates a frame corruption error (transient)
func NewFrameCorruptedError(op, endpoint string) *TransportError {
	return NewTransportError(op, endpoint, ErrFrameCorrupted, ErrorTypeTransient)
}

// NewChecksumMismatchError creates a checksum mismatch error (transient)
func NewChecksumMismatchError(op, endpoint string) *TransportError {
	return NewTransportError(op, endpoint, ErrChecksumMismatch, ErrorTypeTransient)
}

// NewDataTooLargeError creates a data too large error (permanent)
func NewDataTooLargeError(op, endpoint string) *TransportError {
	return NewTransportError(op, endpoint, ErrDataTooLarge, ErrorTypePermanent)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the transport is gone and the
// session must stop. This is distinct from IsRetryable which indicates whether
// a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// isDeviceGoneError checks for OS-level errors raised when the USB device
// controller or the serial bridge disappears during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV, syscall.ESHUTDOWN:
			return true
		}
	}
	return false
}
