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
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport timeout", err: ErrTransportTimeout, want: true},
		{name: "transport read", err: ErrTransportRead, want: true},
		{name: "transport write", err: ErrTransportWrite, want: true},
		{name: "frame corrupted", err: ErrFrameCorrupted, want: true},
		{name: "checksum mismatch", err: ErrChecksumMismatch, want: true},
		{name: "data too large", err: ErrDataTooLarge, want: false},
		{name: "transport closed", err: ErrTransportClosed, want: false},
		{name: "protocol error", err: ErrMalformedCommand, want: false},
		{
			name: "wrapped timeout",
			err:  fmt.Errorf("read control: %w", ErrTransportTimeout),
			want: true,
		},
		{
			name: "transient transport error",
			err:  NewTransportError("read", "ep0", errors.New("busy"), ErrorTypeTransient),
			want: true,
		},
		{
			name: "permanent transport error",
			err:  NewTransportError("read", "ep0", errors.New("gone"), ErrorTypePermanent),
			want: false,
		},
		{
			name: "timeout transport error",
			err:  NewTransportError("read", "ep0", ErrTransportTimeout, ErrorTypeTimeout),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "closed", err: ErrTransportClosed, want: true},
		{name: "EOF", err: io.EOF, want: true},
		{name: "closed pipe", err: io.ErrClosedPipe, want: true},
		{name: "EIO", err: syscall.EIO, want: true},
		{name: "ENODEV", err: fmt.Errorf("write: %w", syscall.ENODEV), want: true},
		{name: "ESHUTDOWN", err: syscall.ESHUTDOWN, want: true},
		{name: "EAGAIN", err: syscall.EAGAIN, want: false},
		{name: "timeout", err: ErrTransportTimeout, want: false},
		{
			name: "permanent transport error",
			err:  NewTransportError("read", "ttyACM0", ErrTransportRead, ErrorTypePermanent),
			want: true,
		},
		{
			// The error type decides before the wrapped cause does.
			name: "transient transport error around ESHUTDOWN",
			err:  NewTransportError("read", "ep1", syscall.ESHUTDOWN, ErrorTypeTransient),
			want: false,
		},
		{
			name: "checksum mismatch",
			err:  NewChecksumMismatchError("read frame", "ttyACM0"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestTransportErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewTransportError("read", "/dev/ttyACM0", ErrTransportRead, ErrorTypePermanent)
	assert.Equal(t, "read /dev/ttyACM0: transport read failed", err.Error())
	require.ErrorIs(t, err, ErrTransportRead)
	assert.False(t, err.Retryable)

	noEndpoint := NewTransportError("write", "", ErrTransportWrite, ErrorTypeTransient)
	assert.Equal(t, "write: transport write failed", noEndpoint.Error())
	assert.True(t, noEndpoint.Retryable)

	assert.ErrorIs(t, NewFrameCorruptedError("read", "x"), ErrFrameCorrupted)
	assert.ErrorIs(t, NewDataTooLargeError("write", "x"), ErrDataTooLarge)
	assert.Equal(t, ErrorTypePermanent, NewDataTooLargeError("write", "x").Type)
}

func TestNewProtocolError(t *testing.T) {
	t.Parallel()

	t.Run("nil cause uses sentinel", func(t *testing.T) {
		t.Parallel()
		err := NewProtocolError(KindInvalidState, "set buffer", ReqSetBuffer, nil)
		require.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, StatusError, err.Status())
		assert.Contains(t, err.Error(), "request 0x60")
	})

	t.Run("cause is joined with sentinel", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("width 0")
		err := NewProtocolError(KindInvalidBufferDescriptor, "set buffer", ReqSetBuffer, cause)
		require.ErrorIs(t, err, ErrInvalidBufferDescriptor)
		require.ErrorIs(t, err, cause)
		assert.Equal(t, StatusInvalidParameter, err.Status())
	})

	t.Run("cause already wrapping sentinel is kept", func(t *testing.T) {
		t.Parallel()
		cause := fmt.Errorf("%w: format 0x99", ErrUnsupportedParameter)
		err := NewProtocolError(KindUnsupportedParameter, "state check", ReqSetStateCheck, cause)
		assert.Same(t, cause, err.Err)
	})
}

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want byte
	}{
		{name: "nil", err: nil, want: StatusOK},
		{name: "malformed", err: ErrMalformedCommand, want: StatusProtocolError},
		{name: "not supported", err: ErrRequestNotSupported, want: StatusRequestNotSupported},
		{name: "unsupported parameter", err: ErrUnsupportedParameter, want: StatusInvalidParameter},
		{name: "invalid descriptor", err: ErrInvalidBufferDescriptor, want: StatusInvalidParameter},
		{name: "invalid state", err: ErrInvalidState, want: StatusError},
		{name: "decompression", err: ErrDecompression, want: StatusError},
		{name: "sink", err: ErrSinkUnavailable, want: StatusError},
		{name: "unknown error", err: errors.New("boom"), want: StatusProtocolError},
		{
			name: "protocol error",
			err:  NewProtocolError(KindRequestNotSupported, "decode", 0x7F, nil),
			want: StatusRequestNotSupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestIsSessionFatal(t *testing.T) {
	t.Parallel()

	assert.False(t, IsSessionFatal(nil))
	assert.False(t, IsSessionFatal(NewProtocolError(KindInvalidState, "commit", ReqSetStateCommit, nil)))
	assert.False(t, IsSessionFatal(ErrDecompression))
	assert.True(t, IsSessionFatal(fmt.Errorf("present: %w", ErrSinkUnavailable)))
	assert.True(t, IsSessionFatal(ErrTransportClosed))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	kind, ok := KindOf(fmt.Errorf("wrapped: %w", ErrDecompression))
	assert.True(t, ok)
	assert.Equal(t, KindDecompression, kind)

	kind, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, KindMalformedCommand, kind)

	assert.Equal(t, "invalid state", KindInvalidState.String())
	assert.Equal(t, "ErrorKind(42)", ErrorKind(42).String())
}

func TestSessionLoopError(t *testing.T) {
	t.Parallel()

	s := &Session{log: zap.NewNop()}
	tests := []struct {
		err      error
		name     string
		wantStop bool
	}{
		{name: "transient transport error", err: NewTransportError("read bulk", "ep1", ErrTransportTimeout, ErrorTypeTransient)},
		{name: "transport closed", err: ErrTransportClosed, wantStop: true},
		{name: "permanent transport error", err: NewTransportError("read frame", "ttyACM0", ErrTransportRead, ErrorTypePermanent), wantStop: true},
		{name: "sink gone", err: NewTransportError("present", "fb0", ErrSinkUnavailable, ErrorTypeTransient), wantStop: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := s.loopError(context.Background(), "loop", tt.err)
			if !tt.wantStop {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
			assert.True(t, IsSessionFatal(err))
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.loopError(ctx, "loop", ErrTransportClosed), "shutdown is not an error")
}
