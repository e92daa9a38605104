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
	"context"
	"net"
	"testing"
	"time"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/ZaparooProject/go-gud/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// frontEnd is the microcontroller side of the link.
type frontEnd struct {
	conn   net.Conn
	reader *frame.Reader
}

func newBridge(t *testing.T) (*Transport, *frontEnd) {
	t.Helper()
	gadgetSide, frontSide := net.Pipe()
	tr := NewWithPort(gadgetSide, "pipe", WithLogger(zap.NewNop()))
	t.Cleanup(func() {
		_ = tr.Close()
		_ = frontSide.Close()
	})
	return tr, &frontEnd{conn: frontSide, reader: frame.NewReader(frontSide, "front")}
}

// send writes one frame. It is called from helper goroutines, so failures
// are returned rather than reported.
func (f *frontEnd) send(frameType byte, payload []byte) error {
	buf, err := frame.Encode(frameType, payload)
	if err != nil {
		return err
	}
	_, err = f.conn.Write(buf)
	return err
}

func (f *frontEnd) receive(t *testing.T) frame.Frame {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	fr, err := f.reader.ReadFrame()
	require.NoError(t, err)
	return fr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestControlInRequest(t *testing.T) {
	t.Parallel()
	tr, fe := newBridge(t)
	ctx := testContext(t)

	setup := gud.SetupPacket{RequestType: 0xC1, Request: gud.ReqGetDescriptor, Length: gud.DisplayDescriptorSize}
	go func() { _ = fe.send(frame.TypeSetup, setup.Marshal()) }()

	got, data, err := tr.ReadControl(ctx)
	require.NoError(t, err)
	assert.Equal(t, setup, got)
	assert.Empty(t, data)

	resp := []byte{0x4d, 0x61, 0x50, 0x1d}
	errCh := make(chan error, 1)
	go func() { errCh <- tr.WriteControlResponse(ctx, resp) }()
	fr := fe.receive(t)
	require.NoError(t, <-errCh)
	assert.Equal(t, frame.TypeResponse, fr.Type)
	assert.Equal(t, resp, fr.Payload)
}

func TestControlOutRequestWithData(t *testing.T) {
	t.Parallel()
	tr, fe := newBridge(t)
	ctx := testContext(t)

	setup := gud.SetupPacket{RequestType: 0x41, Request: gud.ReqSetDisplayEnable, Length: 1}
	go func() { _ = fe.send(frame.TypeSetup, append(setup.Marshal(), 0x01)) }()

	got, data, err := tr.ReadControl(ctx)
	require.NoError(t, err)
	assert.Equal(t, gud.ReqSetDisplayEnable, got.Request)
	assert.Equal(t, []byte{0x01}, data)

	go func() { _ = tr.StallControl(ctx) }()
	fr := fe.receive(t)
	assert.Equal(t, frame.TypeStall, fr.Type)
	assert.Empty(t, fr.Payload)
}

func TestReadBulkSplitsLargeFrames(t *testing.T) {
	t.Parallel()
	tr, fe := newBridge(t)
	ctx := testContext(t)

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	go func() { _ = fe.send(frame.TypeBulk, payload) }()

	buf := make([]byte, 384)
	var got []byte
	for len(got) < len(payload) {
		n, err := tr.ReadBulk(ctx, buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
}

func TestConnectorEvents(t *testing.T) {
	t.Parallel()
	tr, fe := newBridge(t)
	ctx := testContext(t)

	go func() {
		if fe.send(frame.TypeConnect, nil) == nil {
			_ = fe.send(frame.TypeDisconnect, nil)
		}
	}()

	ev, err := tr.NextConnectorEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, gud.ConnectorConnected, ev)
	ev, err = tr.NextConnectorEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, gud.ConnectorDisconnected, ev)
}

func TestCorruptFramesAreSkipped(t *testing.T) {
	t.Parallel()
	tr, fe := newBridge(t)
	ctx := testContext(t)

	bad, err := frame.Encode(frame.TypeBulk, []byte{1, 2, 3})
	require.NoError(t, err)
	bad[len(bad)-2] ^= 0xFF

	go func() {
		_, _ = fe.conn.Write([]byte{0x42, 0x42})
		_, _ = fe.conn.Write(bad)
		_ = fe.send(frame.TypeBulk, []byte{4, 5, 6})
	}()

	buf := make([]byte, 16)
	n, err := tr.ReadBulk(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, buf[:n])
}

func TestLinkLossIsFatal(t *testing.T) {
	t.Parallel()
	tr, fe := newBridge(t)
	ctx := testContext(t)

	require.NoError(t, fe.conn.Close())

	_, _, err := tr.ReadControl(ctx)
	require.Error(t, err)
	assert.True(t, gud.IsFatal(err), "got %v", err)

	_, err = tr.ReadBulk(ctx, make([]byte, 8))
	assert.True(t, gud.IsFatal(err))
}

func TestCloseUnblocksReaders(t *testing.T) {
	t.Parallel()
	tr, _ := newBridge(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.NextConnectorEvent(context.Background())
		errCh <- err
	}()
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, gud.ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("NextConnectorEvent did not return after Close")
	}

	err := tr.StallControl(context.Background())
	require.ErrorIs(t, err, gud.ErrTransportClosed)
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()
	tr, _ := newBridge(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := tr.ReadControl(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, err = tr.ReadBulk(ctx, make([]byte, 1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestOversizedResponse(t *testing.T) {
	t.Parallel()
	tr, _ := newBridge(t)
	err := tr.WriteControlResponse(context.Background(), make([]byte, frame.MaxPayloadLength+1))
	require.ErrorIs(t, err, gud.ErrDataTooLarge)
	assert.Equal(t, gud.TransportSerialBridge, tr.Type())
}

func TestNewMissingPort(t *testing.T) {
	t.Parallel()
	_, err := New("/dev/does-not-exist-gud", WithBaudRate(115200))
	require.Error(t, err)
	var te *gud.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "open", te.Op)
}

func TestFramesDeliveredInWireOrder(t *testing.T) {
	t.Parallel()

	setup := gud.SetupPacket{RequestType: 0xC1, Request: gud.ReqGetStatus, Length: 1}
	tests := []struct {
		name       string
		frames     []byte
		setupFirst bool
	}{
		{name: "request before event", frames: []byte{frame.TypeSetup, frame.TypeDisconnect}, setupFirst: true},
		{name: "event before request", frames: []byte{frame.TypeDisconnect, frame.TypeSetup}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, fe := newBridge(t)
			ctx := testContext(t)

			go func() {
				for _, ft := range tt.frames {
					var payload []byte
					if ft == frame.TypeSetup {
						payload = setup.Marshal()
					}
					if fe.send(ft, payload) != nil {
						return
					}
				}
			}()

			short := func() context.Context {
				c, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
				t.Cleanup(cancel)
				return c
			}

			if tt.setupFirst {
				_, _, err := tr.ReadControl(ctx)
				require.NoError(t, err)
				_, err = tr.NextConnectorEvent(short())
				require.ErrorIs(t, err, context.DeadlineExceeded, "event read past an open request")

				errCh := make(chan error, 1)
				go func() { errCh <- tr.WriteControlResponse(ctx, []byte{gud.StatusOK}) }()
				assert.Equal(t, frame.TypeResponse, fe.receive(t).Type)
				require.NoError(t, <-errCh)

				ev, err := tr.NextConnectorEvent(ctx)
				require.NoError(t, err)
				assert.Equal(t, gud.ConnectorDisconnected, ev)
				return
			}

			ev, err := tr.NextConnectorEvent(ctx)
			require.NoError(t, err)
			assert.Equal(t, gud.ConnectorDisconnected, ev)
			_, _, err = tr.ReadControl(short())
			require.ErrorIs(t, err, context.DeadlineExceeded, "request read past an unhandled event")

			// Asking for the next event acknowledges the disconnect.
			_, err = tr.NextConnectorEvent(short())
			require.ErrorIs(t, err, context.DeadlineExceeded)
			got, _, err := tr.ReadControl(ctx)
			require.NoError(t, err)
			assert.Equal(t, setup, got)
		})
	}
}
