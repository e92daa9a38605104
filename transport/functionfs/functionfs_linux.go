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

//go:build linux

package functionfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	gud "github.com/ZaparooProject/go-gud"
	"golang.org/x/sys/unix"
)

// rawEndpoint issues read and write syscalls directly so that empty
// transfers reach the kernel, while still parking on the runtime poller.
type rawEndpoint struct {
	f  *os.File
	rc syscall.RawConn
}

func openRaw(path string, flags int) (*rawEndpoint, error) {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	f := os.NewFile(uintptr(fd), path)
	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("raw conn for %s: %w", path, err)
	}
	return &rawEndpoint{f: f, rc: rc}, nil
}

func (e *rawEndpoint) Read(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	cerr := e.rc.Read(func(fd uintptr) bool {
		n, err = unix.Read(int(fd), p)
		return !errors.Is(err, unix.EAGAIN)
	})
	if cerr != nil {
		return 0, cerr
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (e *rawEndpoint) Write(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	cerr := e.rc.Write(func(fd uintptr) bool {
		n, err = unix.Write(int(fd), p)
		return !errors.Is(err, unix.EAGAIN)
	})
	if cerr != nil {
		return 0, cerr
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (e *rawEndpoint) Close() error {
	return e.f.Close()
}

// Open writes the descriptor and string blobs to dir/ep0, opens dir/ep1 for
// bulk OUT and starts reading events. The blobs are written as given.
func Open(dir string, descriptors, strs []byte, opts ...Option) (*Transport, error) {
	if len(descriptors) == 0 || len(strs) == 0 {
		return nil, errors.New("functionfs needs descriptor and string blobs")
	}

	ep0Path := filepath.Join(dir, "ep0")
	ep0, err := openRaw(ep0Path, unix.O_RDWR)
	if err != nil {
		return nil, gud.NewTransportError("open", ep0Path, err, gud.ErrorTypeTransient)
	}
	if _, err := ep0.Write(descriptors); err != nil {
		_ = ep0.Close()
		return nil, gud.NewTransportError("write descriptors", ep0Path, err, gud.ErrorTypePermanent)
	}
	if _, err := ep0.Write(strs); err != nil {
		_ = ep0.Close()
		return nil, gud.NewTransportError("write strings", ep0Path, err, gud.ErrorTypePermanent)
	}

	ep1Path := filepath.Join(dir, "ep1")
	ep1, err := os.OpenFile(ep1Path, os.O_RDONLY, 0)
	if err != nil {
		_ = ep0.Close()
		return nil, gud.NewTransportError("open", ep1Path, err, gud.ErrorTypeTransient)
	}
	return newTransport(ep0, ep1, dir, opts...), nil
}

// isHalted reports the error FunctionFS returns after halting ep0 on request.
func isHalted(err error) bool {
	return errors.Is(err, unix.EL2HLT)
}

// isShutdown reports the error an endpoint read fails with when the host
// disables the function mid-transfer.
func isShutdown(err error) bool {
	return errors.Is(err, unix.ESHUTDOWN)
}
