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

package fbdev

import (
	"fmt"
	"unsafe"

	gud "github.com/ZaparooProject/go-gud"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Framebuffer ioctls from linux/fb.h
const (
	fbiogetVScreenInfo = 0x4600
	fbiogetFScreenInfo = 0x4602

	varScreenInfoSize = 160
	fixScreenInfoSize = 80 // large enough for 32 and 64-bit layouts
)

// Open maps device (usually /dev/fb0) for writing.
func Open(device string) (*Sink, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	defer unix.Close(fd)

	var varInfo [varScreenInfoSize]byte
	if err := ioctl(fd, fbiogetVScreenInfo, unsafe.Pointer(&varInfo[0])); err != nil {
		return nil, fmt.Errorf("FBIOGET_VSCREENINFO on %s: %w", device, err)
	}
	var fixInfo [fixScreenInfoSize]byte
	if err := ioctl(fd, fbiogetFScreenInfo, unsafe.Pointer(&fixInfo[0])); err != nil {
		return nil, fmt.Errorf("FBIOGET_FSCREENINFO on %s: %w", device, err)
	}

	width, height, bpp := parseVarScreenInfo(varInfo[:])
	smemLen, lineLength := parseFixScreenInfo(fixInfo[:], int(unsafe.Sizeof(uintptr(0))))
	mem, err := unix.Mmap(fd, 0, int(smemLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", device, err)
	}

	log := gud.Logger().Named("fbdev")
	screen := Screen{Width: width, Height: height, BitsPerPixel: bpp, LineLength: lineLength}
	s, err := newSink(mem, screen, func() error { return unix.Munmap(mem) }, log)
	if err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("%s: %w", device, err)
	}
	log.Info("framebuffer mapped",
		zap.String("device", device),
		zap.Uint32("width", width),
		zap.Uint32("height", height),
		zap.Uint32("bpp", bpp))
	return s, nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
