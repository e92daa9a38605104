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

//go:build !linux

package functionfs

import "errors"

// ErrUnsupportedPlatform is returned by Open outside Linux.
var ErrUnsupportedPlatform = errors.New("functionfs is only available on Linux")

// Open always fails outside Linux.
func Open(string, []byte, []byte, ...Option) (*Transport, error) {
	return nil, ErrUnsupportedPlatform
}

func isHalted(error) bool { return false }

func isShutdown(error) bool { return false }
