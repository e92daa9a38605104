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

import "context"

// Sink presents damaged frames on a display. Present is called from the
// presenter goroutine only, one frame at a time. The frame is valid until
// Present returns; sinks must copy anything they keep.
type Sink interface {
	Present(ctx context.Context, frame *DamagedFrame) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, frame *DamagedFrame) error

// Present calls f.
func (f SinkFunc) Present(ctx context.Context, frame *DamagedFrame) error {
	return f(ctx, frame)
}

// DiscardSink accepts every frame and does nothing with it.
var DiscardSink Sink = SinkFunc(func(context.Context, *DamagedFrame) error { return nil })
