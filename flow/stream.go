// Copyright 2025 Google LLC
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
//
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"fmt"
)

// defaultStreamBuffer bounds the in-memory channel a StreamingBridge hands
// chunks through; a host that needs true backpressure can drive one chunk
// at a time by wrapping Callback with its own bounded channel instead.
const defaultStreamBuffer = 16

type streamResult[Out any] struct {
	out Out
	err error
}

// StreamingBridge adapts a flow body's chunk-emitting callback into a lazy,
// single-shot, unrestartable sequence a caller can range over, plus a
// future for the body's final output. One bridge serves exactly one drive.
type StreamingBridge[Out, Stream any] struct {
	flowID string
	chunks chan Stream
	result chan streamResult[Out]
}

// NewStreamingBridge creates a bridge for one drive of flowID.
func NewStreamingBridge[Out, Stream any](flowID string) *StreamingBridge[Out, Stream] {
	return &StreamingBridge[Out, Stream]{
		flowID: flowID,
		chunks: make(chan Stream, defaultStreamBuffer),
		result: make(chan streamResult[Out], 1),
	}
}

// Callback is passed as the body's stream argument; each call enqueues one
// chunk, observing ctx cancellation if the consumer has given up.
func (b *StreamingBridge[Out, Stream]) Callback(ctx context.Context, chunk Stream) error {
	select {
	case b.chunks <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chunks returns the channel a consumer ranges over. It is closed once the
// body has completed and its output has been determined, so draining it to
// completion always happens-before a call to Output returns.
func (b *StreamingBridge[Out, Stream]) Chunks() <-chan Stream { return b.chunks }

// Run drives fn in its own goroutine, wiring Callback as its stream
// argument, and closes Chunks once fn returns.
func (b *StreamingBridge[Out, Stream]) Run(ctx context.Context, fn func(ctx context.Context, cb func(context.Context, Stream) error) (Out, error)) {
	go func() {
		out, err := fn(ctx, b.Callback)
		close(b.chunks)
		b.result <- streamResult[Out]{out: out, err: err}
		close(b.result)
	}()
}

// Output blocks until the body settles. A non-Interrupted body error is
// returned as-is; an Interrupted body error is translated to
// ErrFlowStillRunning, since a caller iterating a stream has no use for the
// engine-internal suspension signal. Calling Output more than once is a
// programmer error.
func (b *StreamingBridge[Out, Stream]) Output() (Out, error) {
	r, ok := <-b.result
	if !ok {
		var zero Out
		return zero, fmt.Errorf("flow: StreamingBridge.Output called more than once")
	}
	if r.err != nil {
		if IsInterrupted(r.err) {
			var zero Out
			return zero, ErrFlowStillRunning(b.flowID)
		}
		return r.out, r.err
	}
	return r.out, nil
}
