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
	"time"

	"github.com/flowrun/flowrun/logger"
)

// Scheduler redelivers an envelope to the named flow after delaySeconds.
// Sleep and WaitFor are both built on top of it: suspending a drive means
// returning an *Interrupted error after handing the redelivery off here.
type Scheduler interface {
	Schedule(ctx context.Context, flowName string, envelope Envelope, delaySeconds float64) error
}

// InProcessScheduler uses time.AfterFunc to redeliver envelopes within the
// same process. It does not survive a process restart: any drive asleep
// when the process exits is re-driven only once a runScheduled envelope is
// explicitly sent to it again, same as a crash mid-sleep with any
// Scheduler. Development and single-process deployments only.
type InProcessScheduler struct {
	registry *Registry
}

// NewInProcessScheduler returns a Scheduler that looks up flows in registry.
func NewInProcessScheduler(registry *Registry) *InProcessScheduler {
	return &InProcessScheduler{registry: registry}
}

func (s *InProcessScheduler) Schedule(ctx context.Context, flowName string, envelope Envelope, delaySeconds float64) error {
	d, ok := s.registry.Lookup(flowName)
	if !ok {
		return ErrUnknownFlow(flowIDOf(envelope))
	}
	log := logger.FromContext(ctx)
	time.AfterFunc(time.Duration(delaySeconds*float64(time.Second)), func() {
		ctx := context.Background()
		if _, err := d.Dispatch(ctx, envelope); err != nil {
			log.Error("scheduled redelivery failed", "flow", flowName, "flowId", flowIDOf(envelope), "err", err)
		}
	})
	return nil
}

// flowIDOf extracts the flowId carried by the one envelope variant a
// Scheduler ever redelivers, for logging and error messages.
func flowIDOf(env Envelope) string {
	if env.RunScheduled != nil {
		return env.RunScheduled.FlowID
	}
	if env.Resume != nil {
		return env.Resume.FlowID
	}
	return ""
}
