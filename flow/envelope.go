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

import "encoding/json"

// StartEnvelope begins a fresh flow instance.
type StartEnvelope struct {
	Input  json.RawMessage   `json:"input"`
	Labels map[string]string `json:"labels,omitempty"`
}

// ScheduleEnvelope creates a persisted instance and defers its first drive.
type ScheduleEnvelope struct {
	Input json.RawMessage `json:"input"`
	Delay float64         `json:"delay"`
}

// RunScheduledEnvelope drives an already-persisted instance.
type RunScheduledEnvelope struct {
	FlowID string `json:"flowId"`
}

// ResumeEnvelope delivers a payload to an interrupted instance and re-drives it.
type ResumeEnvelope struct {
	FlowID  string          `json:"flowId"`
	Payload json.RawMessage `json:"payload"`
}

// StateEnvelope is a read-only query for a FlowState.
type StateEnvelope struct {
	FlowID string `json:"flowId"`
}

// RetryEnvelope is reserved; dispatching it returns ErrUnimplemented.
type RetryEnvelope struct {
	FlowID string `json:"flowId"`
}

// Envelope is the engine's single dispatch input: a tagged union with
// exactly one variant set.
type Envelope struct {
	Start        *StartEnvelope        `json:"start,omitempty"`
	Schedule     *ScheduleEnvelope     `json:"schedule,omitempty"`
	RunScheduled *RunScheduledEnvelope `json:"runScheduled,omitempty"`
	Resume       *ResumeEnvelope       `json:"resume,omitempty"`
	State        *StateEnvelope        `json:"state,omitempty"`
	Retry        *RetryEnvelope        `json:"retry,omitempty"`
}

// dispatchType names the single set variant, for span attributes and error
// messages. It returns "" if none or more than one is set.
func (e *Envelope) dispatchType() string {
	set := e.setVariants()
	if len(set) != 1 {
		return ""
	}
	return set[0]
}

func (e *Envelope) setVariants() []string {
	var names []string
	if e.Start != nil {
		names = append(names, "start")
	}
	if e.Schedule != nil {
		names = append(names, "schedule")
	}
	if e.RunScheduled != nil {
		names = append(names, "runScheduled")
	}
	if e.Resume != nil {
		names = append(names, "resume")
	}
	if e.State != nil {
		names = append(names, "state")
	}
	if e.Retry != nil {
		names = append(names, "retry")
	}
	return names
}

// validate enforces exactly-one-variant-set.
func (e *Envelope) validate() error {
	set := e.setVariants()
	switch len(set) {
	case 0:
		return ErrMalformedEnvelope("no variant set")
	case 1:
		return nil
	default:
		return ErrMalformedEnvelope("multiple variants set: " + joinNames(set))
	}
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
