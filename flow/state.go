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
	"encoding/json"
	"time"
)

// CacheEntry is one memoized step result: either a value (possibly JSON
// null) or an explicit "completed with no value" marker.
type CacheEntry struct {
	Value json.RawMessage `json:"value,omitempty"`
	Empty bool            `json:"empty,omitempty"`
}

// BlockedOnStep names the single step a FlowState is currently suspended on,
// plus the JSON schema of the payload a resume envelope must supply.
type BlockedOnStep struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema,omitempty"`
}

// Execution records one drive of a FlowState's body.
type Execution struct {
	StartTime time.Time `json:"startTime"`
	TraceIDs  []string  `json:"traceIds"`
}

// OperationResult is the success-or-failure payload of a finished Operation.
type OperationResult struct {
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	Stacktrace string          `json:"stacktrace,omitempty"`
}

// Operation is the long-running-operation projection of a flow's state that
// callers observe: a done flag plus a result once done.
type Operation struct {
	Name   string           `json:"name"`
	Done   bool             `json:"done,omitempty"`
	Result *OperationResult `json:"result,omitempty"`
}

// FlowState is the persisted record of one flow instance. Input and cached
// values travel as opaque JSON; typed access is layered on top by
// StepContext and Flow.
type FlowState struct {
	FlowID          string                     `json:"flowId"`
	Name            string                     `json:"name"`
	StartTime       time.Time                  `json:"startTime"`
	Input           json.RawMessage            `json:"input"`
	Cache           map[string]CacheEntry      `json:"cache"`
	EventsTriggered map[string]json.RawMessage `json:"eventsTriggered"`
	BlockedOnStep   *BlockedOnStep             `json:"blockedOnStep"`
	Executions      []Execution                `json:"executions"`
	TraceContext    string                     `json:"traceContext"`
	Operation       Operation                  `json:"operation"`
}

func newFlowState(flowID, name string, input json.RawMessage) *FlowState {
	return &FlowState{
		FlowID:          flowID,
		Name:            name,
		StartTime:       time.Now(),
		Input:           input,
		Cache:           map[string]CacheEntry{},
		EventsTriggered: map[string]json.RawMessage{},
		Operation:       Operation{Name: flowID, Done: false},
	}
}

// clone returns a deep-enough copy of fs suitable for a fresh drive to
// mutate without aliasing maps shared with a caller-held reference.
func (fs *FlowState) clone() *FlowState {
	cp := *fs
	cp.Cache = make(map[string]CacheEntry, len(fs.Cache))
	for k, v := range fs.Cache {
		cp.Cache[k] = v
	}
	cp.EventsTriggered = make(map[string]json.RawMessage, len(fs.EventsTriggered))
	for k, v := range fs.EventsTriggered {
		cp.EventsTriggered[k] = v
	}
	cp.Executions = append([]Execution(nil), fs.Executions...)
	if fs.BlockedOnStep != nil {
		b := *fs.BlockedOnStep
		cp.BlockedOnStep = &b
	}
	return &cp
}
