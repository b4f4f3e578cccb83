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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flowrun/flowrun/internal/base"
	"github.com/flowrun/flowrun/tracing"
)

// StepContext owns the live view of a FlowState for one drive. It is
// installed in the ambient context for the lifetime of that drive (see
// context.go) and is never shared between concurrent drives.
type StepContext struct {
	mu        sync.Mutex
	flowID    string
	flowName  string
	state     *FlowState
	seenSteps map[string]int
	depth     int
	scheduler Scheduler
}

func newStepContext(flowID, flowName string, state *FlowState, scheduler Scheduler) *StepContext {
	return &StepContext{
		flowID:    flowID,
		flowName:  flowName,
		state:     state,
		seenSteps: map[string]int{},
		scheduler: scheduler,
	}
}

// resolveStepName implements the disambiguation rule: the first call with
// logical name n resolves to n; the k-th repeat resolves to "n-k".
func (sc *StepContext) resolveStepName(n string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	v, ok := sc.seenSteps[n]
	if !ok {
		sc.seenSteps[n] = 0
		return n
	}
	v++
	sc.seenSteps[n] = v
	return fmt.Sprintf("%s-%d", n, v)
}

// enterStep records one more level of step nesting and reports whether this
// call is the root step in the current drive's span tree.
func (sc *StepContext) enterStep() (isRoot bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	isRoot = sc.depth == 0
	sc.depth++
	return isRoot
}

func (sc *StepContext) exitStep() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.depth--
}

func (sc *StepContext) cacheGet(name string) (CacheEntry, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	e, ok := sc.state.Cache[name]
	return e, ok
}

func (sc *StepContext) cacheSetValue(name string, raw json.RawMessage) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.state.Cache[name] = CacheEntry{Value: raw}
}

func (sc *StepContext) cacheSetEmpty(name string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.state.Cache[name] = CacheEntry{Empty: true}
}

func (sc *StepContext) eventPayload(name string) (json.RawMessage, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p, ok := sc.state.EventsTriggered[name]
	return p, ok
}

func (sc *StepContext) clearEvent(name string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.state.EventsTriggered, name)
}

func (sc *StepContext) setBlocked(b *BlockedOnStep) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.state.BlockedOnStep = b
}

func (sc *StepContext) clearBlocked() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.state.BlockedOnStep = nil
}

// Run executes fn as a named step, memoizing its result at the root of the
// current drive's span tree. Nested Run calls (invoked from inside another
// step's fn) are still traced but are never cached, so a later drive runs
// them again whenever their enclosing root step is not itself cached.
func Run[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	sc := fromContext(ctx)
	if sc == nil {
		return base.Zero[T](), fmt.Errorf("flow.Run(%q): not called from within a flow body", name)
	}
	return tracing.RunInNewSpan(ctx, &tracing.SpanMetadata{Name: "flowStep", Type: "flowStep"}, 0,
		func(ctx context.Context, _ int) (T, error) {
			resolved := sc.resolveStepName(name)
			isRoot := sc.enterStep()
			defer sc.exitStep()

			if isRoot {
				if entry, ok := sc.cacheGet(resolved); ok {
					tracing.SetAttr(ctx, "state", "cached")
					return decodeCacheEntry[T](entry)
				}
			}

			out, err := fn()
			if err != nil {
				return base.Zero[T](), err
			}
			if isRoot {
				raw, err := json.Marshal(out)
				if err != nil {
					return base.Zero[T](), fmt.Errorf("flow.Run(%q): marshal result: %w", name, err)
				}
				sc.cacheSetValue(resolved, raw)
				tracing.SetAttr(ctx, "state", "run")
			}
			return out, nil
		})
}

func decodeCacheEntry[T any](e CacheEntry) (T, error) {
	if e.Empty {
		return base.Zero[T](), nil
	}
	var t T
	if err := json.Unmarshal(e.Value, &t); err != nil {
		return base.Zero[T](), err
	}
	return t, nil
}

// Interrupt runs fn with the payload delivered by a prior resume envelope,
// or suspends the drive (by returning an *Interrupted error) if no such
// payload has arrived yet. A cached result (unless skipCache is set) is
// returned without calling fn; on success fn's result clears blockedOnStep
// and is cached unless skipCache is set.
func Interrupt[T any](ctx context.Context, stepName string, fn func(payload json.RawMessage) (T, error), responseSchema *Schema, skipCache bool) (T, error) {
	sc := fromContext(ctx)
	if sc == nil {
		return base.Zero[T](), fmt.Errorf("flow.Interrupt(%q): not called from within a flow body", stepName)
	}
	return tracing.RunInNewSpan(ctx, &tracing.SpanMetadata{Name: "flowStep", Type: "flowStep", Subtype: "interrupt"}, 0,
		func(ctx context.Context, _ int) (T, error) {
			resolved := sc.resolveStepName(stepName)

			if !skipCache {
				if entry, ok := sc.cacheGet(resolved); ok {
					tracing.SetAttr(ctx, "state", "skipped")
					return decodeCacheEntry[T](entry)
				}
			}

			if payload, ok := sc.eventPayload(resolved); ok {
				out, err := fn(payload)
				if err != nil {
					if in, ok2 := asInterrupted(err); ok2 {
						tracing.SetAttr(ctx, "state", "interrupt")
						return base.Zero[T](), in
					}
					tracing.SetAttr(ctx, "state", "error")
					return base.Zero[T](), err
				}
				sc.clearBlocked()
				sc.clearEvent(resolved)
				if !skipCache {
					raw, merr := json.Marshal(out)
					if merr != nil {
						return base.Zero[T](), fmt.Errorf("flow.Interrupt(%q): marshal result: %w", stepName, merr)
					}
					sc.cacheSetValue(resolved, raw)
				}
				tracing.SetAttr(ctx, "state", "dispatch")
				return out, nil
			}

			var schema map[string]any
			if responseSchema != nil {
				schema = responseSchema.Describe()
			}
			sc.setBlocked(&BlockedOnStep{Name: resolved, Schema: schema})
			tracing.SetAttr(ctx, "state", "interrupted")
			return base.Zero[T](), &Interrupted{StepName: resolved}
		})
}

// Sleep suspends the drive for seconds by scheduling a runScheduled redelivery.
func Sleep(ctx context.Context, stepName string, seconds float64) error {
	sc := fromContext(ctx)
	if sc == nil {
		return fmt.Errorf("flow.Sleep(%q): not called from within a flow body", stepName)
	}
	if sc.scheduler == nil {
		return ErrSchedulerMissing(sc.flowName)
	}
	resolved := sc.peekResolvedName(stepName)
	if _, ok := sc.cacheGet(resolved); !ok {
		if err := sc.scheduler.Schedule(ctx, sc.flowName, Envelope{RunScheduled: &RunScheduledEnvelope{FlowID: sc.flowID}}, seconds); err != nil {
			return err
		}
		// Write the empty marker before interrupting: the re-entered drive
		// returns from Interrupt's cache branch immediately, never observing
		// an eventsTriggered payload for this step.
		sc.cacheSetEmpty(resolved)
		sc.resolveStepName(stepName)
		return &Interrupted{StepName: resolved}
	}
	_, err := Interrupt[struct{}](ctx, stepName, func(json.RawMessage) (struct{}, error) { return struct{}{}, nil }, nil, false)
	return err
}

// peekResolvedName resolves the name for Sleep's own bookkeeping without
// counting as a step entry (Sleep or Interrupt then makes the real
// resolveStepName call with the same logical name, consuming the same slot).
func (sc *StepContext) peekResolvedName(n string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	v, ok := sc.seenSteps[n]
	if !ok {
		return n
	}
	return fmt.Sprintf("%s-%d", n, v+1)
}

// PollingConfig configures WaitFor's retry cadence.
type PollingConfig struct {
	Interval float64 // seconds; defaults to 5
}

// FlowRef is the minimal surface WaitFor needs from a dependency flow: a
// name (for scheduling/logging) and a way to load one of its FlowStates.
type FlowRef interface {
	Name() string
	LoadState(ctx context.Context, flowID string) (*FlowState, error)
}

// WaitFor polls a set of other flow instances until every one of them is
// done, returning their Operations. If any are still running, it schedules
// itself to be re-driven after the polling interval and suspends the drive.
func WaitFor(ctx context.Context, stepName string, target FlowRef, flowIds []string, pollingConfig *PollingConfig) ([]Operation, error) {
	sc := fromContext(ctx)
	if sc == nil {
		return nil, fmt.Errorf("flow.WaitFor(%q): not called from within a flow body", stepName)
	}
	if len(flowIds) == 0 {
		return nil, newError(INVALID_ARGUMENT, "flow.WaitFor(%q): flowIds must be non-empty", stepName)
	}
	return tracing.RunInNewSpan(ctx, &tracing.SpanMetadata{Name: "flowStep", Type: "flowStep", Subtype: "waitFor"}, 0,
		func(ctx context.Context, _ int) ([]Operation, error) {
			resolved := sc.resolveStepName(stepName)
			if entry, ok := sc.cacheGet(resolved); ok {
				return decodeCacheEntry[[]Operation](entry)
			}

			states := make([]*FlowState, 0, len(flowIds))
			for _, id := range flowIds {
				st, err := target.LoadState(ctx, id)
				if err != nil || st == nil {
					return nil, ErrUnresolvableDependency(id)
				}
				states = append(states, st)
			}

			allDone := true
			ops := make([]Operation, len(states))
			for i, st := range states {
				ops[i] = st.Operation
				if !st.Operation.Done {
					allDone = false
				}
			}
			if allDone {
				raw, err := json.Marshal(ops)
				if err != nil {
					return nil, err
				}
				sc.cacheSetValue(resolved, raw)
				return ops, nil
			}

			interval := 5.0
			if pollingConfig != nil && pollingConfig.Interval != 0 {
				interval = pollingConfig.Interval
			}
			if sc.scheduler == nil {
				return nil, ErrSchedulerMissing(sc.flowName)
			}
			if err := sc.scheduler.Schedule(ctx, sc.flowName, Envelope{RunScheduled: &RunScheduledEnvelope{FlowID: sc.flowID}}, interval); err != nil {
				return nil, err
			}
			return nil, &Interrupted{StepName: resolved}
		})
}
