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

// Package flow implements the durable flow execution engine: FlowState
// persistence, step memoization, the interrupt/resume protocol, and
// envelope dispatch.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowrun/flowrun/internal/base"
	"github.com/flowrun/flowrun/tracing"
)

// Func is the type of a flow body: it takes a parsed input and a stream
// callback (ignored by flows whose Stream type is struct{}) and returns a
// parsed output.
type Func[In, Out, Stream any] func(ctx context.Context, input In, stream func(context.Context, Stream) error) (Out, error)

// flowConfig accumulates Options at DefineFlow time.
type flowConfig struct {
	durable         bool
	developmentMode bool
	auth            Auth
	stateStore      StateStore
	scheduler       Scheduler
	registry        *Registry
	inputSchema     *Schema
	outputSchema    *Schema
}

// Option configures a Flow at definition time.
type Option func(*flowConfig)

// WithDurable marks the flow as durable: its state persists across drives
// and it accepts schedule/runScheduled/resume/state envelopes.
func WithDurable() Option {
	return func(c *flowConfig) { c.durable = true }
}

// WithDevelopmentMode persists even a non-durable flow's FlowState after
// every drive, for local inspection, provided a StateStore is configured
// (without one, nothing is persisted). It has no effect on a durable flow
// (which always persists).
func WithDevelopmentMode() Option {
	return func(c *flowConfig) { c.developmentMode = true }
}

// WithAuth attaches an auth policy. Panics at DefineFlow time if combined
// with WithDurable: durable flows must be invoked from privileged contexts,
// since a resume or runScheduled envelope carries no request to parse an
// auth header from.
func WithAuth(a Auth) Option {
	return func(c *flowConfig) {
		if c.auth != nil {
			panic("flow: auth already set")
		}
		c.auth = a
	}
}

// WithStateStore configures where this flow's FlowStates are persisted.
// Required for a durable flow.
func WithStateStore(s StateStore) Option {
	return func(c *flowConfig) { c.stateStore = s }
}

// WithScheduler configures how this flow enqueues delayed redeliveries.
// Required for a durable flow whose body calls Sleep or WaitFor.
func WithScheduler(s Scheduler) Option {
	return func(c *flowConfig) { c.scheduler = s }
}

// WithRegistry registers the flow under its name so a Scheduler can look it
// up to redeliver an envelope.
func WithRegistry(r *Registry) Option {
	return func(c *flowConfig) { c.registry = r }
}

// WithInputSchema attaches a Schema used to validate the raw input JSON
// before it is unmarshaled, and to describe the flow to callers.
func WithInputSchema(s *Schema) Option {
	return func(c *flowConfig) { c.inputSchema = s }
}

// WithOutputSchema attaches a descriptive Schema for the flow's output.
// The engine never validates output against it; it is metadata only.
func WithOutputSchema(s *Schema) Option {
	return func(c *flowConfig) { c.outputSchema = s }
}

// Flow is a named, typed, durable-or-not workflow definition with a
// procedural body. Construct one with DefineFlow or DefineStreamingFlow.
type Flow[In, Out, Stream any] struct {
	name            string
	fn              Func[In, Out, Stream]
	durable         bool
	developmentMode bool
	auth            Auth
	stateStore      StateStore
	scheduler       Scheduler
	inputSchema     *Schema
	outputSchema    *Schema
}

// DefineFlow creates a non-streaming Flow that runs fn.
func DefineFlow[In, Out any](name string, fn func(ctx context.Context, input In) (Out, error), opts ...Option) *Flow[In, Out, struct{}] {
	return defineFlow[In, Out, struct{}](name, func(ctx context.Context, in In, _ func(context.Context, struct{}) error) (Out, error) {
		return fn(ctx, in)
	}, opts...)
}

// DefineStreamingFlow creates a Flow whose body may stream incremental
// Stream-typed chunks via the callback before returning its final Out.
func DefineStreamingFlow[In, Out, Stream any](name string, fn Func[In, Out, Stream], opts ...Option) *Flow[In, Out, Stream] {
	return defineFlow[In, Out, Stream](name, fn, opts...)
}

func defineFlow[In, Out, Stream any](name string, fn Func[In, Out, Stream], opts ...Option) *Flow[In, Out, Stream] {
	cfg := &flowConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.durable && cfg.auth != nil {
		panic(fmt.Sprintf("flow %q: durable flows cannot carry an auth policy", name))
	}
	f := &Flow[In, Out, Stream]{
		name:            name,
		fn:              fn,
		durable:         cfg.durable,
		developmentMode: cfg.developmentMode,
		auth:            cfg.auth,
		stateStore:      cfg.stateStore,
		scheduler:       cfg.scheduler,
		inputSchema:     cfg.inputSchema,
		outputSchema:    cfg.outputSchema,
	}
	if cfg.registry != nil {
		cfg.registry.Register(name, f)
	}
	return f
}

// Name returns the flow's definition name.
func (f *Flow[In, Out, Stream]) Name() string { return f.name }

// IsDurable reports whether this flow persists state across drives.
func (f *Flow[In, Out, Stream]) IsDurable() bool { return f.durable }

// InputSchema returns the flow's input Schema, or nil if none was configured.
func (f *Flow[In, Out, Stream]) InputSchema() *Schema { return f.inputSchema }

// OutputSchema returns the flow's output Schema, or nil if none was configured.
func (f *Flow[In, Out, Stream]) OutputSchema() *Schema { return f.outputSchema }

// LoadState implements FlowRef, so this Flow can be a WaitFor dependency target.
func (f *Flow[In, Out, Stream]) LoadState(ctx context.Context, flowID string) (*FlowState, error) {
	if f.stateStore == nil {
		return nil, ErrStateStoreMissing(f.name)
	}
	return f.stateStore.Load(ctx, flowID)
}

// Dispatch implements Dispatcher: the minimal surface a Scheduler needs to
// redeliver an envelope. It carries no stream callback, since that only
// makes sense for a start envelope driven directly by a caller, never for a
// scheduler's own redelivery. A caller whose flow carries an Auth policy
// must install the auth context on ctx itself first (see ProvideAuthContext
// and RunWithAuth).
func (f *Flow[In, Out, Stream]) Dispatch(ctx context.Context, env Envelope) (*FlowState, error) {
	return f.dispatch(ctx, env, nil)
}

// DispatchWithStream is Dispatch with stream wired to the body's streaming
// callback, consulted only while driving the body.
func (f *Flow[In, Out, Stream]) DispatchWithStream(ctx context.Context, env Envelope, stream func(context.Context, Stream) error) (*FlowState, error) {
	return f.dispatch(ctx, env, stream)
}

// ProvideAuthContext parses authHeader with this flow's Auth policy and
// installs the result on ctx, for a caller (typically the HTTP layer) that
// has a raw header rather than an already-parsed AuthContext. It is a no-op
// returning ctx unchanged if the flow carries no Auth policy.
func (f *Flow[In, Out, Stream]) ProvideAuthContext(ctx context.Context, authHeader string) (context.Context, error) {
	if f.auth == nil || authHeader == "" {
		return ctx, nil
	}
	return f.auth.ProvideAuthContext(ctx, authHeader)
}

func (f *Flow[In, Out, Stream]) dispatch(ctx context.Context, env Envelope, stream func(context.Context, Stream) error) (state *FlowState, err error) {
	start := time.Now()
	dispatchType := env.dispatchType()
	defer func() { recordDispatch(ctx, f.name, dispatchType, time.Since(start), err) }()

	if err = env.validate(); err != nil {
		return nil, err
	}
	switch {
	case env.Start != nil:
		state, err = f.dispatchStart(ctx, env.Start, stream)
	case env.Schedule != nil:
		state, err = f.dispatchSchedule(ctx, env.Schedule)
	case env.RunScheduled != nil:
		state, err = f.dispatchRunScheduled(ctx, env.RunScheduled, stream)
	case env.Resume != nil:
		state, err = f.dispatchResume(ctx, env.Resume, stream)
	case env.State != nil:
		state, err = f.dispatchState(ctx, env.State)
	default:
		err = ErrUnimplemented
	}
	return state, err
}

func (f *Flow[In, Out, Stream]) dispatchStart(ctx context.Context, s *StartEnvelope, stream func(context.Context, Stream) error) (*FlowState, error) {
	// Only non-durable flows may carry an auth policy (enforced at
	// definition time), so Start is the only envelope that ever needs to
	// check one: every other variant targets an already-running durable
	// instance, authorized when it was started. The caller is responsible
	// for having installed the auth context on ctx already (via
	// ProvideAuthContext or RunWithAuth).
	if f.auth != nil {
		var genericInput any
		if len(s.Input) > 0 {
			if err := json.Unmarshal(s.Input, &genericInput); err != nil {
				return nil, ErrValidation(err)
			}
		}
		if err := f.auth.CheckAuthPolicy(ctx, genericInput); err != nil {
			return nil, ErrPermissionDenied(err)
		}
	}

	flowID := uuid.NewString()
	state := newFlowState(flowID, f.name, s.Input)
	state, err := f.execute(ctx, state, "start", s.Labels, stream)
	if err != nil {
		return nil, err
	}
	if err := f.maybePersist(ctx, flowID, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (f *Flow[In, Out, Stream]) dispatchSchedule(ctx context.Context, s *ScheduleEnvelope) (*FlowState, error) {
	if !f.durable {
		return nil, ErrNotDurable(f.name)
	}
	if f.stateStore == nil {
		return nil, ErrStateStoreMissing(f.name)
	}
	flowID := uuid.NewString()
	state := newFlowState(flowID, f.name, s.Input)
	if err := f.stateStore.Save(ctx, flowID, state); err != nil {
		return nil, err
	}
	if f.scheduler == nil {
		return nil, ErrSchedulerMissing(f.name)
	}
	env := Envelope{RunScheduled: &RunScheduledEnvelope{FlowID: flowID}}
	if err := f.scheduler.Schedule(ctx, f.name, env, s.Delay); err != nil {
		state.Operation.Done = true
		state.Operation.Result = &OperationResult{Error: err.Error()}
		if serr := f.stateStore.Save(ctx, flowID, state); serr != nil {
			return nil, serr
		}
		return state, nil
	}
	return state, nil
}

func (f *Flow[In, Out, Stream]) dispatchRunScheduled(ctx context.Context, s *RunScheduledEnvelope, stream func(context.Context, Stream) error) (*FlowState, error) {
	if !f.durable {
		return nil, ErrNotDurable(f.name)
	}
	if f.stateStore == nil {
		return nil, ErrStateStoreMissing(f.name)
	}
	state, err := f.stateStore.Load(ctx, s.FlowID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrUnknownFlow(s.FlowID)
	}
	state, err = f.execute(ctx, state, "runScheduled", nil, stream)
	if err != nil {
		return nil, err
	}
	if err := f.stateStore.Save(ctx, s.FlowID, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (f *Flow[In, Out, Stream]) dispatchResume(ctx context.Context, s *ResumeEnvelope, stream func(context.Context, Stream) error) (*FlowState, error) {
	if !f.durable {
		return nil, ErrNotDurable(f.name)
	}
	if f.stateStore == nil {
		return nil, ErrStateStoreMissing(f.name)
	}
	state, err := f.stateStore.Load(ctx, s.FlowID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrUnknownFlow(s.FlowID)
	}
	if state.BlockedOnStep == nil {
		return nil, ErrNotInterrupted(s.FlowID)
	}
	state.EventsTriggered[state.BlockedOnStep.Name] = s.Payload
	state, err = f.execute(ctx, state, "resume", nil, stream)
	if err != nil {
		return nil, err
	}
	if err := f.stateStore.Save(ctx, s.FlowID, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (f *Flow[In, Out, Stream]) dispatchState(ctx context.Context, s *StateEnvelope) (*FlowState, error) {
	if !f.durable {
		return nil, ErrNotDurable(f.name)
	}
	if f.stateStore == nil {
		return nil, ErrStateStoreMissing(f.name)
	}
	state, err := f.stateStore.Load(ctx, s.FlowID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrUnknownFlow(s.FlowID)
	}
	return state, nil
}

// maybePersist saves state if this flow is durable (required) or running in
// development mode (best-effort visibility for a non-durable flow).
func (f *Flow[In, Out, Stream]) maybePersist(ctx context.Context, flowID string, state *FlowState) error {
	switch {
	case f.durable:
		if f.stateStore == nil {
			return ErrStateStoreMissing(f.name)
		}
		return f.stateStore.Save(ctx, flowID, state)
	case f.developmentMode && f.stateStore != nil:
		return f.stateStore.Save(ctx, flowID, state)
	default:
		return nil
	}
}

// execute is the inner driver: it opens a root span, appends an execution
// record, drives the body, and writes the outcome into state.Operation. It
// never returns a non-nil error for a body failure (those are recorded on
// state.Operation instead); a non-nil error here means the drive never
// started (bad input).
func (f *Flow[In, Out, Stream]) execute(ctx context.Context, state *FlowState, dispatchType string, labels map[string]string, stream func(context.Context, Stream) error) (*FlowState, error) {
	var input In
	if len(state.Input) > 0 && string(state.Input) != "null" {
		if f.inputSchema != nil {
			if err := f.inputSchema.Validate(state.Input); err != nil {
				return state, ErrValidation(err)
			}
		}
		if err := json.Unmarshal(state.Input, &input); err != nil {
			return state, ErrValidation(err)
		}
	}

	sc := newStepContext(state.FlowID, f.name, state, f.scheduler)
	ctx = withStepContext(ctx, sc)

	_, _ = tracing.RunInNewSpan(ctx, &tracing.SpanMetadata{
		Name:            f.name,
		IsRoot:          true,
		Type:            "flow",
		Subtype:         "flow",
		TelemetryLabels: labels,
		Metadata:        map[string]string{"dispatchType": dispatchType},
	}, input, func(ctx context.Context, input In) (Out, error) {
		traceID := trace.SpanContextFromContext(ctx).TraceID().String()
		state.Executions = append(state.Executions, Execution{StartTime: time.Now(), TraceIDs: []string{traceID}})
		if state.TraceContext == "" {
			state.TraceContext = traceID
		}
		tracing.SetAttr(ctx, "flowId", state.FlowID)
		tracing.SetAttr(ctx, "dispatchType", dispatchType)
		tracing.SetAttr(ctx, "execution", strconv.Itoa(len(state.Executions)-1))

		out, err := f.fn(ctx, input, stream)
		if err != nil {
			if IsInterrupted(err) {
				// A suspended drive is not a span failure: blockedOnStep
				// already records why. Swallow the error here so the
				// outer span is not marked errored.
				tracing.SetAttr(ctx, "driveState", "interrupted")
				recordDriveOutcome(ctx, f.name, "interrupted")
				return base.Zero[Out](), nil
			}
			state.Operation.Done = true
			state.Operation.Result = &OperationResult{Error: err.Error(), Stacktrace: fmt.Sprintf("%+v", err)}
			tracing.SetAttr(ctx, "driveState", "error")
			recordDriveOutcome(ctx, f.name, "error")
			return base.Zero[Out](), err
		}

		raw, merr := json.Marshal(out)
		if merr != nil {
			merr = fmt.Errorf("flow %q: marshal output: %w", f.name, merr)
			state.Operation.Done = true
			state.Operation.Result = &OperationResult{Error: merr.Error()}
			recordDriveOutcome(ctx, f.name, "error")
			return base.Zero[Out](), merr
		}
		state.Operation.Done = true
		state.Operation.Result = &OperationResult{Response: raw}
		tracing.SetAttr(ctx, "driveState", "done")
		recordDriveOutcome(ctx, f.name, "done")
		return out, nil
	})

	return state, nil
}

// Run drives this flow to completion as a direct (non-HTTP) call: it always
// dispatches a start envelope and unwraps the resulting Operation into a
// typed (Out, error), which is only meaningful for a flow that never
// interrupts (a durable flow's body calling Interrupt should be driven
// through Dispatch instead, to observe blockedOnStep).
func (f *Flow[In, Out, Stream]) Run(ctx context.Context, input In) (Out, error) {
	return f.run(ctx, input, nil)
}

// RunWithAuth is Run with an explicit AuthContext installed on ctx before
// dispatch, for callers that already have one rather than an HTTP header to
// parse.
func (f *Flow[In, Out, Stream]) RunWithAuth(ctx context.Context, authCtx AuthContext, input In) (Out, error) {
	if f.auth != nil {
		ctx = f.auth.NewContext(ctx, authCtx)
	}
	return f.run(ctx, input, nil)
}

// Stream drives this flow, invoking cb for each chunk the body emits, and
// returns the final output once the body completes.
func (f *Flow[In, Out, Stream]) Stream(ctx context.Context, input In, cb func(context.Context, Stream) error) (Out, error) {
	return f.run(ctx, input, cb)
}

// StreamChunks is Stream for a caller that wants to pull chunks from a
// channel rather than supply a push callback: it starts the drive in its
// own goroutine immediately and returns a StreamingBridge the caller ranges
// over via Chunks(), then reads the final (Out, error) from Output() once
// Chunks() is drained.
func (f *Flow[In, Out, Stream]) StreamChunks(ctx context.Context, input In) *StreamingBridge[Out, Stream] {
	bridge := NewStreamingBridge[Out, Stream](f.name)
	bridge.Run(ctx, func(ctx context.Context, cb func(context.Context, Stream) error) (Out, error) {
		return f.run(ctx, input, cb)
	})
	return bridge
}

func (f *Flow[In, Out, Stream]) run(ctx context.Context, input In, cb func(context.Context, Stream) error) (Out, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return base.Zero[Out](), err
	}
	state, err := f.dispatch(ctx, Envelope{Start: &StartEnvelope{Input: raw}}, cb)
	if err != nil {
		return base.Zero[Out](), err
	}
	return outputFromState[Out](state)
}

func outputFromState[Out any](state *FlowState) (Out, error) {
	if state.Operation.Result != nil && state.Operation.Result.Error != "" {
		return base.Zero[Out](), ErrFlowExecution(state.FlowID, errors.New(state.Operation.Result.Error))
	}
	if !state.Operation.Done {
		return base.Zero[Out](), ErrFlowStillRunning(state.FlowID)
	}
	var out Out
	if err := json.Unmarshal(state.Operation.Result.Response, &out); err != nil {
		return base.Zero[Out](), err
	}
	return out, nil
}

// HTTPFlow is the type-erased surface the HTTP layer needs from a Flow,
// regardless of its In/Out/Stream type parameters: enough to route a
// request without the mux holding a generic type.
type HTTPFlow interface {
	Name() string
	IsDurable() bool
	// ProvideAuthContext parses authHeader (the raw Authorization header
	// value, possibly empty) and installs it on ctx, using this flow's Auth
	// policy if it has one. It is a no-op returning ctx unchanged otherwise.
	ProvideAuthContext(ctx context.Context, authHeader string) (context.Context, error)
	// DispatchJSON dispatches a durable envelope (already JSON throughout).
	DispatchJSON(ctx context.Context, env Envelope) (*FlowState, error)
	// RunJSON drives a non-durable flow directly from raw JSON input,
	// returning the terminal Operation (name, done, result). streamJSON, if
	// non-nil, is invoked with each marshaled stream chunk. ctx must already
	// carry any auth context (see ProvideAuthContext).
	RunJSON(ctx context.Context, inputJSON json.RawMessage, streamJSON func(context.Context, json.RawMessage) error) (*Operation, error)
}

func (f *Flow[In, Out, Stream]) DispatchJSON(ctx context.Context, env Envelope) (*FlowState, error) {
	return f.Dispatch(ctx, env)
}

func (f *Flow[In, Out, Stream]) RunJSON(ctx context.Context, inputJSON json.RawMessage, streamJSON func(context.Context, json.RawMessage) error) (*Operation, error) {
	var stream func(context.Context, Stream) error
	if streamJSON != nil {
		stream = func(ctx context.Context, chunk Stream) error {
			raw, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			return streamJSON(ctx, raw)
		}
	}
	state, err := f.dispatch(ctx, Envelope{Start: &StartEnvelope{Input: inputJSON}}, stream)
	if err != nil {
		return nil, err
	}
	if state.Operation.Result != nil && state.Operation.Result.Error != "" {
		return nil, ErrFlowExecution(state.FlowID, errors.New(state.Operation.Result.Error))
	}
	if !state.Operation.Done {
		return nil, ErrFlowStillRunning(state.FlowID)
	}
	return &state.Operation, nil
}
