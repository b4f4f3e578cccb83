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

// Package tracing provides the OpenTelemetry-backed TraceSink the flow
// engine emits span start/end/attribute events to.
package tracing

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/flowrun/flowrun/internal/base"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// markedError wraps an error to note it has already been recorded on a span,
// so an outer RunInNewSpan call does not record it a second time.
type markedError struct {
	error
	marked bool
}

func (e *markedError) Unwrap() error { return e.error }

func markErrorAsHandled(err error) error {
	var me *markedError
	if errors.As(err, &me) {
		me.marked = true
		return me
	}
	return &markedError{error: err, marked: true}
}

func isErrorAlreadyMarked(err error) bool {
	var me *markedError
	return errors.As(err, &me) && me.marked
}

var providerInitOnce sync.Once

// TracerProvider returns the global tracer provider, creating an SDK one
// lazily if none has been installed.
func TracerProvider() *sdktrace.TracerProvider {
	if tp := otel.GetTracerProvider(); tp != nil {
		if sdkTP, ok := tp.(*sdktrace.TracerProvider); ok {
			return sdkTP
		}
	}
	providerInitOnce.Do(func() {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
	})
	return otel.GetTracerProvider().(*sdktrace.TracerProvider)
}

// Tracer returns a tracer from the global tracer provider.
func Tracer() trace.Tracer {
	return TracerProvider().Tracer("flowrun", trace.WithInstrumentationVersion("v1"))
}

// RegisterStore wires a Store to receive every span the provider finishes,
// via a synchronous SpanProcessor. Call once at startup.
func RegisterStore(store Store) {
	TracerProvider().RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(newStoreExporter(store)))
}

const (
	attrPrefix   = "flowrun"
	spanTypeAttr = attrPrefix + ":type"
)

// SpanMetadata configures a span created by RunInNewSpan.
type SpanMetadata struct {
	// Name is the span name.
	Name string
	// IsRoot marks this as a drive's root span.
	IsRoot bool
	// Type is the kind of span ("flow", "flowStep").
	Type string
	// Subtype further categorizes Type ("flow", "interrupt", ...).
	Subtype string
	// TelemetryLabels are arbitrary caller-supplied span attributes.
	TelemetryLabels map[string]string
	// Metadata are flowrun-specific key/values, prefixed "flowrun:metadata:".
	Metadata map[string]string
}

// spanState is the completion status of a span.
type spanState string

const (
	spanStateSuccess spanState = "success"
	spanStateError   spanState = "error"
)

type spanMetadata struct {
	Name            string
	State           spanState
	IsRoot          bool
	IsFailureSource bool
	Input           any
	Output          any
	Error           string
	Path            string
	Type            string
	Subtype         string
	Metadata        map[string]string
}

func (sm *spanMetadata) attributes() []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(attrPrefix+":name", sm.Name),
		attribute.String(attrPrefix+":state", string(sm.State)),
		attribute.String(attrPrefix+":input", base.JSONString(sm.Input)),
		attribute.String(attrPrefix+":path", sm.Path),
	}
	if sm.Output != nil {
		kvs = append(kvs, attribute.String(attrPrefix+":output", base.JSONString(sm.Output)))
	}
	if sm.Type != "" {
		kvs = append(kvs, attribute.String(attrPrefix+":type", sm.Type))
	}
	if sm.Subtype != "" {
		kvs = append(kvs, attribute.String(attrPrefix+":metadata:subtype", sm.Subtype))
	}
	if sm.IsRoot {
		kvs = append(kvs, attribute.Bool(attrPrefix+":isRoot", true))
	}
	if sm.IsFailureSource {
		kvs = append(kvs, attribute.Bool(attrPrefix+":isFailureSource", true))
	}
	for k, v := range sm.Metadata {
		kvs = append(kvs, attribute.String(attrPrefix+":metadata:"+k, v))
	}
	return kvs
}

var spanMetaKey = base.NewContextKey[*spanMetadata]()

// SpanPath returns the hierarchical path recorded in the current span metadata.
func SpanPath(ctx context.Context) string {
	sm := spanMetaKey.FromContext(ctx)
	if sm == nil {
		return ""
	}
	return sm.Path
}

// SetAttr sets a flowrun-prefixed string attribute on the span active in ctx
// (the store exporter copies span attributes, so it reaches the Store too).
// The recorded spanMetadata is not changed.
func SetAttr(ctx context.Context, key, value string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(attrPrefix+":"+key, value))
}

// RunInNewSpan runs f(ctx, input) inside a new child span described by metadata.
func RunInNewSpan[I, O any](
	ctx context.Context,
	metadata *SpanMetadata,
	input I,
	f func(context.Context, I) (O, error),
) (O, error) {
	if metadata == nil {
		metadata = &SpanMetadata{}
	}

	parentSM := spanMetaKey.FromContext(ctx)
	isRoot := metadata.IsRoot
	if !isRoot && parentSM == nil {
		isRoot = true
	}

	sm := &spanMetadata{
		Name:     metadata.Name,
		Input:    input,
		IsRoot:   isRoot,
		Type:     metadata.Type,
		Subtype:  metadata.Subtype,
		Metadata: metadata.Metadata,
	}

	var parentPath string
	if parentSM != nil {
		parentPath = parentSM.Path
	}
	switch metadata.Subtype {
	case "flow":
		sm.Path = annotatePath(metadata.Name, parentPath, "flow")
	default:
		sm.Path = annotatePath(metadata.Name, parentPath, metadata.Type)
		if metadata.Subtype != "" {
			sm.Path = decorateSubtype(sm.Path, metadata.Subtype)
		}
	}

	var opts []trace.SpanStartOption
	if metadata.TelemetryLabels != nil {
		var attrs []attribute.KeyValue
		for k, v := range metadata.TelemetryLabels {
			attrs = append(attrs, attribute.String(k, v))
		}
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	if metadata.Type != "" {
		opts = append(opts, trace.WithAttributes(attribute.String(spanTypeAttr, metadata.Type)))
	}

	ctx, span := Tracer().Start(ctx, metadata.Name, opts...)
	defer span.End()
	defer func() { span.SetAttributes(sm.attributes()...) }()
	ctx = spanMetaKey.NewContext(ctx, sm)

	output, err := f(ctx, input)
	if err != nil {
		sm.State = spanStateError
		sm.Error = err.Error()
		sm.IsFailureSource = true
		if !isErrorAlreadyMarked(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		sm.State = spanStateSuccess
		sm.Output = output
	}
	return output, err
}

func annotatePath(name, parentPath, spanType string) string {
	seg := name
	if spanType != "" {
		seg = name + ",t:" + spanType
	}
	return parentPath + "/{" + seg + "}"
}

func decorateSubtype(path, subtype string) string {
	if path == "" || subtype == "" {
		return path
	}
	last := strings.LastIndex(path, "{")
	if last == -1 {
		return path
	}
	closeIdx := strings.Index(path[last:], "}")
	if closeIdx == -1 {
		return path
	}
	closeIdx += last
	seg := path[last+1 : closeIdx]
	return path[:last+1] + seg + ",s:" + subtype + path[closeIdx:]
}
