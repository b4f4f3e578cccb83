// Copyright 2024 Google LLC
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	otrace "go.opentelemetry.io/otel/trace"
)

// storeExporter is an OpenTelemetry SpanExporter that writes finished spans
// into a Store, grouped by trace ID.
type storeExporter struct {
	store Store
}

func newStoreExporter(store Store) *storeExporter {
	return &storeExporter{store: store}
}

func (e *storeExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.store == nil {
		return nil
	}
	byTrace := map[otrace.TraceID][]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		tid := s.SpanContext().TraceID()
		byTrace[tid] = append(byTrace[tid], s)
	}
	for tid, group := range byTrace {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		td := convertTrace(group)
		if err := e.store.Save(ctx, tid.String(), td); err != nil {
			return fmt.Errorf("tracing: save trace %s: %w", tid, err)
		}
	}
	return nil
}

func (e *storeExporter) Shutdown(ctx context.Context) error { return nil }

func convertTrace(spans []sdktrace.ReadOnlySpan) *Data {
	td := &Data{Spans: map[string]*SpanData{}}
	for _, s := range spans {
		sd := &SpanData{
			SpanID:       s.SpanContext().SpanID().String(),
			TraceID:      s.SpanContext().TraceID().String(),
			StartTime:    ToMilliseconds(s.StartTime()),
			EndTime:      ToMilliseconds(s.EndTime()),
			DisplayName:  s.Name(),
			SpanKind:     s.SpanKind().String(),
			Status:       Status{Code: uint32(s.Status().Code), Description: s.Status().Description},
			Attributes:   map[string]any{},
			ParentSpanID: s.Parent().SpanID().String(),
		}
		for _, kv := range s.Attributes() {
			sd.Attributes[string(kv.Key)] = kv.Value.AsInterface()
		}
		if !s.Parent().IsValid() {
			td.DisplayName = s.Name()
			td.StartTime = sd.StartTime
		}
		td.EndTime = sd.EndTime
		td.Spans[sd.SpanID] = sd
	}
	return td
}
