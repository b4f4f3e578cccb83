// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metricInstruments struct {
	dispatchCounter   metric.Int64Counter
	dispatchLatencies metric.Int64Histogram
	driveOutcomes     metric.Int64Counter
}

// Instrument creation is deferred to first use so a host that installs its
// own MeterProvider (e.g. a cloud monitoring plugin) still gets picked up,
// rather than latching onto the default one at package init.
var fetchInstruments = sync.OnceValue(func() *metricInstruments {
	insts, err := initInstruments()
	if err != nil {
		slog.Default().Error("flow: metric initialization failed; no metrics will be collected", "err", err)
		return nil
	}
	return insts
})

func initInstruments() (*metricInstruments, error) {
	meter := otel.Meter("flowrun")
	var err error
	insts := &metricInstruments{}
	insts.dispatchCounter, err = meter.Int64Counter("flowrun/dispatch/requests")
	if err != nil {
		return nil, err
	}
	insts.dispatchLatencies, err = meter.Int64Histogram("flowrun/dispatch/latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	insts.driveOutcomes, err = meter.Int64Counter("flowrun/drive/outcomes")
	if err != nil {
		return nil, err
	}
	return insts, nil
}

// recordDispatch records one Engine.dispatch call: its flow, envelope
// variant, latency, and whether it returned a dispatch-level error (a body
// failure recorded on the Operation does not count as one).
func recordDispatch(ctx context.Context, flowName, dispatchType string, latency time.Duration, err error) {
	insts := fetchInstruments()
	if insts == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("name", flowName),
		attribute.String("dispatchType", dispatchType),
		attribute.Bool("error", err != nil),
	}
	opt := metric.WithAttributes(attrs...)
	insts.dispatchCounter.Add(ctx, 1, opt)
	insts.dispatchLatencies.Record(ctx, latency.Milliseconds(), opt)
}

// recordDriveOutcome records how one body invocation ended: "done",
// "interrupted", or "error".
func recordDriveOutcome(ctx context.Context, flowName, outcome string) {
	insts := fetchInstruments()
	if insts == nil {
		return
	}
	insts.driveOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", flowName),
		attribute.String("outcome", outcome),
	))
}
