// Package telemetry wraps the OpenTelemetry global providers so the rest
// of memvault can call telemetry.Tracer/telemetry.Meter without caring
// whether Init has run yet. Before Init, both delegate to OTel's no-op
// global providers; after Init, instruments registered earlier
// automatically forward to the real SDK providers, the same trick the
// teacher's storage/dolt package documents ("no-op until telemetry.Init()
// is called").
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given instrumentation name, delegating
// to the current global TracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns a meter for the given instrumentation name, delegating to
// the current global MeterProvider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// shutdownFuncs accumulates provider Shutdown callbacks registered by Init
// so Shutdown can flush and close everything it set up.
var shutdownFuncs []func(context.Context) error

// Init installs SDK-backed tracer and meter providers as the OTel
// globals. Call it once at process start; the zero-value behavior
// (package-level Tracer/Meter calls before Init) is a documented no-op,
// so Init is optional for callers who don't need exported telemetry.
func Init(ctx context.Context) (func(context.Context) error, error) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

	return shutdown, nil
}

func shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range shutdownFuncs {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("telemetry: shutdown: %w", err)
		}
	}
	shutdownFuncs = nil
	return firstErr
}
