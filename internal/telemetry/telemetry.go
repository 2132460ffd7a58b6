// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package telemetry wires the otel SDK tracer and meter providers the
// rest of this repo consumes (lvmcache/internal/cache's WithTracerProvider,
// WithMetrics), grounded on the calling convention of the teacher's
// cmd/driver/main.go ("telemetry.New(ctx, opts...)" returning a value
// whose TraceProvider() feeds every component that opens spans).
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles a tracer provider and a meter provider constructed
// from the options passed to New.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  *metric.MeterProvider
	shutdownFns    []func(context.Context) error
}

// TraceProvider returns the tracer provider every span-creating
// component should use.
func (t *Telemetry) TraceProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the meter provider backing any otel-native
// metrics instruments (as opposed to the Prometheus collectors
// registered directly via internal/cache.NewMetrics).
func (t *Telemetry) MeterProvider() *metric.MeterProvider {
	return t.meterProvider
}

// Shutdown flushes and stops every exporter registered by New.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	for _, fn := range t.shutdownFns {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// options accumulates the settings chosen by the Option values passed
// to New.
type options struct {
	serviceInstanceID string
	promRegisterer    prometheus.Registerer
	sampleRatePerM    int
	stdoutMetrics     bool
}

// Option configures Telemetry construction.
type Option func(*options)

// WithServiceInstanceID tags every span/metric with an instance id
// distinguishing this process from others running the same service.
func WithServiceInstanceID(id string) Option {
	return func(o *options) { o.serviceInstanceID = id }
}

// WithPrometheus registers the otel meter provider's Prometheus
// exporter against reg, the same registry internal/cache.NewMetrics
// registers its own collectors against.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) { o.promRegisterer = reg }
}

// WithTraceSampleRate sets the sampling rate in samples per million
// spans; 0 disables tracing (a tracer provider that never samples is
// used instead).
func WithTraceSampleRate(perMillion int) Option {
	return func(o *options) { o.sampleRatePerM = perMillion }
}

// WithStdoutMetrics additionally exports metrics to stdout, useful for
// the demo command when no Prometheus scraper is present.
func WithStdoutMetrics() Option {
	return func(o *options) { o.stdoutMetrics = true }
}

// New constructs a Telemetry from opts. With no options, tracing is a
// no-op and metrics are collected in-process but exported nowhere.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{}

	if o.sampleRatePerM > 0 {
		sampler := sdktrace.TraceIDRatioBased(float64(o.sampleRatePerM) / 1_000_000)
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sampler)))
		t.tracerProvider = tp
		t.shutdownFns = append(t.shutdownFns, tp.Shutdown)
	} else {
		t.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
	}

	var readers []metric.Option
	if o.promRegisterer != nil {
		exp, err := otelprometheus.New(otelprometheus.WithRegisterer(o.promRegisterer))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		readers = append(readers, metric.WithReader(exp))
	}
	if o.stdoutMetrics {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		readers = append(readers, metric.WithReader(metric.NewPeriodicReader(exp)))
	}
	t.meterProvider = metric.NewMeterProvider(readers...)

	return t, nil
}
