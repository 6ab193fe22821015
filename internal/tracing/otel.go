package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the tracer provider installed by Setup
type Options struct {
	ServiceName string
	Version     string

	// SampleRatio is the fraction of root spans kept. Zero keeps all of them.
	SampleRatio float64

	// Exporter receives finished spans synchronously. Without one, spans are
	// sampled and recorded but never leave the process.
	Exporter sdktrace.SpanExporter
}

// Provider is an installed tracer provider
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup builds a tracer provider from opts and makes it the global one.
// Spans started before Setup, or when it is never called, are no-ops.
func Setup(opts Options) (*Provider, error) {
	if opts.SampleRatio < 0 || opts.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio %v out of range [0, 1]", opts.SampleRatio)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(res),
	}
	if opts.Exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(opts.Exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartSpan starts a span tagged with the session, worker and job ids carried
// by ctx, and stores the span's trace id in ctx when none is set.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = withContextIDs(ctx, attrs)
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// withContextIDs appends the ids found in ctx that attrs does not already set
func withContextIDs(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	set := make(map[attribute.Key]bool, len(attrs))
	for _, kv := range attrs {
		set[kv.Key] = true
	}

	for _, key := range []ContextKey{SessionIDKey, WorkerIDKey, JobIDKey} {
		k := attribute.Key(key)
		if set[k] {
			continue
		}
		if v := getString(ctx, key); v != "" {
			attrs = append(attrs, k.String(v))
		}
	}
	return attrs
}
