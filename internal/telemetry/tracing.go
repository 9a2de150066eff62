// Package telemetry provides OpenTelemetry tracing setup and outbound trace headers.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitTracerProvider initializes the global trace provider and the W3C trace
// context + baggage propagators. No exporter is attached; spans only feed the
// outbound headers until a collector is configured.
func InitTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(NewPropagator())

	return tp, nil
}

// NewPropagator returns the composite propagator used for engine calls.
func NewPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// HeaderSource injects the trace context carried by ctx into outbound headers.
type HeaderSource struct {
	propagator propagation.TextMapPropagator
}

// NewHeaderSource uses p, or NewPropagator when p is nil. Propagation does not
// depend on whether a tracer provider is installed.
func NewHeaderSource(p propagation.TextMapPropagator) *HeaderSource {
	if p == nil {
		p = NewPropagator()
	}
	return &HeaderSource{propagator: p}
}

// Headers returns the trace and baggage headers for ctx. The map is empty when
// ctx carries no span or baggage.
func (h *HeaderSource) Headers(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	h.propagator.Inject(ctx, carrier)
	return carrier
}

// Extract returns ctx carrying the trace context and baggage found in headers,
// the inverse of Headers.
func (h *HeaderSource) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return h.propagator.Extract(ctx, propagation.MapCarrier(headers))
}

// Middleware extracts inbound trace context and baggage from request headers so
// that engine calls made while serving the request continue the caller's trace.
func Middleware(p propagation.TextMapPropagator) func(http.Handler) http.Handler {
	if p == nil {
		p = NewPropagator()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := p.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
