// Package tracing wires OpenTelemetry spans around the alert processing path
// (C7) and the anchor batching path (C9), the two places where knowing
// "why did this alert take 40ms to anchor" matters most operationally.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and how traces are exported.
type Config struct {
	Enabled     bool   `koanf:"enabled"`
	Exporter    string `koanf:"exporter"` // "stdout" or "none"
	ServiceName string `koanf:"service_name"`
}

// DefaultConfig disables tracing by default; operators opt in.
func DefaultConfig() Config {
	return Config{Enabled: false, Exporter: "none", ServiceName: "sentinel-alertd"}
}

// Provider owns the process-wide TracerProvider and a tracer scoped to it.
type Provider struct {
	cfg      Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider builds a Provider. With tracing disabled or no exporter
// configured, it still returns a usable no-op tracer so callers never need
// to nil-check.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sentinel-alertd"
	}
	if !cfg.Enabled || cfg.Exporter == "none" || cfg.Exporter == "" {
		return &Provider{cfg: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return &Provider{cfg: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{cfg: cfg, tracer: tp.Tracer(cfg.ServiceName), provider: tp}, nil
}

// Tracer returns the scoped tracer for starting spans.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and stops the exporter, if one is active.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Span attribute keys, namespaced to avoid collision with semconv attributes.
const (
	AttrAlertID    = "sentinelvnc.alert.id"
	AttrSessionID  = "sentinelvnc.session.id"
	AttrSeverity   = "sentinelvnc.severity"
	AttrAnchorID   = "sentinelvnc.anchor.id"
	AttrLeafCount  = "sentinelvnc.anchor.leaf_count"
	AttrBatchCause = "sentinelvnc.anchor.batch_cause"
)

// StartAlertSpan wraps one C7 alert-processing call.
func (p *Provider) StartAlertSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "alertsink.process_alert",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String(AttrSessionID, sessionID)),
	)
}

// EndAlertSpan closes an alert span with its resulting alert id/severity.
func EndAlertSpan(span trace.Span, alertID, severity string, err error) {
	span.SetAttributes(
		attribute.String(AttrAlertID, alertID),
		attribute.String(AttrSeverity, severity),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartAnchorSpan wraps one C9 batch emission, tagged with why the batch
// fired (batch size reached, scheduled interval, soft-limit backpressure, or
// shutdown drain).
func (p *Provider) StartAnchorSpan(ctx context.Context, cause string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "anchor.emit_batch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(AttrBatchCause, cause)),
	)
}

// EndAnchorSpan closes an anchor span with the resulting anchor id/leaf count.
func EndAnchorSpan(span trace.Span, anchorID string, leafCount int, err error) {
	span.SetAttributes(
		attribute.String(AttrAnchorID, anchorID),
		attribute.Int(AttrLeafCount, leafCount),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
