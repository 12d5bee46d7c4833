package main

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logProcessor writes finished spans to the log at debug level, failed
// ones at warn. It stands in for an exporter when no collector is set up.
type logProcessor struct {
	logger *slog.Logger
}

var _ sdktrace.SpanProcessor = (*logProcessor)(nil)

func newTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	)
}

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	level := slog.LevelDebug
	if s.Status().Code == codes.Error {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !p.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(s.Attributes())+4)
	attrs = append(attrs,
		slog.String("span", s.Name()),
		slog.String("trace_id", s.SpanContext().TraceID().String()),
		slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
	)
	if desc := s.Status().Description; desc != "" {
		attrs = append(attrs, slog.String("status", desc))
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
	}
	p.logger.LogAttrs(ctx, level, "span", attrs...)
}

func (p *logProcessor) Shutdown(context.Context) error { return nil }

func (p *logProcessor) ForceFlush(context.Context) error { return nil }
