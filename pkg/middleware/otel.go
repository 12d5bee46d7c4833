package middleware

import (
	"context"
	"fmt"

	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for mirror applications.
const defaultTracerName = "mirror"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "mirror").
	TracerName string

	// TracerProvider supplies the tracer. If nil, the global provider
	// is used.
	TracerProvider trace.TracerProvider

	// IncludeSessionID includes the HTTP session id in traces.
	// May be sensitive - disabled by default.
	IncludeSessionID bool

	// Filter determines which invocations to trace.
	// If nil, all invocations are traced.
	Filter func(ui *server.UI, inv *protocol.Invocation) bool

	// AttributeExtractor adds custom attributes to each span.
	AttributeExtractor func(ui *server.UI, inv *protocol.Invocation) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeSessionID enables including the session id in traces.
func WithIncludeSessionID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeSessionID = include
	}
}

// WithInvocationFilter sets a filter function for invocations.
func WithInvocationFilter(filter func(*server.UI, *protocol.Invocation) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(*server.UI, *protocol.Invocation) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{TracerName: defaultTracerName}
}

// OpenTelemetry creates invocation middleware that traces every client
// invocation.
//
// Each span is named after the invocation type ("mirror.event",
// "mirror.mSync", ...) and carries the UI id, the target node and the
// event, property or method name. Handler errors and panics set the span
// status. The span is in the context passed down the chain, so exposed
// methods taking a context.Context can start child spans from it.
//
//	m := server.NewManager(cfg, server.WithMiddleware(
//	    middleware.OpenTelemetry(middleware.WithTracerName("my-app")),
//	))
func OpenTelemetry(opts ...OTelOption) server.InvocationMiddleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next server.InvocationHandler) server.InvocationHandler {
		return func(ctx context.Context, ui *server.UI, inv *protocol.Invocation) (err error) {
			if config.Filter != nil && !config.Filter(ui, inv) {
				return next(ctx, ui, inv)
			}

			attrs := invocationAttributes(ui, inv)
			if config.IncludeSessionID && ui.Session() != nil {
				attrs = append(attrs, attribute.String("mirror.session_id", ui.Session().ID()))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(ui, inv)...)
			}

			ctx, span := tracer.Start(ctx, "mirror."+string(inv.Type),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer func() {
				if r := recover(); r != nil {
					span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
					span.End()
					panic(r)
				}
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				} else {
					span.SetStatus(codes.Ok, "")
				}
				span.End()
			}()

			return next(ctx, ui, inv)
		}
	}
}

func invocationAttributes(ui *server.UI, inv *protocol.Invocation) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("mirror.ui_id", ui.ID()),
		attribute.String("mirror.invocation", string(inv.Type)),
	}
	if inv.Node != 0 {
		attrs = append(attrs, attribute.Int("mirror.node", int(inv.Node)))
	}
	switch inv.Type {
	case protocol.InvocationEvent:
		attrs = append(attrs, attribute.String("mirror.event", inv.Event))
		if inv.Phase != "" {
			attrs = append(attrs, attribute.String("mirror.debounce_phase", string(inv.Phase)))
		}
	case protocol.InvocationPropertySync:
		attrs = append(attrs, attribute.String("mirror.property", inv.Property))
	case protocol.InvocationPublished:
		attrs = append(attrs, attribute.String("mirror.method", inv.Method))
	case protocol.InvocationNavigation:
		attrs = append(attrs, attribute.String("mirror.location", inv.Location))
	case protocol.InvocationReturn:
		attrs = append(attrs, attribute.Int("mirror.execution_id", int(inv.ID)))
	}
	return attrs
}
