// Package middleware provides observability for mirror servers.
//
// # Prometheus Metrics
//
// Metrics is a server.Observer. It counts UIs, client invocations, sent
// messages, push deliveries and resynchronizations:
//
//	metrics := middleware.Prometheus(middleware.WithNamespace("myapp"))
//	m := server.NewManager(cfg, server.WithObserver(metrics))
//
// Then expose the registry:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # OpenTelemetry
//
// OpenTelemetry is a server.InvocationMiddleware that starts a span for
// every client invocation:
//
//	m := server.NewManager(cfg, server.WithMiddleware(
//	    middleware.OpenTelemetry(
//	        middleware.WithTracerName("my-app"),
//	        middleware.WithInvocationFilter(func(_ *server.UI, inv *protocol.Invocation) bool {
//	            return inv.Type != protocol.InvocationReturn
//	        }),
//	    ),
//	))
//
// The span travels in the context handed down the chain, so exposed
// methods that take a context.Context inherit it:
//
//	u.Expose(node, "save", func(ctx context.Context, doc Doc) error {
//	    _, err := db.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
package middleware
