// Package server hosts UIs: server-side element trees mirrored by remote
// clients.
//
// A Manager owns HTTP sessions and the UIs opened in them. Each UI holds a
// dom.Tree, a lock serializing every access to it, and the bookkeeping of
// the synchronization protocol: the next expected client message id, the
// sync id of the last server message and a cache of the last response for
// duplicate client messages.
//
// # Lifecycle
//
//	m := server.NewManager(server.DefaultConfig(),
//	    server.WithUIInit(func(ctx context.Context, u *server.UI) error {
//	        button := dom.NewElement("button")
//	        button.AddEventListener("click", func(*dom.DomEvent) { ... })
//	        return u.Root().AppendChild(button)
//	    }),
//	)
//	http.Handle("/app/", http.StripPrefix("/app", m.Handler("/app")))
//
// A client opens a UI with POST /ui and receives a handshake with the
// initial changes. From then on it posts client messages carrying
// invocations (events, property syncs, published method calls, navigation
// and JS execution results) and gets back the changes they caused. UIs
// missing their heartbeats, or idle when CloseIdleSessions is set, are
// closed by the cleanup loop.
//
// # Access from other goroutines
//
// Code outside a request must hold the UI lock to touch the tree. Access
// queues a task and runs it under the lock; with push enabled the changes
// it makes are sent to the client afterwards:
//
//	u.Access(func() { label.SetText(time.Now().String()) })
//
// # Push
//
// Config.PushMode and Config.PushTransport select server push over a
// websocket, a websocket for push with client messages over HTTP
// (websocket-xhr), or long polling. See package push.
//
// # Observability
//
// Observer receives lifecycle and traffic events, and InvocationMiddleware
// wraps every invocation. Package middleware implements both on top of
// Prometheus and OpenTelemetry.
package server
