// Package session persists HTTP session attributes.
//
// A browser session can hold several UIs, one per tab. Attributes stored on
// the HTTP session outlive single UIs and, with a persistent Store, server
// restarts:
//
//	store, err := session.Open("sqlite:/var/lib/mirror/sessions.db")
//	// or session.Open("postgres:postgres://user@host/db")
//	// or session.NewMemoryStore()
//
// Attributes are serialized as JSON in a Record. Values must therefore be
// JSON-marshalable; they are decoded into the caller's type on load.
package session
