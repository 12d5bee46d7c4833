// Package client is a headless browser for mirror UIs.
//
// It speaks the same protocol as the browser client: it creates a UI with
// a handshake, keeps a mirror of the server tree built only from the
// changes it receives, and sends events, property values and method calls
// back. Tests and load tools use it to drive a UI without a browser.
//
//	c, err := client.Dial(ctx, client.Options{BaseURL: "http://localhost:8080"})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	go c.Run(ctx)
//
//	err = c.Fire(ctx, buttonID, "click", nil)
//
// # Ordering
//
// Server messages carry increasing sync ids. MessageHandler applies them in
// order, holds messages that arrive early and drops the ones it has seen,
// which happens routinely when a long poll replays a message that already
// came as a response. A gap that stays open for the server's
// MaxMessageSuspend triggers a resynchronization.
//
// Client messages carry increasing client ids and are sent one at a time.
// A failed request is retried with the same id; the server answers a
// repeated id with its cached response instead of running it again.
package client
