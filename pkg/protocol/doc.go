// Package protocol defines the JSON messages exchanged between a browser UI
// and the server.
//
// # Client to server
//
// Every request carries a ClientMessage:
//
//	{
//	  "csrfToken": "c1f5...",
//	  "syncId": 4,
//	  "clientId": 7,
//	  "rpc": [
//	    {"type": "mSync", "node": 12, "property": "value", "value": "abc"},
//	    {"type": "event", "node": 12, "event": "change", "data": {}}
//	  ]
//	}
//
// syncId is the last server sync id the client has applied. clientId
// numbers client messages; the server expects each message to carry the
// id it announced in its previous response.
//
// # Server to client
//
// Responses and pushed messages are ServerMessages:
//
//	{
//	  "syncId": 5,
//	  "clientId": 8,
//	  "changes": [{"node": 12, "type": "put", "feat": "prop", "key": "value", "value": "abc"}],
//	  "execute": [{"args": [{"@v-node": 12}], "expr": "$0.focus()"}]
//	}
//
// syncId increases by one for every message the server produces for a UI.
// A message with resynchronize set carries the full tree and replaces all
// client state.
//
// # Limits
//
// Decoding is bounded by Limits: maximum message size, number of
// invocations per message and nesting depth of event data and values.
package protocol
