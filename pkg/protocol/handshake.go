package protocol

// Version is the protocol version announced in the handshake.
const Version = 1

// PushSettings tells the client how to receive pushed messages.
type PushSettings struct {
	// Mode is "disabled", "manual" or "automatic".
	Mode string `json:"mode"`

	// Transport is "websocket", "long-polling" or "websocket-xhr".
	Transport string `json:"transport,omitempty"`

	// Fallback is used when Transport cannot be established.
	Fallback string `json:"fallback,omitempty"`

	// URL is the path of the push endpoint.
	URL string `json:"url,omitempty"`
}

// Handshake is the response to UI creation.
type Handshake struct {
	Version   int    `json:"version"`
	UIID      string `json:"uiId"`
	CSRFToken string `json:"csrfToken,omitempty"`

	// UIDLURL is where client messages are posted.
	UIDLURL      string `json:"uidlUrl"`
	HeartbeatURL string `json:"heartbeatUrl,omitempty"`

	// HeartbeatInterval in whole seconds, at least 1 when enabled; zero or
	// negative disables heartbeats.
	HeartbeatInterval int `json:"heartbeatInterval"`

	// MaxMessageSuspend is how long, in milliseconds, the client waits
	// for a missing message before requesting a resynchronization.
	MaxMessageSuspend int `json:"maxMessageSuspend"`

	Push PushSettings `json:"push"`

	// Initial is the first message, carrying the full tree.
	Initial *ServerMessage `json:"initial"`
}

// HandshakeRequest is the optional body of a UI creation request.
type HandshakeRequest struct {
	// Location is the initial client location, routed like a navigation.
	Location string `json:"location,omitempty"`

	// Transports lists the push transports the client supports.
	Transports []string `json:"transports,omitempty"`
}
