package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeClientMessage parses and validates a client message.
func DecodeClientMessage(data []byte, limits Limits) (*ClientMessage, error) {
	limits = limits.normalized()
	if len(data) > limits.MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(msg.RPC) > limits.MaxInvocations {
		return nil, ErrTooManyInvocations
	}
	for i := range msg.RPC {
		if err := msg.RPC[i].validate(limits); err != nil {
			return nil, fmt.Errorf("rpc[%d]: %w", i, err)
		}
	}
	return &msg, nil
}

// ReadClientMessage reads at most limits.MaxMessageSize bytes from r and
// decodes them.
func ReadClientMessage(r io.Reader, limits Limits) (*ClientMessage, error) {
	limits = limits.normalized()
	data, err := io.ReadAll(io.LimitReader(r, int64(limits.MaxMessageSize)+1))
	if err != nil {
		return nil, err
	}
	return DecodeClientMessage(data, limits)
}

// validate checks required fields and normalizes decoded numbers.
func (inv *Invocation) validate(limits Limits) error {
	if !inv.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownInvocation, inv.Type)
	}
	switch inv.Type {
	case InvocationEvent:
		if inv.Node == 0 || inv.Event == "" {
			return ErrMissingInvocationArg
		}
		if inv.Phase != "" && !inv.Phase.Valid() {
			return fmt.Errorf("%w: phase %q", ErrInvalidMessage, inv.Phase)
		}
		if inv.Timeout < 0 {
			return fmt.Errorf("%w: negative timeout", ErrInvalidMessage)
		}
	case InvocationPropertySync:
		if inv.Node == 0 || inv.Property == "" {
			return ErrMissingInvocationArg
		}
	case InvocationPublished:
		if inv.Node == 0 || inv.Method == "" {
			return ErrMissingInvocationArg
		}
	case InvocationNavigation:
		if inv.Location == "" {
			return ErrMissingInvocationArg
		}
	case InvocationReturn:
		if inv.ID == 0 {
			return ErrMissingInvocationArg
		}
	}

	dc := newDepthContext(limits.MaxDepth)
	if err := dc.checkValue(inv.Value); err != nil {
		return err
	}
	for k, v := range inv.Data {
		if err := dc.checkValue(v); err != nil {
			return err
		}
		inv.Data[k] = normalizeNumbers(v)
	}
	inv.Value = normalizeNumbers(inv.Value)
	for _, raw := range inv.Args {
		if err := checkRawDepth(raw, limits.MaxDepth); err != nil {
			return err
		}
	}
	return nil
}

// checkRawDepth enforces the depth limit on undecoded JSON by counting
// brackets outside strings.
func checkRawDepth(raw json.RawMessage, max int) error {
	depth := 0
	inString := false
	escaped := false
	for _, b := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > max {
				return ErrMaxDepthExceeded
			}
		case '}', ']':
			depth--
		}
	}
	return nil
}

// normalizeNumbers turns json.Number values into float64, the
// representation the tree uses for numbers.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	}
	return v
}

// EncodeClientMessage encodes a client message.
func EncodeClientMessage(msg *ClientMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// EncodeServerMessage encodes a server message. The output is what the
// server caches for duplicate requests, so the same message always encodes
// to the same bytes.
func EncodeServerMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeServerMessage parses a server message.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}

// DecodeHandshake parses a handshake response.
func DecodeHandshake(data []byte) (*Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if h.UIID == "" || h.Initial == nil {
		return nil, fmt.Errorf("%w: incomplete handshake", ErrInvalidMessage)
	}
	return &h, nil
}
