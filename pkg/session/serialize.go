package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSerializationVersion is the version written by Serialize.
// Increment when making breaking changes to the format.
const CurrentSerializationVersion = 1

// Record is the persisted form of an HTTP session.
type Record struct {
	ID         string                     `json:"id"`
	CreatedAt  time.Time                  `json:"created_at"`
	LastAccess time.Time                  `json:"last_access"`
	Attributes map[string]json.RawMessage `json:"attributes,omitempty"`
	Version    int                        `json:"version"`
}

// SetAttribute stores value as JSON. A nil value removes the attribute.
func (r *Record) SetAttribute(name string, value any) error {
	if value == nil {
		delete(r.Attributes, name)
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("session: attribute %q: %w", name, err)
	}
	if r.Attributes == nil {
		r.Attributes = make(map[string]json.RawMessage)
	}
	r.Attributes[name] = raw
	return nil
}

// Attribute decodes the attribute into out and reports whether it exists.
func (r *Record) Attribute(name string, out any) (bool, error) {
	raw, ok := r.Attributes[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("session: attribute %q: %w", name, err)
	}
	return true, nil
}

// Serialize converts a Record to bytes.
func Serialize(r *Record) ([]byte, error) {
	r.Version = CurrentSerializationVersion
	return json.Marshal(r)
}

// Deserialize converts bytes back to a Record. Records written by a newer
// version are rejected.
func Deserialize(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("session: decode record: %w", err)
	}
	if r.Version > CurrentSerializationVersion {
		return nil, fmt.Errorf("session: record version %d is newer than %d", r.Version, CurrentSerializationVersion)
	}
	return &r, nil
}
