package protocol

// Default decoding limits.
const (
	// DefaultMaxMessageSize is the default maximum size of one client
	// message (1MB).
	DefaultMaxMessageSize = 1 << 20

	// HardMaxMessageSize is the absolute ceiling for message sizes (16MB).
	// Configured values above it are clamped.
	HardMaxMessageSize = 16 << 20

	// DefaultMaxInvocations limits the number of invocations in one message.
	DefaultMaxInvocations = 1024

	// DefaultMaxDepth limits the nesting depth of JSON values inside
	// invocations. 64 levels is enough for any event payload.
	DefaultMaxDepth = 64
)

// Limits bounds what Decode accepts.
type Limits struct {
	// MaxMessageSize is the maximum encoded size in bytes.
	MaxMessageSize int

	// MaxInvocations is the maximum number of rpc entries.
	MaxInvocations int

	// MaxDepth is the maximum nesting depth of values.
	MaxDepth int
}

// DefaultLimits returns the default decoding limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageSize: DefaultMaxMessageSize,
		MaxInvocations: DefaultMaxInvocations,
		MaxDepth:       DefaultMaxDepth,
	}
}

// normalized fills zero fields with defaults and clamps the message size.
func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = d.MaxMessageSize
	}
	if l.MaxMessageSize > HardMaxMessageSize {
		l.MaxMessageSize = HardMaxMessageSize
	}
	if l.MaxInvocations <= 0 {
		l.MaxInvocations = d.MaxInvocations
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	return l
}

// depthContext tracks the current depth while walking decoded values.
type depthContext struct {
	current int
	max     int
}

func newDepthContext(max int) *depthContext {
	return &depthContext{max: max}
}

// enter increments the depth and fails if the limit would be exceeded.
// The depth is only incremented on success.
func (dc *depthContext) enter() error {
	if dc.current >= dc.max {
		return ErrMaxDepthExceeded
	}
	dc.current++
	return nil
}

func (dc *depthContext) leave() {
	dc.current--
}

// checkValue walks a decoded JSON value and enforces the depth limit.
func (dc *depthContext) checkValue(v any) error {
	switch val := v.(type) {
	case map[string]any:
		if err := dc.enter(); err != nil {
			return err
		}
		defer dc.leave()
		for _, item := range val {
			if err := dc.checkValue(item); err != nil {
				return err
			}
		}
	case []any:
		if err := dc.enter(); err != nil {
			return err
		}
		defer dc.leave()
		for _, item := range val {
			if err := dc.checkValue(item); err != nil {
				return err
			}
		}
	}
	return nil
}
