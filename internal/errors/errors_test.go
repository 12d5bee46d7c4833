package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "E102", "Invalid configuration value", CategoryConfig},
		{"storage error", "E121", "Unknown session store", CategoryStorage},
		{"server error", "E140", "Failed to listen", CategoryServer},
		{"protocol error", "E160", "Protocol version mismatch", CategoryProtocol},
		{"unknown error code", "E999", "Unknown error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.wantMsg, err.Message)
			assert.Equal(t, tt.wantCat, err.Category)
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryCLI, "flag %q is required", "store")
	assert.Equal(t, `flag "store" is required`, err.Message)
	assert.Equal(t, CategoryCLI, err.Category)
	assert.Empty(t, err.Code)
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Code: "E102", Message: "Invalid configuration value"}, "E102: Invalid configuration value"},
		{&Error{Message: "no code"}, "no code"},
		{New("E102").WithKey("server.push_mode"), "E102: server.push_mode: Invalid configuration value"},
		{New("E140").Wrap(errors.New("address in use")), "E140: Failed to listen: address in use"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestWrapAndFromError(t *testing.T) {
	cause := errors.New("disk full")
	err := New("E122").Wrap(cause)
	assert.ErrorIs(t, err, cause)

	var target *Error
	require.ErrorAs(t, error(err), &target)
	assert.Equal(t, "E122", target.Code)

	assert.Nil(t, FromError(nil, "E120"))
	assert.Same(t, err, FromError(err, "E120"), "an *Error is returned unchanged")

	wrapped := FromError(cause, "E120")
	assert.Equal(t, "E120", wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)
}

func TestFormat(t *testing.T) {
	DisableColors()
	t.Cleanup(EnableColors)

	err := New("E102").
		WithKey("server.heartbeat_interval").
		WithDetailf("must be at least %s", "1s").
		WithSuggestion("Use a duration such as 30s").
		Wrap(errors.New("got 10ms"))
	out := err.Format()

	for _, want := range []string{
		"ERROR E102: Invalid configuration value",
		"  server.heartbeat_interval",
		"  must be at least 1s",
		"Cause: got 10ms",
		"Hint: Use a duration such as 30s",
		"Learn more: " + docBase + "e102",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\x1b[", "colors are disabled")

	assert.Equal(t, err.Error(), err.FormatCompact())
}

func TestFormatJSON(t *testing.T) {
	err := New("E121").WithKey("store").Wrap(errors.New("bogus:"))

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(err.FormatJSON()), &got))
	assert.Equal(t, "E121", got["code"])
	assert.Equal(t, "storage", got["category"])
	assert.Equal(t, "store", got["key"])
	assert.Equal(t, "bogus:", got["cause"])
	assert.NotContains(t, got, "suggestion")
}

func TestFprint(t *testing.T) {
	DisableColors()
	t.Cleanup(EnableColors)

	var b strings.Builder
	Fprint(&b, New("E140"))
	assert.Contains(t, b.String(), "ERROR E140: Failed to listen")

	b.Reset()
	Fprint(&b, errors.New("plain"))
	assert.Equal(t, "\nERROR: plain\n\n", b.String())
}

func TestRegistry(t *testing.T) {
	codes := GetAllCodes()
	assert.Contains(t, codes, "E100")
	for _, code := range codes {
		tmpl, ok := GetTemplate(code)
		require.True(t, ok)
		assert.NotEmpty(t, tmpl.Message, code)
		assert.NotEmpty(t, tmpl.Category, code)
	}

	_, ok := GetTemplate("E998")
	assert.False(t, ok)
	Register("E998", ErrorTemplate{Category: CategoryCLI, Message: "custom"})
	t.Cleanup(func() { delete(registry, "E998") })
	assert.Equal(t, "custom", New("E998").Message)
}

func TestWrapText(t *testing.T) {
	assert.Nil(t, wrapText("", 10))
	assert.Equal(t, []string{"short"}, wrapText("short", 10))
	assert.Equal(t, []string{"one two", "three four"}, wrapText("one two three four", 10))
}
