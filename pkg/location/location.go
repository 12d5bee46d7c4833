// Package location normalizes the locations clients navigate to.
//
// A location is an application-relative path with an optional query and
// fragment, such as /orders/42?tab=items. Clients report them in
// navigation invocations and servers send them back in history updates,
// so both sides must agree on one spelling and nothing may point outside
// the application.
package location

import (
	"errors"
	"strings"
)

// Errors returned by Canonicalize. All of them wrap ErrInvalid.
var (
	ErrInvalid       = errors.New("location: invalid location")
	ErrAbsolute      = wrap("absolute URL")
	ErrBackslash     = wrap("contains backslash")
	ErrNullByte      = wrap("contains null byte")
	ErrPercentEscape = wrap("invalid percent escape")
	ErrEscapesRoot   = wrap("escapes the application root")
	ErrEncodedSlash  = wrap("contains an encoded path separator")
)

type invalidError struct{ reason string }

func wrap(reason string) error { return &invalidError{reason: reason} }

func (e *invalidError) Error() string { return "location: " + e.reason }

func (e *invalidError) Unwrap() error { return ErrInvalid }

// Location is a canonical location split into its parts.
type Location struct {
	// Path starts with a slash and has no empty, "." or ".." segments and
	// no trailing slash, except for the root "/".
	Path string

	// Query is the raw query without "?". It is not normalized.
	Query string

	// Fragment is the raw fragment without "#".
	Fragment string
}

// String joins the parts back together.
func (l Location) String() string {
	s := l.Path
	if l.Query != "" {
		s += "?" + l.Query
	}
	if l.Fragment != "" {
		s += "#" + l.Fragment
	}
	return s
}

// Parse canonicalizes s. The empty location is the root. Relative paths
// are taken relative to the root.
//
// Rejected: absolute URLs and scheme-relative "//host" locations,
// backslashes, NUL bytes, malformed percent escapes in the path, encoded
// separators (%2F, %5C) and ".." segments that would leave the root.
// Percent-encoded dots count as dots, so "%2e%2e" is "..".
func Parse(s string) (Location, error) {
	rest, fragment, _ := strings.Cut(s, "#")
	path, query, _ := strings.Cut(rest, "?")

	if strings.HasPrefix(path, "//") || hasScheme(path) {
		return Location{}, ErrAbsolute
	}
	if strings.Contains(path, "\\") {
		return Location{}, ErrBackslash
	}
	if strings.Contains(path, "\x00") || strings.Contains(strings.ToUpper(path), "%00") {
		return Location{}, ErrNullByte
	}
	if strings.Contains(path, "%") && !validEscapes(path) {
		return Location{}, ErrPercentEscape
	}
	if upper := strings.ToUpper(path); strings.Contains(upper, "%2F") || strings.Contains(upper, "%5C") {
		return Location{}, ErrEncodedSlash
	}

	var segments []string
	for _, seg := range strings.Split(path, "/") {
		switch dotSegment(seg) {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return Location{}, ErrEscapesRoot
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, seg)
		}
	}
	return Location{
		Path:     "/" + strings.Join(segments, "/"),
		Query:    query,
		Fragment: fragment,
	}, nil
}

// Canonicalize is Parse followed by String.
func Canonicalize(s string) (string, error) {
	l, err := Parse(s)
	if err != nil {
		return "", err
	}
	return l.String(), nil
}

// dotSegment returns "." or ".." when seg spells one of them, with or
// without percent-encoded dots, and seg otherwise.
func dotSegment(seg string) string {
	if len(seg) > 6 || !strings.ContainsAny(seg, ".%") {
		return seg
	}
	decoded := strings.NewReplacer("%2e", ".", "%2E", ".").Replace(seg)
	if decoded == "." || decoded == ".." {
		return decoded
	}
	return seg
}

// hasScheme reports whether path starts with an RFC 3986 scheme followed
// by a colon, as in "https:" or "javascript:".
func hasScheme(path string) bool {
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == ':':
			return i > 0
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return false
}

// validEscapes reports whether every % in path starts a %XX escape.
func validEscapes(path string) bool {
	for i := 0; i < len(path); i++ {
		if path[i] != '%' {
			continue
		}
		if i+2 >= len(path) || !isHex(path[i+1]) || !isHex(path[i+2]) {
			return false
		}
		i += 2
	}
	return true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
