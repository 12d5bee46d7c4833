package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	red  = color.New(color.FgRed, color.Bold).SprintFunc()
	bold = color.New(color.Bold).SprintFunc()
	cyan = color.New(color.FgCyan).SprintFunc()
	blue = color.New(color.FgBlue).SprintFunc()
	gray = color.New(color.FgHiBlack).SprintFunc()
)

// detailWidth is the column detail paragraphs are wrapped at.
const detailWidth = 70

// DisableColors turns color output off. It is already off when stdout is
// not a terminal or NO_COLOR is set.
func DisableColors() { color.NoColor = true }

// EnableColors forces color output.
func EnableColors() { color.NoColor = false }

// Format renders the error for a terminal: a headline followed by indented
// sections for the key, detail, cause, hint and documentation link.
func (e *Error) Format() string {
	var b strings.Builder
	section := func(format string, args ...any) {
		fmt.Fprintf(&b, "  "+format+"\n\n", args...)
	}

	headline := red("ERROR: ")
	if e.Code != "" {
		headline = red("ERROR ") + bold(e.Code+": ")
	}
	fmt.Fprintf(&b, "\n%s%s\n\n", headline, e.Message)

	if e.Key != "" {
		section("%s", cyan(e.Key))
	}
	if lines := wrapText(e.Detail, detailWidth); len(lines) > 0 {
		section("%s", strings.Join(lines, "\n  "))
	}
	if e.Wrapped != nil {
		section("%s%s", gray("Cause: "), e.Wrapped)
	}
	if e.Suggestion != "" {
		section("%s%s", cyan("Hint: "), e.Suggestion)
	}
	if e.DocURL != "" {
		fmt.Fprintf(&b, "  %s%s\n", gray("Learn more: "), blue(e.DocURL))
	}
	return b.String()
}

// FormatCompact is the single-line form, identical to Error.
func (e *Error) FormatCompact() string { return e.Error() }

// FormatJSON renders the error as one JSON object. Empty optional fields
// are left out.
func (e *Error) FormatJSON() string {
	obj := map[string]string{
		"category": string(e.Category),
		"message":  e.Message,
	}
	optional := map[string]string{
		"code":       e.Code,
		"detail":     e.Detail,
		"key":        e.Key,
		"suggestion": e.Suggestion,
		"docUrl":     e.DocURL,
	}
	if e.Wrapped != nil {
		optional["cause"] = e.Wrapped.Error()
	}
	for k, v := range optional {
		if v != "" {
			obj[k] = v
		}
	}
	data, _ := json.Marshal(obj)
	return string(data)
}

// wrapText breaks text into lines of at most width bytes, splitting on
// whitespace only. A single word longer than width gets its own line.
func wrapText(text string, width int) []string {
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) <= width:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// Fprint writes err to w, using Format when err is an *Error.
func Fprint(w io.Writer, err error) {
	if e, ok := err.(*Error); ok {
		io.WriteString(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", red("ERROR:"), err)
}

// PrintError writes err to stderr.
func PrintError(err error) { Fprint(os.Stderr, err) }
