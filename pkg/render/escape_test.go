package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeText(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"plain":                     "plain",
		"Tom & Jerry":               "Tom &amp; Jerry",
		"<script>alert(1)</script>": "&lt;script&gt;alert(1)&lt;/script&gt;",
		`quotes "stay" 'as is'`:     `quotes "stay" 'as is'`,
		"&amp; is escaped again":    "&amp;amp; is escaped again",
		"Hello 世界":                  "Hello 世界",
		"line\nbreaks\tare kept":    "line\nbreaks\tare kept",
	}
	for in, want := range cases {
		assert.Equal(t, want, escapeText(in), "escapeText(%q)", in)
	}
}

func TestEscapeAttr(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"btn primary":          "btn primary",
		`say "hi"`:             "say &quot;hi&quot;",
		"it's":                 "it&#39;s",
		"/search?q=a&page=2":   "/search?q=a&amp;page=2",
		`"><script>x</script>`: "&quot;&gt;&lt;script&gt;x&lt;/script&gt;",
		"a\nb\rc\td":           "a&#10;b&#13;c&#9;d",
	}
	for in, want := range cases {
		assert.Equal(t, want, escapeAttr(in), "escapeAttr(%q)", in)
	}
}

func TestElementTables(t *testing.T) {
	assert.True(t, isVoidElement("input"))
	assert.False(t, isVoidElement("div"))
	assert.True(t, isInlineElement("span"))
	assert.False(t, isInlineElement("ul"))
	assert.True(t, isBooleanAttr("disabled"))
	assert.False(t, isBooleanAttr("value"))
}
