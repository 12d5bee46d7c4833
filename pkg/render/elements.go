package render

// isVoidElement reports whether tag has no content and no end tag.
func isVoidElement(tag string) bool {
	switch tag {
	case "area", "base", "br", "col", "embed", "hr", "img", "input",
		"link", "meta", "param", "source", "track", "wbr":
		return true
	}
	return false
}

// isInlineElement reports whether pretty output keeps the children of tag
// on one line.
func isInlineElement(tag string) bool {
	switch tag {
	case "a", "abbr", "b", "button", "cite", "code", "em", "i", "kbd",
		"label", "mark", "option", "q", "s", "samp", "small", "span",
		"strong", "sub", "sup", "textarea", "time", "u", "var":
		return true
	}
	return false
}

// isBooleanAttr reports whether an empty value of name is written as the
// bare attribute name.
func isBooleanAttr(name string) bool {
	switch name {
	case "async", "autofocus", "autoplay", "checked", "controls", "defer",
		"disabled", "hidden", "loop", "multiple", "muted", "novalidate",
		"open", "readonly", "required", "reversed", "selected":
		return true
	}
	return false
}
