// Package markdown renders the small inline subset the assistant replies
// with: bold, italic and line breaks. Replacement runs left to right in
// three passes (bold, then italic, then newlines) and does not recurse, so
// overlapping markers resolve in pass order.
package markdown

import (
	"regexp"
	"strings"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.*?)\*`)
)

func ToHTML(text string) string {
	if text == "" {
		return ""
	}

	html := boldPattern.ReplaceAllString(text, "<strong>$1</strong>")
	html = italicPattern.ReplaceAllString(html, "<em>$1</em>")
	return strings.ReplaceAll(html, "\n", "<br>")
}
