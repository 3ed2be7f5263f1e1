package project

import (
	"html"
	"regexp"
	"strings"
)

var (
	lineBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|h[1-6]|tr)>`)
	tags       = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// clean trims surrounding whitespace and removes right-to-left marks
func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u200f", ""))
}

// htmlToText strips markup and keeps line structure
func htmlToText(s string) string {
	s = lineBreaks.ReplaceAllString(s, "\n")
	s = tags.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
