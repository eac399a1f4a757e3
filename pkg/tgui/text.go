package tgui

import (
	"html"
	"strings"
)

// H is text already escaped for ParseMode HTML.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// B escapes s and wraps it in <b>.
func B(s string) H { return "<b>" + Esc(s) + "</b>" }

// TruncRunes keeps the first n runes of s, marking a cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}

// Label flattens s to one line and truncates it for use on a button.
func Label(s string, n int) string {
	return TruncRunes(strings.Join(strings.Fields(s), " "), n)
}
