// Package payload builds the request bodies each channel expects.
//
// Every function here is pure: same input, same output. Truncation happens
// before escaping so an entity is never cut in half.
package payload

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis marks truncated text.
const Ellipsis = "..."

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes the five HTML-special characters.
func EscapeHTML(s string) string { return htmlEscaper.Replace(s) }

// Slack only reserves these three.
var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeSlack(s string) string { return slackEscaper.Replace(s) }

// Truncate returns s cut to at most n runes followed by Ellipsis when s is
// longer than n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + Ellipsis
		}
		count++
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
