package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy strips all markup
var StrictPolicy = bluemonday.StrictPolicy()

// maxMessageLength bounds messages relayed from a remote service
const maxMessageLength = 200

// SanitizeMessage turns a message from a remote service into plain text fit for
// display next to a form. Markup is stripped and the result is truncated.
func SanitizeMessage(msg string) string {
	clean := html.UnescapeString(StrictPolicy.Sanitize(msg))
	clean = strings.Join(strings.Fields(clean), " ")
	if r := []rune(clean); len(r) > maxMessageLength {
		clean = string(r[:maxMessageLength]) + "…"
	}
	return clean
}
