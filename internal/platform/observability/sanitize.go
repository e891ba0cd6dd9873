package observability

import (
	"strings"
	"unicode"
)

// Rune caps applied before values reach the log sink or metric labels.
const (
	routeLimit  = 180
	methodLimit = 10
	idLimit     = 64
	ipLimit     = 64
)

// cleanLogValue drops control characters, line breaks included, and caps the
// rune count so request data cannot forge log lines.
func cleanLogValue(value string, limit int) string {
	var b strings.Builder
	b.Grow(min(len(value), limit))
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute cleans a route pattern for logs and metric labels.
func SanitizeRoute(route string) string {
	if route = cleanLogValue(route, routeLimit); route == "" {
		return "/"
	}
	return route
}

// SanitizeMethod cleans and upper-cases an HTTP method.
func SanitizeMethod(method string) string {
	return strings.ToUpper(cleanLogValue(method, methodLimit))
}

// SanitizeUserID caps identifiers and masks the local part of e-mail shaped
// subjects, which some identity providers use as the user id.
func SanitizeUserID(uid string) string {
	uid = cleanLogValue(strings.TrimSpace(uid), idLimit)
	at := strings.IndexByte(uid, '@')
	if at <= 0 {
		return uid
	}
	return uid[:1] + "***" + uid[at:]
}
