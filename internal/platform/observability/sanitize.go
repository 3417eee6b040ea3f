package observability

import (
	"strings"
	"unicode"
)

// Field limits for values copied from requests into log entries.
const (
	routeLimit   = 180
	methodLimit  = 10
	idLimit      = 64
	defaultLimit = 256
)

// sanitizeString strips control characters, which would let a caller forge log lines, and keeps
// at most limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultLimit
	}
	kept := 0
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || kept >= limit {
			return -1
		}
		kept++
		return r
	}, value)
}

// SanitizeRoute cleans a chi route pattern such as /api/v1/orders/{orderID}.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, methodLimit)
}

// SanitizeID bounds buyer, seller and order identifiers written to logs.
func SanitizeID(id string) string {
	return sanitizeString(id, idLimit)
}
