package observability

import "unicode"

// Limits keep attacker-controlled values from flooding a log line.
const (
	routeLimit  = 180
	methodLimit = 10
	uidLimit    = 64
	valueLimit  = 256
)

// scrub strips control characters (except whitespace) and truncates the
// value so header or path data cannot inject fake log records.
func scrub(value string, limit int) string {
	if limit <= 0 {
		limit = valueLimit
	}
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

func scrubRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, routeLimit)
}

func scrubMethod(method string) string {
	return scrub(method, methodLimit)
}

func scrubUID(uid string) string {
	return scrub(uid, uidLimit)
}
