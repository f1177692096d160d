package playlist

import "strings"

// HasSignature reports whether text starts with the #EXTM3U marker.
func HasSignature(text string) bool {
	text = strings.TrimPrefix(text, "\ufeff")
	return strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), TagHeader)
}

// IsMaster reports whether text is a variant-list playlist: it declares a
// variant stream, or carries rendition tags without any segment durations.
func IsMaster(text string) bool {
	if strings.Contains(text, TagStreamInf+":") {
		return true
	}
	return strings.Contains(text, TagMedia+":") && !strings.Contains(text, TagInf)
}

// FirstVariant returns the URI following the first #EXT-X-STREAM-INF tag.
// Only the first variant is ever selected; there is no bandwidth or
// resolution negotiation.
func FirstVariant(text string) (string, bool) {
	armed := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if hasTag(line, TagStreamInf) {
			armed = true
			continue
		}
		if armed && !strings.HasPrefix(line, "#") {
			return line, true
		}
	}
	return "", false
}
