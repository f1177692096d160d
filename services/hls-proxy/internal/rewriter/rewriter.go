package rewriter

import (
	"strings"

	"github.com/example/hls-platform/services/hls-proxy/internal/playlist"
)

// Policy is the per-request rewrite configuration. It is a value and is
// never mutated after construction.
type Policy struct {
	// Main wraps playlist fetches and nested playlist references.
	Main ProxyTarget
	// Segment wraps media segments, init segments and key URIs.
	Segment             ProxyTarget
	FilterDiscontinuity bool
	FilterAds           bool
	AdPattern           string
	MaxRecursion        int
}

// Rewrite walks a media playlist line by line and points every segment,
// init segment and key URI at the segment proxy. Blank lines are dropped,
// as are discontinuity markers when the policy asks for it.
func Rewrite(body string, baseURL string, policy Policy) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	expectSegment := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case policy.FilterDiscontinuity && line == playlist.TagDiscontinuity:
			continue
		case isTag(line, playlist.TagKey), isTag(line, playlist.TagMap):
			out = append(out, rewriteURITag(line, baseURL, policy.Segment))
		case isTag(line, playlist.TagInf):
			out = append(out, line)
			expectSegment = true
		case expectSegment && !strings.HasPrefix(line, "#"):
			out = append(out, policy.Segment.Wrap(Resolve(baseURL, line)))
			expectSegment = false
		default:
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

func isTag(line, tag string) bool {
	return strings.HasPrefix(line, tag+":") || line == tag
}

// rewriteURITag swaps the URI="..." value of a tag line for its proxied
// absolute form, leaving every other attribute untouched.
func rewriteURITag(line, baseURL string, target ProxyTarget) string {
	start, end, ok := playlist.AttrURIBounds(line)
	if !ok {
		return line
	}
	uri := line[start:end]
	return line[:start] + target.Wrap(Resolve(baseURL, uri)) + line[end:]
}
