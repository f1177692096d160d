package adfilter

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/hls-platform/services/hls-proxy/internal/playlist"
)

// Report describes one filtering pass.
type Report struct {
	Segments  int
	Removed   int
	Threshold float64
	Stats     Stats
}

// CompilePattern compiles the optional text pre-filter. An empty pattern
// yields a nil regexp and no error.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("adfilter: compile pattern: %w", err)
	}
	return re, nil
}

// Filter runs the full pipeline over a media playlist body: regex pre-pass,
// parse, stats, classify, decide and rebuild. Bodies without segments come
// back unchanged apart from the pre-pass.
func Filter(body string, pre *regexp.Regexp) (string, Report) {
	if pre != nil {
		body = pre.ReplaceAllString(body, "")
	}
	p := playlist.Parse(body)
	rep := Report{Segments: len(p.Segments)}
	if len(p.Segments) == 0 {
		return body, rep
	}

	rep.Stats = CalculateStats(p.Segments)
	rep.Threshold = RemovalThreshold(rep.Stats)
	analyzed := Classify(p.Segments, rep.Stats)
	kept := Decide(analyzed, rep.Stats)
	rep.Removed = len(analyzed) - len(kept)
	if rep.Removed == 0 {
		return body, rep
	}

	var orphans []string
	p.Segments, orphans = carryStickyTags(analyzed, kept)
	p.Trailer = append(orphans, p.Trailer...)
	updateHeaders(&p.Headers, p.Segments)
	for i := range p.Segments {
		p.Segments[i].Index = i
	}
	return p.String(), rep
}

// stickyTags apply to every following segment, so they must survive the
// removal of the segment that happened to carry them.
var stickyTags = []string{playlist.TagDiscontinuity, playlist.TagKey, playlist.TagMap}

// carryStickyTags also moves the Leading lines of removed segments onto the
// next kept one; lines with no kept segment after them are returned for the
// trailer.
func carryStickyTags(analyzed, kept []playlist.Segment) ([]playlist.Segment, []string) {
	keep := make(map[int]bool, len(kept))
	for _, s := range kept {
		keep[s.Index] = true
	}

	out := make([]playlist.Segment, 0, len(kept))
	carry := map[string]string{}
	var leading []string
	for _, s := range analyzed {
		if !keep[s.Index] {
			leading = append(leading, s.Leading...)
			for _, l := range s.RawSpan {
				if t := stickyTag(l); t != "" {
					carry[t] = l
				}
			}
			continue
		}
		if len(carry) > 0 {
			var prefix []string
			for _, t := range stickyTags {
				l, ok := carry[t]
				if !ok || spanHas(s.RawSpan, t) {
					continue
				}
				prefix = append(prefix, l)
				if t == playlist.TagDiscontinuity {
					s.HasDiscontinuity = true
				}
				if t == playlist.TagMap {
					s.MapURI = playlist.AttrURI(l)
				}
			}
			leading = append(leading, prefix...)
			carry = map[string]string{}
		}
		if len(leading) > 0 {
			s.Leading = append(leading, s.Leading...)
			leading = nil
		}
		out = append(out, s)
	}
	return out, leading
}

func stickyTag(line string) string {
	for _, t := range stickyTags {
		if line == t || strings.HasPrefix(line, t+":") {
			return t
		}
	}
	return ""
}

func spanHas(span []string, tag string) bool {
	for _, l := range span {
		if stickyTag(l) == tag {
			return true
		}
	}
	return false
}

// updateHeaders re-derives the target duration from what is left and moves
// the media sequence forward past leading removals.
func updateHeaders(h *playlist.Headers, kept []playlist.Segment) {
	if len(kept) == 0 {
		return
	}
	var maxDur float64
	for _, s := range kept {
		maxDur = math.Max(maxDur, s.Duration)
	}
	h.Set(playlist.TagTargetDuration, strconv.Itoa(int(math.Ceil(maxDur))))

	first := kept[0].Index
	if first == 0 {
		return
	}
	seq := 0
	if v, ok := h.Get(playlist.TagMediaSequence); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			seq = n
		}
	}
	h.Set(playlist.TagMediaSequence, strconv.Itoa(seq+first))
}
