// Package playlist parses HLS playlist text into a structured form shared by
// the rewriter, the master resolver and the ad filter.
package playlist

import (
	"strconv"
	"strings"
)

// Tags recognised by the parser.
const (
	TagHeader         = "#EXTM3U"
	TagVersion        = "#EXT-X-VERSION"
	TagTargetDuration = "#EXT-X-TARGETDURATION"
	TagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE"
	TagPlaylistType   = "#EXT-X-PLAYLIST-TYPE"
	TagEndList        = "#EXT-X-ENDLIST"
	TagInf            = "#EXTINF"
	TagMap            = "#EXT-X-MAP"
	TagKey            = "#EXT-X-KEY"
	TagDiscontinuity  = "#EXT-X-DISCONTINUITY"
	TagStreamInf      = "#EXT-X-STREAM-INF"
	TagMedia          = "#EXT-X-MEDIA"
)

// HeaderWindow bounds how many leading lines may hold primary headers.
const HeaderWindow = 10

// Segment is one media chunk reference within a media playlist.
type Segment struct {
	Index            int
	Duration         float64
	URI              string
	HasDiscontinuity bool
	MapURI           string
	// RawSpan holds the source lines of the segment: its tag lines followed
	// by the URI line.
	RawSpan []string
	// Leading holds lines of skipped entries that precede the segment. They
	// are written back verbatim and are never removed with the segment.
	Leading []string
	AdScore float64
	IsAd    bool
}

// Headers is the ordered block of playlist-level tag lines.
type Headers struct {
	Lines []string
}

// Playlist is the structural form of a media playlist body.
type Playlist struct {
	Headers  Headers
	Segments []Segment
	// Trailer holds lines after the last segment, e.g. #EXT-X-ENDLIST.
	Trailer []string
}

// Get returns the value after "TAG:" for the first header line carrying tag.
func (h *Headers) Get(tag string) (string, bool) {
	for _, l := range h.Lines {
		if v, ok := tagValue(l, tag); ok {
			return v, true
		}
	}
	return "", false
}

// Set replaces the value of tag, or inserts "TAG:value" right after #EXTM3U
// when the tag is absent.
func (h *Headers) Set(tag, value string) {
	line := tag + ":" + value
	for i, l := range h.Lines {
		if _, ok := tagValue(l, tag); ok {
			h.Lines[i] = line
			return
		}
	}
	at := 0
	if len(h.Lines) > 0 && h.Lines[0] == TagHeader {
		at = 1
	}
	h.Lines = append(h.Lines, "")
	copy(h.Lines[at+1:], h.Lines[at:])
	h.Lines[at] = line
}

// Lines flattens the playlist back into its text lines.
func (p *Playlist) Lines() []string {
	out := make([]string, 0, len(p.Headers.Lines)+len(p.Segments)*2+len(p.Trailer))
	out = append(out, p.Headers.Lines...)
	for _, s := range p.Segments {
		out = append(out, s.Leading...)
		out = append(out, s.RawSpan...)
	}
	return append(out, p.Trailer...)
}

// String reassembles the playlist text with a trailing newline.
func (p *Playlist) String() string {
	lines := p.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Parse splits text into headers, segments and trailer. It never fails:
// malformed entries are not turned into segments, but their lines are kept
// in the following segment's Leading (or the Trailer) so the text survives
// a rebuild unchanged.
func Parse(text string) *Playlist {
	p := &Playlist{}

	var (
		leading     []string
		pending     []string
		pendingMap  string
		pendingDisc bool
		inSegment   bool
		skipping    bool
		duration    float64
		sawScoped   bool
	)
	skip := func() {
		leading = append(leading, pending...)
		pending, skipping = nil, false
	}

	rawLines := strings.Split(strings.TrimPrefix(text, "\ufeff"), "\n")
	for n, raw := range rawLines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if inSegment {
			if !strings.HasPrefix(line, "#") {
				p.Segments = append(p.Segments, Segment{
					Index:            len(p.Segments),
					Duration:         duration,
					URI:              line,
					HasDiscontinuity: pendingDisc,
					MapURI:           pendingMap,
					RawSpan:          append(pending, line),
					Leading:          leading,
				})
				leading, pending, pendingMap, pendingDisc, inSegment = nil, nil, "", false, false
				continue
			}
			// #EXTINF followed by a tag is not a segment.
			inSegment, skipping = false, true
		}

		if !strings.HasPrefix(line, "#") {
			pending = append(pending, line)
			if skipping {
				skip()
			}
			continue
		}

		switch {
		case hasTag(line, TagInf):
			sawScoped = true
			if skipping {
				skip()
			}
			pending = append(pending, line)
			d, ok := parseDuration(line)
			if !ok {
				skipping = true
				continue
			}
			duration = d
			inSegment = true
		case hasTag(line, TagMap):
			sawScoped = true
			pendingMap = AttrURI(line)
			pending = append(pending, line)
		case line == TagDiscontinuity:
			sawScoped = true
			pendingDisc = true
			pending = append(pending, line)
		case !sawScoped && len(p.Segments) == 0 && (n < HeaderWindow || playlistScoped(line)) && strings.HasPrefix(line, "#EXT") && !segmentScoped(line):
			p.Headers.Lines = append(p.Headers.Lines, line)
		default:
			if segmentScoped(line) {
				sawScoped = true
			}
			pending = append(pending, line)
		}
	}

	p.Trailer = append(leading, pending...)
	return p
}

// segmentScoped reports tags that belong to the segment following them.
func segmentScoped(line string) bool {
	for _, t := range []string{TagInf, TagMap, TagKey, TagDiscontinuity, "#EXT-X-BYTERANGE", "#EXT-X-PROGRAM-DATE-TIME", "#EXT-X-GAP", "#EXT-X-BITRATE", "#EXT-X-DATERANGE", "#EXT-X-CUE"} {
		if strings.HasPrefix(line, t) {
			return !strings.HasPrefix(line, TagDiscontinuity+"-SEQUENCE")
		}
	}
	return false
}

// playlistScoped reports tags that describe the playlist as a whole.
func playlistScoped(line string) bool {
	for _, t := range []string{TagHeader, TagVersion, TagTargetDuration, TagMediaSequence, TagPlaylistType, "#EXT-X-DISCONTINUITY-SEQUENCE", "#EXT-X-INDEPENDENT-SEGMENTS", "#EXT-X-START", "#EXT-X-ALLOW-CACHE", "#EXT-X-SERVER-CONTROL", "#EXT-X-PART-INF"} {
		if hasTag(line, t) {
			return true
		}
	}
	return false
}

// hasTag matches "TAG" or "TAG:..." exactly, so #EXT-X-MEDIA does not match
// #EXT-X-MEDIA-SEQUENCE.
func hasTag(line, tag string) bool {
	if !strings.HasPrefix(line, tag) {
		return false
	}
	return len(line) == len(tag) || line[len(tag)] == ':'
}

func tagValue(line, tag string) (string, bool) {
	if !hasTag(line, tag) || len(line) == len(tag) {
		return "", false
	}
	return line[len(tag)+1:], true
}

// parseDuration reads the numeric argument of an #EXTINF line.
func parseDuration(line string) (float64, bool) {
	v, ok := tagValue(line, TagInf)
	if !ok {
		return 0, false
	}
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// AttrURI extracts the quoted URI attribute of a tag line, or "".
func AttrURI(line string) string {
	start, end, ok := AttrURIBounds(line)
	if !ok {
		return ""
	}
	return line[start:end]
}

// AttrURIBounds locates the value of URI="..." within line.
func AttrURIBounds(line string) (start, end int, ok bool) {
	i := strings.Index(line, `URI="`)
	for i > 0 && line[i-1] != ':' && line[i-1] != ',' {
		// skip attributes that merely end in URI, e.g. KEYFORMATURI
		j := strings.Index(line[i+1:], `URI="`)
		if j < 0 {
			return 0, 0, false
		}
		i += 1 + j
	}
	if i < 0 {
		return 0, 0, false
	}
	start = i + len(`URI="`)
	n := strings.IndexByte(line[start:], '"')
	if n < 0 {
		return 0, 0, false
	}
	return start, start + n, true
}
