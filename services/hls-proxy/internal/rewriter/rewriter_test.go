package rewriter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grafov/m3u8"
)

const (
	testMainProxy    = "https://proxy.example.com/m3u8filter/"
	testSegmentProxy = "https://proxy.example/p/"
	testBaseURL      = "https://cdn.example.com/live/stream/index.m3u8"
)

func proxiedPolicy() Policy {
	return Policy{
		Main:    ProxyTarget{Base: testMainProxy, Encode: true},
		Segment: ProxyTarget{Base: testSegmentProxy, Encode: true},
	}
}

// ─── Rewrite ─────────────────────────────────────────────────────────────────

func TestRewrite_DiscontinuityFilteredPassthrough(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:9.9,\nseg1.ts\n#EXT-X-DISCONTINUITY\n#EXTINF:9.9,\nseg2.ts\n#EXT-X-ENDLIST"
	got := Rewrite(body, testBaseURL, Policy{FilterDiscontinuity: true})
	want := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n" +
		"#EXTINF:9.9,\nhttps://cdn.example.com/live/stream/seg1.ts\n" +
		"#EXTINF:9.9,\nhttps://cdn.example.com/live/stream/seg2.ts\n" +
		"#EXT-X-ENDLIST\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rewrite mismatch (-want +got):\n%s", diff)
	}
}

func TestRewrite_DiscontinuityKeptByDefault(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:4,\na.ts\n#EXT-X-DISCONTINUITY\n#EXTINF:4,\nb.ts\n"
	got := Rewrite(body, testBaseURL, Policy{})
	if !strings.Contains(got, "#EXT-X-DISCONTINUITY\n") {
		t.Fatalf("discontinuity should be preserved: %q", got)
	}
}

func TestRewrite_BlankLinesDropped(t *testing.T) {
	got := Rewrite("#EXTM3U\n\n\n#EXT-X-ENDLIST\n\n", testBaseURL, Policy{})
	if got != "#EXTM3U\n#EXT-X-ENDLIST\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRewrite_SegmentsGoThroughSegmentProxy(t *testing.T) {
	got := Rewrite("#EXTM3U\n#EXTINF:4,\nseg0.ts\n", testBaseURL, proxiedPolicy())
	lines := strings.Split(strings.TrimSpace(got), "\n")
	want := testSegmentProxy + "https%3A%2F%2Fcdn.example.com%2Flive%2Fstream%2Fseg0.ts"
	if lines[2] != want {
		t.Fatalf("want %q, got %q", want, lines[2])
	}
}

func TestRewrite_KeyAndMapAttributesPreserved(t *testing.T) {
	body := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=AES-128,URI="/keys/k1.bin",IV=0x0000000000000001` + "\n" +
		`#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"` + "\n" +
		"#EXTINF:4,\na.m4s\n"
	got := Rewrite(body, testBaseURL, Policy{Segment: ProxyTarget{Base: testSegmentProxy}})
	wantKey := `#EXT-X-KEY:METHOD=AES-128,URI="https://proxy.example/p/https://cdn.example.com/keys/k1.bin",IV=0x0000000000000001`
	wantMap := `#EXT-X-MAP:URI="https://proxy.example/p/https://cdn.example.com/live/stream/init.mp4",BYTERANGE="720@0"`
	lines := strings.Split(got, "\n")
	if lines[1] != wantKey {
		t.Fatalf("key line:\nwant %q\ngot  %q", wantKey, lines[1])
	}
	if lines[2] != wantMap {
		t.Fatalf("map line:\nwant %q\ngot  %q", wantMap, lines[2])
	}
}

func TestRewrite_KeyWithoutURIUnchanged(t *testing.T) {
	line := "#EXT-X-KEY:METHOD=NONE"
	got := Rewrite(line, testBaseURL, proxiedPolicy())
	if got != line+"\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRewrite_UnknownTagsAndStrayURIsVerbatim(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-CUSTOM:FOO=1\nstray.ts\n#EXTINF:4,\n#EXT-X-BYTERANGE:100@0\nseg.ts\n"
	got := Rewrite(body, testBaseURL, proxiedPolicy())
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if lines[1] != "#EXT-X-CUSTOM:FOO=1" || lines[2] != "stray.ts" {
		t.Fatalf("unrecognised lines should pass through: %q", got)
	}
	if lines[4] != "#EXT-X-BYTERANGE:100@0" {
		t.Fatalf("tag between #EXTINF and URI should pass through: %q", lines[4])
	}
	if !strings.HasPrefix(lines[5], testSegmentProxy) {
		t.Fatalf("URI after #EXTINF should be proxied: %q", lines[5])
	}
}

func TestRewrite_IdempotentUnderSamePolicy(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-TARGETDURATION:4\n" +
		`#EXT-X-KEY:METHOD=AES-128,URI="key.bin"` + "\n" +
		"#EXTINF:4,\na.ts\n#EXT-X-DISCONTINUITY\n#EXTINF:4,\n/abs/b.ts\n#EXT-X-ENDLIST\n"
	for _, p := range []Policy{
		proxiedPolicy(),
		{Segment: ProxyTarget{Base: testSegmentProxy}, FilterDiscontinuity: true},
		{},
	} {
		once := Rewrite(body, testBaseURL, p)
		twice := Rewrite(once, testBaseURL, p)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Fatalf("second rewrite changed output (-once +twice):\n%s", diff)
		}
	}
}

func TestRewrite_SegmentCountPreservedInOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n")
	const n = 25
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:6.000,\nchunk_%03d.ts\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	got := Rewrite(b.String(), testBaseURL, proxiedPolicy())

	var proxied []string
	for _, l := range strings.Split(got, "\n") {
		if strings.HasPrefix(l, testSegmentProxy) {
			proxied = append(proxied, l)
		}
	}
	if len(proxied) != n {
		t.Fatalf("expected %d proxied segments, got %d", n, len(proxied))
	}
	for i, l := range proxied {
		if !strings.HasSuffix(l, fmt.Sprintf("chunk_%03d.ts", i)) {
			t.Fatalf("segment %d out of order: %q", i, l)
		}
	}

	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(got), false)
	if err != nil {
		t.Fatalf("rewritten playlist should decode: %v", err)
	}
	if listType != m3u8.MEDIA {
		t.Fatalf("expected media playlist, got %v", listType)
	}
	if c := pl.(*m3u8.MediaPlaylist).Count(); c != n {
		t.Fatalf("decoder saw %d segments, want %d", c, n)
	}
}

// ─── Resolve ─────────────────────────────────────────────────────────────────

func TestResolve(t *testing.T) {
	cases := []struct{ ref, want string }{
		{"seg001.ts", "https://cdn.example.com/live/stream/seg001.ts"},
		{"/abs/seg001.ts", "https://cdn.example.com/abs/seg001.ts"},
		{"https://other.cdn/seg.ts", "https://other.cdn/seg.ts"},
		{"HTTPS://Other.cdn/seg.ts", "HTTPS://Other.cdn/seg.ts"},
		{"../up.ts", "https://cdn.example.com/live/up.ts"},
		{"sub/a.ts?token=x", "https://cdn.example.com/live/stream/sub/a.ts?token=x"},
		{"//edge.cdn/a.ts", "https://edge.cdn/a.ts"},
	}
	for _, c := range cases {
		if got := Resolve(testBaseURL, c.ref); got != c.want {
			t.Fatalf("Resolve(%q): want %q, got %q", c.ref, c.want, got)
		}
	}
}

func TestResolve_BaseQueryNotInherited(t *testing.T) {
	got := Resolve("https://cdn.example.com/a/index.m3u8?sig=abc", "seg.ts")
	if got != "https://cdn.example.com/a/seg.ts" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestResolve_UnparsableBaseFallsBack(t *testing.T) {
	got := Resolve("http://exa mple.com/a/index.m3u8", "seg.ts")
	if got != "http://exa mple.com/a/seg.ts" {
		t.Fatalf("unexpected %q", got)
	}
	got = Resolve("http://exa mple.com/a/index.m3u8", "/root.ts")
	if got != "http://exa mple.com/root.ts" {
		t.Fatalf("unexpected %q", got)
	}
}

// ─── ProxyTarget ─────────────────────────────────────────────────────────────

func TestProxyTarget_Wrap(t *testing.T) {
	abs := "https://cdn.example.com/clip.mp4"
	if got := (ProxyTarget{}).Wrap(abs); got != abs {
		t.Fatalf("empty base should pass through, got %q", got)
	}
	enc := ProxyTarget{Base: testSegmentProxy, Encode: true}
	if got := enc.Wrap(abs); got != "https://proxy.example/p/https%3A%2F%2Fcdn.example.com%2Fclip.mp4" {
		t.Fatalf("unexpected encoded wrap %q", got)
	}
	raw := ProxyTarget{Base: testSegmentProxy}
	if got := raw.Wrap(abs); got != testSegmentProxy+abs {
		t.Fatalf("unexpected raw wrap %q", got)
	}
	if got := enc.Wrap(enc.Wrap(abs)); got != enc.Wrap(abs) {
		t.Fatalf("double wrap should be a no-op, got %q", got)
	}
}
