package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func newTestClient(t *testing.T, cfg ClientConfig, opts ...Option) *Client {
	t.Helper()
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// ─── Fetch ───────────────────────────────────────────────────────────────────

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, ClientConfig{})
	resp, err := c.Fetch(context.Background(), srv.URL+"/index.m3u8", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "#EXTM3U\n" || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.ContentType != "application/vnd.apple.mpegurl" {
		t.Fatalf("unexpected content type %q", resp.ContentType)
	}
}

func TestFetch_FinalURLFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b/b.m3u8", http.StatusFound)
	})
	mux.HandleFunc("/b/b.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := newTestClient(t, ClientConfig{}).Fetch(context.Background(), srv.URL+"/a.m3u8", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinalURL != srv.URL+"/b/b.m3u8" {
		t.Fatalf("unexpected final url %q", resp.FinalURL)
	}
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, ClientConfig{MaxRetries: 3})
	_, err := c.Fetch(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if !errors.Is(err, ErrFetch) {
		t.Fatal("status errors should match ErrFetch")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestFetch_ServerErrorRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, ClientConfig{MaxRetries: 2})
	_, err := c.Fetch(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status error, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetch_RecoversAfterTransientFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, ClientConfig{MaxRetries: 1}).Fetch(context.Background(), srv.URL, nil)
	if err != nil || string(resp.Body) != "#EXTM3U\n" {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	c := newTestClient(t, ClientConfig{MaxBodyBytes: 16, MaxRetries: 2})
	_, err := c.Fetch(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("oversized bodies should not be retried, got %d attempts", got)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := newTestClient(t, ClientConfig{}).Fetch(context.Background(), "not a url", nil)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
}

func TestFetch_SendsConfiguredHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, ClientConfig{
		UserAgent: "hls-proxy-test",
		Referer:   "https://player.example/",
		Origin:    "https://player.example",
	})
	extra := http.Header{"X-Trace": {"abc"}}
	if _, err := c.Fetch(context.Background(), srv.URL, extra); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Get("User-Agent") != "hls-proxy-test" {
		t.Fatalf("unexpected user agent %q", got.Get("User-Agent"))
	}
	if got.Get("Referer") != "https://player.example/" || got.Get("Origin") != "https://player.example" {
		t.Fatalf("referer/origin not forwarded: %v", got)
	}
	if got.Get("X-Trace") != "abc" {
		t.Fatal("caller headers should be forwarded")
	}
}

// ─── Breakers ────────────────────────────────────────────────────────────────

func TestFetch_BreakerOpensPerHost(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBreakers(BreakerConfig{FailureThreshold: 2, Timeout: time.Minute}, nil)
	c := newTestClient(t, ClientConfig{}, WithBreakers(b))

	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(context.Background(), srv.URL, nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	host := strings.TrimPrefix(srv.URL, "http://")
	if s := b.State(host); s != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %v", s)
	}

	_, err := c.Fetch(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("open breaker should surface as ErrFetch, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("open breaker should short-circuit, origin saw %d requests", got)
	}
	if s := b.State("other.example"); s != gobreaker.StateClosed {
		t.Fatalf("unrelated host should be closed, got %v", s)
	}
}

func TestFetch_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	b := NewBreakers(BreakerConfig{FailureThreshold: 1, Timeout: time.Minute}, nil)
	c := newTestClient(t, ClientConfig{}, WithBreakers(b))
	for i := 0; i < 3; i++ {
		_, _ = c.Fetch(context.Background(), srv.URL, nil)
	}
	if s := b.State(strings.TrimPrefix(srv.URL, "http://")); s != gobreaker.StateClosed {
		t.Fatalf("4xx responses should not trip the breaker, got %v", s)
	}
}

// ─── Transport ───────────────────────────────────────────────────────────────

func TestNew_UpstreamProxy(t *testing.T) {
	c, err := New(ClientConfig{UpstreamProxy: "http://127.0.0.1:3128"})
	if err != nil {
		t.Fatalf("http proxy: %v", err)
	}
	if c.HTTPClient.Transport.(*http.Transport).Proxy == nil {
		t.Fatal("http proxy should be installed on the transport")
	}

	c, err = New(ClientConfig{UpstreamProxy: "socks5://127.0.0.1:1080"})
	if err != nil {
		t.Fatalf("socks5 proxy: %v", err)
	}
	if c.HTTPClient.Transport.(*http.Transport).DialContext == nil {
		t.Fatal("socks5 proxy should replace the dialer")
	}

	if _, err := New(ClientConfig{UpstreamProxy: "ftp://127.0.0.1:21"}); err == nil {
		t.Fatal("unsupported proxy scheme should fail")
	}
}

func TestFetch_PacedRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, ClientConfig{RequestsPerSecond: 20})
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), srv.URL, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("three paced requests at 20/s should take about 100ms, took %s", elapsed)
	}
}

func TestFetch_PaceHonoursContext(t *testing.T) {
	c := newTestClient(t, ClientConfig{RequestsPerSecond: 0.01})
	c.pace.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Fetch(ctx, "http://127.0.0.1:1/index.m3u8", nil); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch when the pacing wait is cut short, got %v", err)
	}
}
