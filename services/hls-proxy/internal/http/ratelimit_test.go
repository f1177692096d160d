package http

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remote, xff string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/m3u8filter?url=x", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	handler := NewRateLimiter(0.001, 3).Middleware(okHandler())

	for i := 0; i < 3; i++ {
		if rec := serve(handler, "1.2.3.4:1234", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	// 4th request should be rate limited
	rec := serve(handler, "1.2.3.4:1234", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRateLimiter_ConcurrentFirstRequestsShareBucket(t *testing.T) {
	handler := NewRateLimiter(0.001, 1).Middleware(okHandler())

	var ok int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if serve(handler, "5.6.7.8:1234", "").Code == http.StatusOK {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if ok != 1 {
		t.Fatalf("one client must get one bucket, %d requests passed a burst of 1", ok)
	}
}

func TestRateLimiter_DifferentIPs(t *testing.T) {
	handler := NewRateLimiter(0.001, 1).Middleware(okHandler())

	if rec := serve(handler, "1.1.1.1:1234", ""); rec.Code != http.StatusOK {
		t.Fatalf("IP1 first: expected 200, got %d", rec.Code)
	}
	if rec := serve(handler, "2.2.2.2:1234", ""); rec.Code != http.StatusOK {
		t.Fatalf("IP2 first: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiter_PortIgnored(t *testing.T) {
	handler := NewRateLimiter(0.001, 1).Middleware(okHandler())

	_ = serve(handler, "3.3.3.3:1000", "")
	if rec := serve(handler, "3.3.3.3:2000", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same host on a new port should share a bucket, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remote, xff, want string
	}{
		{"10.0.0.1:5555", "", "10.0.0.1"},
		{"10.0.0.1:5555", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"10.0.0.1:5555", " , 10.0.0.2", "10.0.0.1"},
		{"[::1]:8080", "", "::1"},
		{"unix", "", "unix"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if got := ClientIP(req); got != tc.want {
			t.Fatalf("ClientIP(%q, %q) = %q, want %q", tc.remote, tc.xff, got, tc.want)
		}
	}
}
