package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/example/hls-platform/internal/platform/api"
)

var rateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "hls_proxy",
	Name:      "ratelimit_rejected_total",
	Help:      "Requests rejected by the per-IP rate limiter",
})

const (
	maxTrackedClients = 10000
	idleClientTTL     = 10 * time.Minute
)

// RateLimiter is a per-IP token bucket. Clients idle for idleClientTTL are
// forgotten, and at most maxTrackedClients are tracked.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	retry   time.Duration

	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter creates a rate limiter with the given rate (req/s) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	retry := time.Second
	if rps > 0 {
		retry = time.Duration(float64(time.Second) / rps)
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		retry:   retry,
		clients: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, idleClientTTL),
	}
}

// limiter returns the bucket for key. Every call re-adds the entry, which
// resets its idle TTL: only clients silent for idleClientTTL start over with
// a full burst.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.clients.Get(key)
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
	}
	rl.clients.Add(key, l)
	return l
}

// Middleware returns an HTTP middleware that rate-limits requests by client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter(ClientIP(r)).Allow() {
			rateLimited.Inc()
			api.RateLimited(w, rl.retry)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP is the first X-Forwarded-For hop, or the remote address without
// its port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
