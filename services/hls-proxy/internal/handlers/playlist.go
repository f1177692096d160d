package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/hls-platform/internal/platform/api"
	"github.com/example/hls-platform/internal/platform/httpserver"
	"github.com/example/hls-platform/services/hls-proxy/internal/processor"
	"github.com/example/hls-platform/services/hls-proxy/internal/rewriter"
)

const (
	pathPrefix   = "/m3u8filter/"
	playlistType = "application/vnd.apple.mpegurl"
	usage        = "usage: /m3u8filter?url=<playlist-url> or /m3u8filter/<playlist-url>\n"
)

// Processor is the part of processor.Processor the handlers depend on.
type Processor interface {
	Process(ctx context.Context, target string) (processor.Result, error)
	CacheTTL() time.Duration
}

// Register mounts the query and path forms of the filter endpoint.
func Register(r chi.Router, proc Processor, log *zap.Logger) {
	h := Filter(proc, log)
	r.Get("/", h)
	r.Get("/m3u8filter", h)
	r.Get("/m3u8filter/*", h)
}

// Filter serves a processed playlist for the target named by the url query
// parameter or by the request path after /m3u8filter/.
func Filter(proc Processor, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		target := targetFromRequest(r)
		if target == "" || !rewriter.IsAbsolute(target) {
			api.BadRequest(w, usage)
			return
		}

		res, err := proc.Process(r.Context(), target)
		if err != nil {
			rid := httpserver.RequestIDFromContext(r.Context())
			log.Warn("process failed", zap.String("target", target), zap.String("request_id", rid), zap.Error(err))
			api.Internal(w, err.Error(), rid)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch res.Kind {
		case processor.KindRedirectMedia, processor.KindRedirectOriginal:
			http.Redirect(w, r, res.Location, http.StatusFound)
		default:
			writePlaylist(w, res, proc.CacheTTL())
		}
	}
}

func writePlaylist(w http.ResponseWriter, res processor.Result, ttl time.Duration) {
	w.Header().Set("Content-Type", playlistType)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ttl/time.Second)))
	if res.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Body))
}

// targetFromRequest prefers the url query parameter. The path form accepts
// raw or percent-encoded URLs; a scheme whose double slash was collapsed by
// an intermediary is repaired, and the request query is carried over.
func targetFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.URL.Query().Get("url")); v != "" {
		return v
	}
	raw := r.URL.EscapedPath()
	if !strings.HasPrefix(raw, pathPrefix) {
		return ""
	}
	target, err := url.PathUnescape(strings.TrimPrefix(raw, pathPrefix))
	if err != nil {
		return ""
	}
	target = repairScheme(strings.TrimSpace(target))
	if target == "" {
		return ""
	}
	if q := r.URL.RawQuery; q != "" {
		if strings.Contains(target, "?") {
			target += "&" + q
		} else {
			target += "?" + q
		}
	}
	return target
}

func repairScheme(s string) string {
	lower := strings.ToLower(s)
	for _, scheme := range []string{"https:", "http:"} {
		if strings.HasPrefix(lower, scheme) && !strings.HasPrefix(lower, scheme+"//") {
			return s[:len(scheme)] + "//" + strings.TrimLeft(s[len(scheme):], "/")
		}
	}
	return s
}
