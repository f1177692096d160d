// Package resolver follows master playlists down to a media playlist.
//
// Only the first variant of each master is followed; there is no bandwidth
// or resolution negotiation.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/hls-platform/services/hls-proxy/internal/fetch"
	"github.com/example/hls-platform/services/hls-proxy/internal/playlist"
	"github.com/example/hls-platform/services/hls-proxy/internal/rewriter"
)

// DefaultMaxDepth applies when Resolver.MaxDepth is not positive.
const DefaultMaxDepth = 10

var (
	ErrRecursionExceeded = errors.New("master playlist recursion exceeded")
	ErrNoVariant         = errors.New("master playlist has no variant")
)

// Media is the terminal media playlist of a chain.
type Media struct {
	Body string
	// URL is the media playlist's own location, used as the base for
	// resolving its relative references.
	URL   string
	Depth int
}

type Resolver struct {
	Fetcher  fetch.Fetcher
	Main     rewriter.ProxyTarget
	MaxDepth int
	Log      *zap.Logger
}

func New(f fetch.Fetcher, main rewriter.ProxyTarget, maxDepth int, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{Fetcher: f, Main: main, MaxDepth: maxDepth, Log: log}
}

// Resolve walks from body (fetched from baseURL) to the first non-master
// playlist. A body that is already a media playlist is returned at depth 0.
func (r *Resolver) Resolve(ctx context.Context, body, baseURL string) (Media, error) {
	limit := r.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	current := baseURL
	visited := map[string]bool{baseURL: true}
	for depth := 0; ; depth++ {
		if !playlist.IsMaster(body) {
			return Media{Body: body, URL: current, Depth: depth}, nil
		}
		ref, ok := playlist.FirstVariant(body)
		if !ok {
			return Media{}, fmt.Errorf("resolver: %s: %w", current, ErrNoVariant)
		}
		next := rewriter.Resolve(current, ref)
		if depth+1 > limit {
			return Media{}, fmt.Errorf("resolver: depth %d > %d at %s: %w", depth+1, limit, next, ErrRecursionExceeded)
		}
		if visited[next] {
			return Media{}, fmt.Errorf("resolver: cycle at %s: %w", next, ErrRecursionExceeded)
		}
		visited[next] = true

		log.Debug("following variant", zap.String("from", current), zap.String("variant", next), zap.Int("depth", depth+1))
		resp, err := r.Fetcher.Fetch(ctx, r.Main.Wrap(next), nil)
		if err != nil {
			return Media{}, fmt.Errorf("resolver: fetch variant: %w", err)
		}
		body = string(resp.Body)
		current = next
		if r.Main.Base == "" && resp.FinalURL != "" {
			current = resp.FinalURL
		}
	}
}
