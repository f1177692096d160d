// Package processor turns a target URL into a client-ready playlist, or into
// a redirect for content that is not a playlist.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/hls-platform/internal/platform/analytics"
	"github.com/example/hls-platform/services/hls-proxy/internal/adfilter"
	"github.com/example/hls-platform/services/hls-proxy/internal/cache"
	"github.com/example/hls-platform/services/hls-proxy/internal/fetch"
	"github.com/example/hls-platform/services/hls-proxy/internal/playlist"
	"github.com/example/hls-platform/services/hls-proxy/internal/resolver"
	"github.com/example/hls-platform/services/hls-proxy/internal/rewriter"
)

var (
	ErrFetch             = fetch.ErrFetch
	ErrRecursionExceeded = resolver.ErrRecursionExceeded
	ErrNoVariant         = resolver.ErrNoVariant
)

// Stages reported in Error.
const (
	StageFetch   = "fetch"
	StageResolve = "resolve"
)

// Error is a failed processing run. It unwraps to the underlying cause so
// callers can match ErrFetch, ErrRecursionExceeded or ErrNoVariant.
type Error struct {
	Stage  string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("process %s: %s: %v", e.Target, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Kind int

const (
	KindPlaylist Kind = iota
	KindRedirectMedia
	KindRedirectOriginal
)

func (k Kind) String() string {
	switch k {
	case KindPlaylist:
		return "playlist"
	case KindRedirectMedia:
		return "redirect_media"
	case KindRedirectOriginal:
		return "redirect_original"
	default:
		return "unknown"
	}
}

// Result is what the HTTP layer renders: a playlist body or a Location.
type Result struct {
	Kind     Kind
	Body     string
	Location string
	Cached   bool
}

var (
	DefaultMediaExtensions = []string{
		".ts", ".m4s", ".mp4", ".m4v", ".m4a", ".aac", ".mp3", ".webm", ".mkv", ".mov",
		".jpg", ".jpeg", ".png", ".gif", ".webp",
	}
	DefaultMediaTypes = []string{"video/", "audio/", "image/"}
)

var playlistTypes = []string{
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"audio/mpegurl",
	"audio/x-mpegurl",
}

type Options struct {
	Policy          rewriter.Policy
	MediaExtensions []string
	MediaTypes      []string
	CacheTTL        time.Duration
}

type Processor struct {
	opts      Options
	fetcher   fetch.Fetcher
	cache     cache.Store
	resolver  *resolver.Resolver
	adPattern *regexp.Regexp
	events    *analytics.Publisher
	log       *zap.Logger
	group     singleflight.Group
}

type Option func(*Processor)

func WithLogger(log *zap.Logger) Option {
	return func(p *Processor) { p.log = log }
}

func WithPublisher(pub *analytics.Publisher) Option {
	return func(p *Processor) { p.events = pub }
}

// New builds a Processor. A malformed ad pattern is logged and ignored; the
// structural ad filter still runs.
func New(opts Options, f fetch.Fetcher, store cache.Store, options ...Option) *Processor {
	if opts.MediaExtensions == nil {
		opts.MediaExtensions = DefaultMediaExtensions
	}
	if opts.MediaTypes == nil {
		opts.MediaTypes = DefaultMediaTypes
	}
	p := &Processor{opts: opts, fetcher: f, cache: store, log: zap.NewNop()}
	for _, o := range options {
		o(p)
	}
	if opts.Policy.FilterAds {
		re, err := adfilter.CompilePattern(opts.Policy.AdPattern)
		if err != nil {
			p.log.Warn("ad filter pattern ignored", zap.String("pattern", opts.Policy.AdPattern), zap.Error(err))
		}
		p.adPattern = re
	}
	p.resolver = resolver.New(f, opts.Policy.Main, opts.Policy.MaxRecursion, p.log)
	return p
}

// CacheTTL is the lifetime of cached playlists, also advertised to clients.
func (p *Processor) CacheTTL() time.Duration { return p.opts.CacheTTL }

// Process serves target from cache or runs the full pipeline. Concurrent
// misses for the same key share one run.
func (p *Processor) Process(ctx context.Context, target string) (Result, error) {
	key := CacheKey(target)
	if p.cacheEnabled() {
		v, ok, err := p.cache.Get(ctx, key)
		switch {
		case err != nil:
			cacheLookups.WithLabelValues("error").Inc()
			p.log.Warn("cache get failed", zap.String("target", target), zap.Error(err))
		case ok:
			cacheLookups.WithLabelValues("hit").Inc()
			processedTotal.WithLabelValues(KindPlaylist.String()).Inc()
			return Result{Kind: KindPlaylist, Body: string(v), Cached: true}, nil
		default:
			cacheLookups.WithLabelValues("miss").Inc()
		}
	}

	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		return p.run(context.WithoutCancel(ctx), target, key)
	})
	if err != nil {
		processedTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}
	res := v.(Result)
	processedTotal.WithLabelValues(res.Kind.String()).Inc()
	if shared {
		p.log.Debug("coalesced concurrent miss", zap.String("target", target))
	}
	return res, nil
}

// cacheEnabled is false without a store or with a non-positive CacheTTL.
func (p *Processor) cacheEnabled() bool {
	return p.cache != nil && p.opts.CacheTTL > 0
}

func (p *Processor) run(ctx context.Context, target, key string) (Result, error) {
	start := time.Now()
	policy := p.opts.Policy

	resp, err := p.fetcher.Fetch(ctx, policy.Main.Wrap(target), nil)
	if err != nil {
		return Result{}, &Error{Stage: StageFetch, Target: target, Err: err}
	}
	body := string(resp.Body)

	if !p.isPlaylist(body, resp.ContentType) {
		if p.isMedia(target, resp.ContentType) {
			return Result{Kind: KindRedirectMedia, Location: policy.Segment.Wrap(target)}, nil
		}
		return Result{Kind: KindRedirectOriginal, Location: target}, nil
	}

	base := target
	if policy.Main.Base == "" && resp.FinalURL != "" {
		base = resp.FinalURL
	}
	media, err := p.resolver.Resolve(ctx, body, base)
	if err != nil {
		return Result{}, &Error{Stage: StageResolve, Target: target, Err: err}
	}
	masterHops.Observe(float64(media.Depth))

	out := rewriter.Rewrite(media.Body, media.URL, policy)
	var rep adfilter.Report
	if policy.FilterAds {
		out, rep = adfilter.Filter(out, p.adPattern)
		adSegmentsRemoved.Add(float64(rep.Removed))
		if rep.Removed > 0 {
			p.log.Info("ad segments removed",
				zap.String("target", target),
				zap.Int("removed", rep.Removed),
				zap.Int("segments", rep.Segments),
				zap.Float64("threshold", rep.Threshold))
		}
	}

	if p.cacheEnabled() {
		if err := p.cache.Set(ctx, key, []byte(out), p.opts.CacheTTL); err != nil {
			p.log.Warn("cache set failed", zap.String("target", target), zap.Error(err))
		}
	}

	elapsed := time.Since(start)
	processDuration.Observe(elapsed.Seconds())
	p.log.Debug("playlist processed",
		zap.String("target", target),
		zap.Int("depth", media.Depth),
		zap.Duration("elapsed", elapsed))
	p.events.Publish(analytics.SubjectPlaylistProcessed, "playlist_processed", map[string]any{
		"host":             hostOf(target),
		"depth":            media.Depth,
		"segments":         rep.Segments,
		"removed_segments": rep.Removed,
		"duration_ms":      elapsed.Milliseconds(),
	})
	return Result{Kind: KindPlaylist, Body: out}, nil
}

func (p *Processor) isPlaylist(body, contentType string) bool {
	if playlist.HasSignature(body) {
		return true
	}
	ct := strings.ToLower(contentType)
	for _, t := range playlistTypes {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return false
}

func (p *Processor) isMedia(target, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range p.opts.MediaTypes {
		if prefix != "" && strings.HasPrefix(ct, strings.ToLower(prefix)) {
			return true
		}
	}
	urlPath := target
	if u, err := url.Parse(target); err == nil {
		urlPath = u.Path
	}
	ext := strings.ToLower(path.Ext(urlPath))
	if ext == "" {
		return false
	}
	for _, e := range p.opts.MediaExtensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// CacheKey hashes the normalized target: scheme and host lowercased, the
// default port dropped and the fragment removed. Path and query are kept.
func CacheKey(target string) string {
	norm := strings.TrimSpace(target)
	if u, err := url.Parse(norm); err == nil && u.Host != "" {
		u.Scheme = strings.ToLower(u.Scheme)
		host := strings.ToLower(u.Host)
		switch {
		case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
			host = strings.TrimSuffix(host, ":80")
		case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
			host = strings.TrimSuffix(host, ":443")
		}
		u.Host = host
		u.Fragment = ""
		u.RawFragment = ""
		norm = u.String()
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

func hostOf(target string) string {
	if u, err := url.Parse(target); err == nil {
		return u.Hostname()
	}
	return ""
}
