package config

import (
	"errors"
	"strings"
	"time"

	platformconfig "github.com/example/hls-platform/internal/platform/config"
	"github.com/example/hls-platform/services/hls-proxy/internal/fetch"
	"github.com/example/hls-platform/services/hls-proxy/internal/processor"
	"github.com/example/hls-platform/services/hls-proxy/internal/resolver"
	"github.com/example/hls-platform/services/hls-proxy/internal/rewriter"
)

// Config is loaded once at startup and never mutated; every request sees the
// same Policy.
type Config struct {
	ServiceName string
	LogLevel    string
	HTTPAddr    string

	ProxyURL            string
	ProxyURLEncoding    bool
	TSProxyURL          string
	TSProxyURLEncoding  bool
	FilterDiscontinuity bool
	FilterAds           bool
	AdFilterRegex       string
	MaxRecursion        int
	MediaExtensions     []string
	MediaContentTypes   []string

	CacheTTL        time.Duration
	CacheMaxEntries int
	RedisURL        string

	Fetch   fetch.ClientConfig
	Breaker fetch.BreakerConfig

	RateLimitRPS   float64
	RateLimitBurst int

	NATSURL string
}

func Load() (Config, error) {
	app, err := platformconfig.Load(":8084")
	if err != nil {
		return Config{}, err
	}
	env := platformconfig.Env

	cfg := Config{
		ServiceName: app.ServiceName,
		LogLevel:    app.LogLevel,
		HTTPAddr:    app.HTTP.Addr,

		ProxyURL:            env("PROXY_URL"),
		ProxyURLEncoding:    platformconfig.EnvBool("PROXY_URL_ENCODING", true),
		TSProxyURL:          env("TS_PROXY_URL"),
		TSProxyURLEncoding:  platformconfig.EnvBool("TS_PROXY_URL_ENCODING", true),
		FilterDiscontinuity: platformconfig.EnvBool("FILTER_DISCONTINUITY", false),
		FilterAds:           platformconfig.EnvBool("FILTER_ADS", false),
		AdFilterRegex:       env("AD_FILTER_REGEX"),
		MaxRecursion:        platformconfig.EnvInt("MAX_RECURSION", resolver.DefaultMaxDepth),
		MediaExtensions:     normalizeExtensions(platformconfig.EnvList("MEDIA_EXTENSIONS")),
		MediaContentTypes:   platformconfig.EnvList("MEDIA_CONTENT_TYPES"),

		CacheTTL:        platformconfig.EnvDuration("CACHE_TTL", 60*time.Second),
		CacheMaxEntries: platformconfig.EnvInt("CACHE_MAX_ENTRIES", 1024),
		RedisURL:        env("REDIS_URL"),

		Fetch: fetch.ClientConfig{
			Timeout:           platformconfig.EnvDuration("FETCH_TIMEOUT", 30*time.Second),
			UserAgent:         env("UPSTREAM_USER_AGENT"),
			Referer:           env("UPSTREAM_REFERER"),
			Origin:            env("UPSTREAM_ORIGIN"),
			MaxRetries:        platformconfig.EnvInt("FETCH_MAX_RETRIES", 2),
			RetryBaseDelay:    platformconfig.EnvDuration("FETCH_RETRY_BASE_DELAY", 250*time.Millisecond),
			MaxBodyBytes:      int64(platformconfig.EnvInt("FETCH_MAX_BODY_BYTES", 8<<20)),
			UpstreamProxy:     env("UPSTREAM_PROXY"),
			RequestsPerSecond: platformconfig.EnvFloat("UPSTREAM_RPS", 0),
		},
		Breaker: fetch.BreakerConfig{
			MaxRequests:      uint32(platformconfig.EnvInt("CB_MAX_REQUESTS", 5)),
			Interval:         platformconfig.EnvDuration("CB_INTERVAL", 60*time.Second),
			Timeout:          platformconfig.EnvDuration("CB_TIMEOUT", 30*time.Second),
			FailureThreshold: uint32(platformconfig.EnvInt("CB_FAILURE_THRESHOLD", 5)),
		},

		RateLimitRPS:   platformconfig.EnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: platformconfig.EnvInt("RATE_LIMIT_BURST", 20),

		NATSURL: env("NATS_URL"),
	}
	if cfg.MaxRecursion == 0 {
		return Config{}, errors.New("MAX_RECURSION must be at least 1")
	}
	for name, v := range map[string]string{"PROXY_URL": cfg.ProxyURL, "TS_PROXY_URL": cfg.TSProxyURL} {
		if v != "" && !rewriter.IsAbsolute(v) {
			return Config{}, errors.New(name + " must be an absolute http(s) URL")
		}
	}
	return cfg, nil
}

// Policy is the rewrite configuration shared by every request.
func (c Config) Policy() rewriter.Policy {
	return rewriter.Policy{
		Main:                rewriter.ProxyTarget{Base: c.ProxyURL, Encode: c.ProxyURLEncoding},
		Segment:             rewriter.ProxyTarget{Base: c.TSProxyURL, Encode: c.TSProxyURLEncoding},
		FilterDiscontinuity: c.FilterDiscontinuity,
		FilterAds:           c.FilterAds,
		AdPattern:           c.AdFilterRegex,
		MaxRecursion:        c.MaxRecursion,
	}
}

func (c Config) ProcessorOptions() processor.Options {
	return processor.Options{
		Policy:          c.Policy(),
		MediaExtensions: c.MediaExtensions,
		MediaTypes:      c.MediaContentTypes,
		CacheTTL:        c.CacheTTL,
	}
}

func normalizeExtensions(exts []string) []string {
	if exts == nil {
		return nil
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
