// Package fetch retrieves playlists from origins for the hls-proxy service.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// ErrFetch marks every failure to obtain an origin response.
var ErrFetch = errors.New("fetch failed")

var errBodyTooLarge = fmt.Errorf("%w: body too large", ErrFetch)

// StatusError is returned for non-2xx origin responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrFetch }

// Response is a fully read origin response.
type Response struct {
	Body        []byte
	ContentType string
	StatusCode  int
	// FinalURL is the URL after redirects.
	FinalURL string
}

// Fetcher is the collaborator the processor pulls playlists through.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, headers http.Header) (*Response, error)
}

// ClientConfig holds upstream request settings.
type ClientConfig struct {
	Timeout        time.Duration
	UserAgent      string
	Referer        string
	Origin         string
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxBodyBytes   int64
	// UpstreamProxy routes origin traffic through an http, https or socks5 proxy.
	UpstreamProxy string
	// RequestsPerSecond paces outbound requests across all origins; 0 is unpaced.
	RequestsPerSecond float64
}

type Client struct {
	HTTPClient *http.Client
	Config     ClientConfig
	Breakers   *Breakers
	Log        *zap.Logger
	pace       *rate.Limiter
}

// Option configures the Client.
type Option func(*Client)

func WithBreakers(b *Breakers) Option {
	return func(c *Client) { c.Breakers = b }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func New(cfg ClientConfig, opts ...Option) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:146.0) Gecko/20100101 Firefox/146.0"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	tr, err := newTransport(cfg.UpstreamProxy)
	if err != nil {
		return nil, err
	}
	c := &Client{
		HTTPClient: &http.Client{Timeout: cfg.Timeout, Transport: tr},
		Config:     cfg,
		Log:        zap.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.pace = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func newTransport(upstream string) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if upstream == "" {
		return tr, nil
	}
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("fetch: upstream proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		tr.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("fetch: upstream proxy: %w", err)
		}
		tr.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("fetch: upstream proxy: unsupported scheme %q", u.Scheme)
	}
	return tr, nil
}

// Fetch performs a GET with retries, guarded by the per-host breaker when
// one is configured. 4xx responses are not retried.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", ErrFetch, rawURL)
	}

	var resp *Response
	if c.Breakers == nil {
		resp, err = c.fetchWithRetry(ctx, rawURL, headers)
	} else {
		var out interface{}
		out, err = c.Breakers.get(u.Host).Execute(func() (interface{}, error) {
			return c.fetchWithRetry(ctx, rawURL, headers)
		})
		if err == nil {
			resp = out.(*Response)
		}
	}
	if err != nil {
		if errors.Is(err, ErrFetch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return resp, nil
}

// fetchWithRetry returns 4xx responses without error so they do not count
// against the breaker; Fetch turns them into StatusError.
func (c *Client) fetchWithRetry(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			c.Log.Debug("retrying request", zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, err := c.do(ctx, rawURL, headers)
		if err == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		if err == nil {
			err = &StatusError{URL: rawURL, Code: resp.StatusCode}
		}
		lastErr = err
		c.Log.Warn("request failed", zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil || errors.Is(err, errBodyTooLarge) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	if c.pace != nil {
		if err := c.pace.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("User-Agent", c.Config.UserAgent)
	if c.Config.Referer != "" {
		req.Header.Set("Referer", c.Config.Referer)
	}
	if c.Config.Origin != "" {
		req.Header.Set("Origin", c.Config.Origin)
	}
	for k, vals := range headers {
		req.Header.Del(k)
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, c.Config.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > c.Config.MaxBodyBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", errBodyTooLarge, rawURL, c.Config.MaxBodyBytes)
	}
	return &Response{
		Body:        b,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}
