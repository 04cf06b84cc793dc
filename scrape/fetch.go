package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"shortsgen/errors"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; ShortsGeneratorBot/1.0)"

	maxBodyBytes = 8 << 20
)

// FetcherOptions tune outbound politeness. Zero values use the defaults.
type FetcherOptions struct {
	Timeout      time.Duration
	UserAgent    string
	PerHostRate  rate.Limit // sustained requests per second against one host
	PerHostBurst int
}

// Fetcher performs GETs for scrapers with a per-request timeout and a
// per-host rate limit.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	rate      rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewFetcher(client *http.Client, opts FetcherOptions) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	f := &Fetcher{
		client:    client,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		rate:      opts.PerHostRate,
		burst:     opts.PerHostBurst,
		limiters:  map[string]*rate.Limiter{},
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.rate <= 0 {
		f.rate = rate.Every(time.Second)
	}
	if f.burst <= 0 {
		f.burst = 2
	}
	return f
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.rate, f.burst)
		f.limiters[host] = lim
	}
	return lim
}

// Get fetches target for src and returns the body decoded to UTF-8.
// Every failure is an *UpstreamError.
func (f *Fetcher) Get(ctx context.Context, src Source, target, accept string) ([]byte, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, newUpstreamError(src.Name, target, 0, err, "invalid source url")
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, f.ctxError(ctx, src, target, timeout, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, newUpstreamError(src.Name, target, 0, err, "build request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	if src.Language != "" {
		req.Header.Set("Accept-Language", src.Language+";q=0.9,en;q=0.7")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.ctxError(ctx, src, target, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, newUpstreamError(src.Name, target, resp.StatusCode, nil,
			"%s responded with status %d", src.Name, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if src.Charset != "" {
		contentType = "text/html; charset=" + src.Charset
	}
	var body io.Reader = io.LimitReader(resp.Body, maxBodyBytes)
	// JSON and XML carry their own encoding; only HTML is sniffed.
	if src.Charset != "" || strings.HasPrefix(accept, "text/html") {
		body, err = charset.NewReader(body, contentType)
		if err != nil {
			return nil, newUpstreamError(src.Name, target, resp.StatusCode, err, "unsupported charset")
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, f.ctxError(ctx, src, target, timeout, err)
	}
	return data, nil
}

func (f *Fetcher) ctxError(ctx context.Context, src Source, target string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newUpstreamError(src.Name, target, 0, err, "request to %s timed out after %s", src.Name, timeout)
	}
	return newUpstreamError(src.Name, target, 0, err, "failed to fetch %s", src.Name)
}
