// Package collyfetcher implements icp.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

const defaultTimeout = 30 * time.Second

// Waiter gates outgoing requests; *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   Waiter
}

// Fetcher implements icp.Fetcher using the Colly collector. It is built once
// and shared by every fetch task; each request runs on a clone that reuses the
// base collector's HTTP client.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	// Retries hit the same URL, so revisits must be allowed.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single request. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, req icp.Request) (icp.Payload, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, req.URL); err != nil {
			return icp.Payload{}, err
		}
	}

	var (
		result   icp.Payload
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, req, &fetchErr); err != nil {
		return icp.Payload{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *icp.Payload,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = icp.Payload{
			Body:        append([]byte(nil), r.Body...),
			ContentType: normalizedContentType(contentType),
			StatusCode:  r.StatusCode,
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, req icp.Request, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- dispatch(collector, req)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		return nil
	}
}

func dispatch(collector *colly.Collector, req icp.Request) error {
	switch strings.ToUpper(req.Method) {
	case http.MethodPost:
		hdr := http.Header{}
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
		return collector.Request(http.MethodPost, req.URL, strings.NewReader(req.Form.Encode()), nil, hdr)
	case "", http.MethodGet:
		target := req.URL
		if len(req.Form) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + req.Form.Encode()
		}
		return collector.Visit(target)
	default:
		return fmt.Errorf("unsupported method %q", req.Method)
	}
}

// normalizedContentType reflects colly's transcoding: when a response declares
// a charset, colly has already converted the body to UTF-8.
func normalizedContentType(raw string) string {
	if raw == "" {
		return ""
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return raw
	}
	if _, ok := params["charset"]; ok {
		params["charset"] = "utf-8"
	}
	return mime.FormatMediaType(mediaType, params)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
