// Package fetch performs all outbound HTTP for the thumbnail service. Every
// request is gated on the urlkit safety verdict, so callers upstream never
// have to re-check before dereferencing a URL.
package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"thumbfinder/internal/metrics"
	"thumbfinder/internal/urlkit"
)

// ErrUnsafeURL marks URLs rejected by the safety validator or the scheme
// gate. No network traffic is attempted for them.
var ErrUnsafeURL = errors.New("url is not safe to fetch")

// Config controls outbound request behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Response is the decoded result of a page or bytes fetch. Body has already
// been gunzipped when the server compressed it.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client fetches pages through a Colly collector and exposes a streaming GET
// for the image size prober.
type Client struct {
	cfg       Config
	transport http.RoundTripper
	base      *colly.Collector
	logger    *zap.Logger
}

// New builds a Client with a pooled transport shared between the collector
// and the streaming path.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := newHTTPTransport()
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(transport)
	return &Client{
		cfg:       cfg,
		transport: transport,
		base:      c,
		logger:    logger,
	}
}

// Get executes a single HTTP GET with the fixed User-Agent,
// Accept-Encoding: gzip, and an optional Referer. The URL must pass the
// safety validator or ErrUnsafeURL is returned before any network call.
func (c *Client) Get(ctx context.Context, rawURL, referer string) (Response, error) {
	target, err := c.prepare(rawURL)
	if err != nil {
		return Response{}, err
	}
	metrics.OutboundRequestsTotal.WithLabelValues("page").Inc()

	var (
		result   Response
		fetchErr error
	)
	collector := c.base.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Encoding", "gzip")
		if referer != "" {
			r.Headers.Set("Referer", referer)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
		result.Body, fetchErr = decodeBody(result.Body, r.Headers.Get("Content-Encoding"))
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return Response{}, err
	}
	return result, nil
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

// Stream opens a GET and hands back the raw body for incremental reading.
// Used by the size prober, which must stop reading as soon as it has what it
// needs; Colly buffers whole bodies, so this path talks to the transport
// directly.
func (c *Client) Stream(ctx context.Context, rawURL, referer string) (io.ReadCloser, error) {
	target, err := c.prepare(rawURL)
	if err != nil {
		return nil, err
	}
	metrics.OutboundRequestsTotal.WithLabelValues("stream").Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	client := &http.Client{Transport: c.transport, Timeout: c.cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream get: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("close rejected stream body", zap.Error(err))
		}
		return nil, fmt.Errorf("stream get: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// prepare percent-encodes non-ASCII characters and enforces the safety gate.
// Only http and https are ever dereferenced, even though the validator's
// allow-list is wider.
func (c *Client) prepare(rawURL string) (string, error) {
	cleaned := cleanURL(rawURL)
	if !strings.HasPrefix(cleaned, "http://") && !strings.HasPrefix(cleaned, "https://") {
		metrics.UnsafeURLsTotal.Inc()
		return "", fmt.Errorf("%w: scheme not http(s): %q", ErrUnsafeURL, rawURL)
	}
	if !urlkit.IsWebSafe(cleaned) {
		metrics.UnsafeURLsTotal.Inc()
		c.logger.Debug("rejected unsafe url", zap.String("url", rawURL))
		return "", fmt.Errorf("%w: %q", ErrUnsafeURL, rawURL)
	}
	return cleaned, nil
}

// cleanURL percent-encodes any character outside printable ASCII, the same
// way browsers quote unicode out of href targets before requesting them.
func cleanURL(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= 127 {
			b.WriteString(url.QueryEscape(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// decodeBody gunzips a response body that is still compressed. The collector
// usually gunzips gzip bodies itself while leaving the Content-Encoding
// header in place, so the header alone is not trustworthy; only a body still
// carrying the gzip magic bytes gets decoded here.
func decodeBody(body []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(contentEncoding) {
	case "gzip", "x-gzip":
	default:
		return body, nil
	}
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip body: %w", err)
	}
	return decoded, nil
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
		IdleConnTimeout:       90 * time.Second,
	}
}
