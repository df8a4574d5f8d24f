// Package thumbnail is the top-level service facade. It owns the scrape
// deadline, the result caches, and the policy that callers never see
// errors: a page either yields a thumbnail URL or it yields nothing.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"thumbfinder/internal/cache"
	"thumbfinder/internal/fetch"
	"thumbfinder/internal/imagesize"
	"thumbfinder/internal/metrics"
	"thumbfinder/internal/scraper"
)

// Config carries the finder's operational knobs.
type Config struct {
	// UserAgent is sent on every outbound request.
	UserAgent string
	// ScrapeTimeout bounds one whole scrape, page fetch and image probes
	// included.
	ScrapeTimeout time.Duration
	// FetchTimeout bounds any single outbound request.
	FetchTimeout time.Duration
	// CacheEntries bounds each result cache.
	CacheEntries int
	// ProbeChunkBytes and ProbeMaxBytes tune the incremental image probe.
	ProbeChunkBytes int
	ProbeMaxBytes   int

	Scraper scraper.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:       "Mozilla/5.0 (Windows NT 6.3; Win64; x64) Gecko/20100101 Firefox/53.0",
		ScrapeTimeout:   30 * time.Second,
		FetchTimeout:    15 * time.Second,
		CacheEntries:    4096,
		ProbeChunkBytes: imagesize.DefaultChunkSize,
		ProbeMaxBytes:   imagesize.DefaultMaxBytes,
		Scraper:         scraper.DefaultConfig(),
	}
}

// Finder finds representative thumbnails for pages. All lookups are
// memoized and bounded by the configured scrape deadline.
type Finder struct {
	cfg     Config
	fetcher *fetch.Client
	prober  *memoProber
	thumbs  *cache.Memo[string]
	bodies  *cache.Memo[[]byte]
	logger  *zap.Logger
}

// New builds a Finder with its own fetch client and caches.
func New(cfg Config, logger *zap.Logger) (*Finder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = 30 * time.Second
	}
	if cfg.CacheEntries <= 0 {
		cfg.CacheEntries = 4096
	}

	fetcher := fetch.New(fetch.Config{UserAgent: cfg.UserAgent, Timeout: cfg.FetchTimeout}, logger)

	thumbs, err := cache.NewMemo[string]("thumbnails", cfg.CacheEntries)
	if err != nil {
		return nil, err
	}
	bodies, err := cache.NewMemo[[]byte]("bodies", cfg.CacheEntries)
	if err != nil {
		return nil, err
	}
	sizes, err := cache.NewMemo[imagesize.Dimensions]("sizes", cfg.CacheEntries)
	if err != nil {
		return nil, err
	}

	return &Finder{
		cfg:     cfg,
		fetcher: fetcher,
		prober: &memoProber{
			inner: imagesize.New(fetcher, cfg.ProbeChunkBytes, cfg.ProbeMaxBytes, logger),
			memo:  sizes,
		},
		thumbs: thumbs,
		bodies: bodies,
		logger: logger,
	}, nil
}

// ThumbnailURL returns the best thumbnail URL for a page, or "" when none
// can be found for any reason. Results, including empty ones, are cached;
// concurrent lookups of the same page share one scrape.
func (f *Finder) ThumbnailURL(ctx context.Context, pageURL string) string {
	result, _ := f.thumbs.Do(pageURL, func() (string, error) {
		return f.scrapeOnce(ctx, pageURL), nil
	})
	return result
}

// scrapeOnce runs a single deadline-bounded scrape, classifying the
// outcome and absorbing every failure into an empty result.
func (f *Finder) scrapeOnce(ctx context.Context, pageURL string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("scrape panicked", zap.String("page_url", pageURL), zap.Any("panic", r))
			metrics.ScrapesTotal.WithLabelValues("panic").Inc()
			result = ""
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ScrapeTimeout)
	defer cancel()

	s := scraper.ForURL(pageURL, scraper.Deps{
		Fetcher: f.fetcher,
		Prober:  f.prober,
		Config:  f.cfg.Scraper,
		Logger:  f.logger,
	})
	result, err := s.Scrape(ctx)
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		f.logger.Warn("scrape deadline exceeded", zap.String("page_url", pageURL))
		metrics.ScrapesTotal.WithLabelValues("timeout").Inc()
		return ""
	case err != nil:
		f.logger.Debug("scrape failed", zap.String("page_url", pageURL), zap.Error(err))
		metrics.ScrapesTotal.WithLabelValues("error").Inc()
		return ""
	case result == "":
		metrics.ScrapesTotal.WithLabelValues("none").Inc()
		return ""
	default:
		metrics.ScrapesTotal.WithLabelValues("thumbnail").Inc()
		return result
	}
}

// FetchBytes returns the raw body of a URL for proxying, or nil when the
// URL is unsafe or unreachable. Only successful fetches are cached, so a
// transient failure does not pin an empty result for the process lifetime.
func (f *Finder) FetchBytes(ctx context.Context, url string) []byte {
	body, err := f.bodies.Do(url, func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, f.cfg.ScrapeTimeout)
		defer cancel()

		resp, err := f.fetcher.Get(ctx, url, "")
		if err != nil {
			return nil, fmt.Errorf("fetch bytes: %w", err)
		}
		return resp.Body, nil
	})
	if err != nil {
		f.logger.Debug("preview fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	if len(body) == 0 {
		return nil
	}
	return body
}

// memoProber caches probe results, including misses, keyed by image URL
// and referer. A cached zero dimension means the probe was tried and
// failed.
type memoProber struct {
	inner *imagesize.Prober
	memo  *cache.Memo[imagesize.Dimensions]
}

func (p *memoProber) Probe(ctx context.Context, url, referer string) (imagesize.Dimensions, bool) {
	dims, _ := p.memo.Do(cache.Key(url, referer), func() (imagesize.Dimensions, error) {
		d, ok := p.inner.Probe(ctx, url, referer)
		if !ok {
			return imagesize.Dimensions{}, nil
		}
		return d, nil
	})
	if dims.Width == 0 || dims.Height == 0 {
		return imagesize.Dimensions{}, false
	}
	return dims, true
}
