// Package scraper decides which image URL best represents a page. A fixed
// dispatch picks between exactly two strategies: asking a known video
// provider's oEmbed endpoint, or fetching the page and running a chain of
// heuristics over its HTML.
package scraper

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"thumbfinder/internal/fetch"
	"thumbfinder/internal/imagesize"
)

// Scraper produces a thumbnail URL for the page it was built for. An empty
// result with a nil error means no thumbnail could be found; an error is
// only returned when the page itself could not be fetched.
type Scraper interface {
	Scrape(ctx context.Context) (string, error)
}

// Fetcher is the slice of the fetch client the scrapers need.
type Fetcher interface {
	Get(ctx context.Context, url, referer string) (fetch.Response, error)
}

// SizeProber reports the pixel dimensions of a remote image, if they can be
// determined.
type SizeProber interface {
	Probe(ctx context.Context, url, referer string) (imagesize.Dimensions, bool)
}

// Config carries the heuristic knobs. The numeric values are empirically
// chosen; they are configuration, not derivations.
type Config struct {
	// MinArea is the pixel-area floor below which an image is ignored.
	MinArea int
	// MaxAspectRatio rejects excessively long or wide images.
	MaxAspectRatio float64
	// SpritePenaltyDivisor divides the scored area of any image whose URL
	// contains "sprite"; sprite sheets are large but never representative.
	SpritePenaltyDivisor float64
	// OEmbedEndpoint is the video provider's metadata endpoint.
	OEmbedEndpoint string
	// OEmbedMaxWidth is the maximum-width hint sent to the provider.
	OEmbedMaxWidth int
}

// DefaultConfig returns the production heuristic values.
func DefaultConfig() Config {
	return Config{
		MinArea:              5000,
		MaxAspectRatio:       2,
		SpritePenaltyDivisor: 10,
		OEmbedEndpoint:       "https://www.youtube.com/oembed",
		OEmbedMaxWidth:       600,
	}
}

// Deps are the collaborators shared by both scraper variants.
type Deps struct {
	Fetcher Fetcher
	Prober  SizeProber
	Config  Config
	Logger  *zap.Logger
}

// providerPattern matches the video provider's watch pages and short links.
var providerPattern = regexp.MustCompile(`^https?://((www\.)?youtube\.com/watch|youtu\.be/)`)

// ForURL selects the scraper variant for a page URL. The set of variants is
// closed: provider watch URLs get the oEmbed scraper and never have their
// page fetched; everything else gets the generic page scraper.
func ForURL(pageURL string, deps Deps) Scraper {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if providerPattern.MatchString(pageURL) {
		return &oembedScraper{url: pageURL, deps: deps}
	}
	return &genericScraper{url: pageURL, deps: deps}
}

// IsProviderURL reports whether url belongs to the video provider, meaning
// a scrape of it will not touch the page itself.
func IsProviderURL(url string) bool {
	return providerPattern.MatchString(url)
}
