package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"thumbfinder/internal/urlkit"
)

// genericScraper fetches a page and picks the best thumbnail from its HTML:
// author-declared metadata first, then the largest acceptable embedded
// image. Each heuristic degrades to the next on failure; only the page
// fetch itself is fatal.
type genericScraper struct {
	url  string
	deps Deps
}

func (s *genericScraper) Scrape(ctx context.Context) (string, error) {
	resp, err := s.deps.Fetcher.Get(ctx, s.url, "")
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}

	contentType := strings.ToLower(resp.ContentType)

	// If the page is itself an image, it is its own best thumbnail.
	if strings.Contains(contentType, "image") && len(resp.Body) > 0 {
		return s.url, nil
	}

	if !strings.Contains(contentType, "html") || len(resp.Body) == 0 {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		s.deps.Logger.Debug("parse page failed", zap.String("url", s.url), zap.Error(err))
		return "", nil
	}

	heuristics := []func(context.Context, *goquery.Document) string{
		s.openGraphImage,
		s.declaredThumbnail,
		s.largestImage,
	}
	for _, heuristic := range heuristics {
		if result := heuristic(ctx, doc); result != "" {
			return result, nil
		}
	}
	return "", nil
}

// openGraphImage honors the page author's Open Graph declaration
// (http://ogp.me/). The nonstandard name= spelling is common enough in the
// wild to check as a fallback for each property.
func (s *genericScraper) openGraphImage(_ context.Context, doc *goquery.Document) string {
	selectors := []string{
		`meta[property="og:image"]`,
		`meta[name="og:image"]`,
		`meta[property="og:image:url"]`,
		`meta[name="og:image:url"]`,
	}
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok && content != "" {
			if resolved := s.absolutify(content); resolved != "" {
				return resolved
			}
		}
	}
	return ""
}

// declaredThumbnail handles <link rel="image_src" href="...">.
func (s *genericScraper) declaredThumbnail(_ context.Context, doc *goquery.Document) string {
	if href, ok := doc.Find(`link[rel="image_src"]`).First().Attr("href"); ok && href != "" {
		return s.absolutify(href)
	}
	return ""
}

// largestImage probes every embedded image for its dimensions and keeps the
// one with the largest scored area. Candidates with no resolvable size, a
// tiny area, or an extreme aspect ratio are dropped; sprite sheets are
// penalized rather than dropped.
func (s *genericScraper) largestImage(ctx context.Context, doc *goquery.Document) string {
	pageScheme := urlkit.Parse(s.url).Scheme

	var (
		bestURL  string
		bestArea float64
	)
	doc.Find("img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if ctx.Err() != nil {
			return false
		}
		src, _ := sel.Attr("src")
		imageURL := s.absolutify(src)
		if imageURL == "" {
			return true
		}
		// Isolated from the page, protocol-relative URLs are ambiguous;
		// pin them to the source page's scheme.
		if strings.HasPrefix(imageURL, "//") {
			imageURL = urlkit.CoerceScheme(imageURL, pageScheme)
		}

		dims, ok := s.deps.Prober.Probe(ctx, imageURL, s.url)
		if !ok {
			return true
		}

		area := float64(dims.Area())
		if area < float64(s.deps.Config.MinArea) {
			return true
		}
		if dims.AspectRatio() > s.deps.Config.MaxAspectRatio {
			return true
		}
		if strings.Contains(strings.ToLower(imageURL), "sprite") {
			area /= s.deps.Config.SpritePenaltyDivisor
		}

		if area > bestArea {
			bestArea = area
			bestURL = imageURL
		}
		return true
	})
	return bestURL
}

// absolutify resolves a possibly-relative reference against the page URL.
func (s *genericScraper) absolutify(ref string) string {
	base, err := url.Parse(s.url)
	if err != nil {
		return ""
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}
