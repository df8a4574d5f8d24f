package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"thumbfinder/internal/urlkit"
)

// oembedScraper asks the video provider's oEmbed endpoint for a thumbnail
// directly. The watch page itself is never fetched or parsed.
type oembedScraper struct {
	url  string
	deps Deps
}

type oembedResponse struct {
	ThumbnailURL string `json:"thumbnail_url"`
}

func (s *oembedScraper) Scrape(ctx context.Context) (string, error) {
	endpoint := urlkit.Parse(s.deps.Config.OEmbedEndpoint)
	endpoint.SetQueryParam("url", s.url)
	endpoint.SetQueryParam("format", "json")
	endpoint.SetQueryParam("maxwidth", strconv.Itoa(s.deps.Config.OEmbedMaxWidth))

	resp, err := s.deps.Fetcher.Get(ctx, endpoint.String(), "")
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("oembed request: %w", err)
		}
		s.deps.Logger.Debug("oembed request failed", zap.String("url", s.url), zap.Error(err))
		return "", nil
	}

	var payload oembedResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		s.deps.Logger.Debug("oembed response malformed", zap.String("url", s.url), zap.Error(err))
		return "", nil
	}
	return payload.ThumbnailURL, nil
}
