// Package imagesize determines the pixel dimensions of a remote image while
// downloading as little of it as possible.
package imagesize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"

	"go.uber.org/zap"

	"thumbfinder/internal/metrics"

	// Header decoders for the formats worth probing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultChunkSize is how much of the body is pulled per read before
	// the header decode is retried.
	DefaultChunkSize = 1024

	// DefaultMaxBytes bounds a probe that never yields a header; without a
	// cap an unrecognized format would be downloaded in full just to fail.
	DefaultMaxBytes = 1 << 20

	// sniffLen is enough bytes for every registered format to declare
	// itself; an unknown-format error past this point is final.
	sniffLen = 32
)

// Dimensions is a probed width and height in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// Area returns the pixel area.
func (d Dimensions) Area() int {
	return d.Width * d.Height
}

// AspectRatio returns the long side divided by the short side, or 0 for a
// degenerate image.
func (d Dimensions) AspectRatio() float64 {
	long, short := d.Width, d.Height
	if short > long {
		long, short = short, long
	}
	if short == 0 {
		return 0
	}
	return float64(long) / float64(short)
}

// Streamer opens a raw GET body for incremental reading.
type Streamer interface {
	Stream(ctx context.Context, url, referer string) (io.ReadCloser, error)
}

// Prober reads a remote image in small chunks, retrying a header-only decode
// after each one, and closes the connection the moment dimensions are known.
type Prober struct {
	streamer  Streamer
	chunkSize int
	maxBytes  int
	logger    *zap.Logger
}

// New builds a Prober. Zero chunkSize or maxBytes pick the defaults.
func New(streamer Streamer, chunkSize, maxBytes int, logger *zap.Logger) *Prober {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		streamer:  streamer,
		chunkSize: chunkSize,
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

// Probe fetches url and reports its dimensions, or ok=false when the URL is
// unreachable, the stream ends first, or the format never yields a header.
// referer is sent with the request since some hosts gate images on it.
func (p *Prober) Probe(ctx context.Context, url, referer string) (Dimensions, bool) {
	rc, err := p.streamer.Stream(ctx, url, referer)
	if err != nil {
		p.logger.Debug("probe stream failed", zap.String("url", url), zap.Error(err))
		return Dimensions{}, false
	}
	defer func() {
		_ = rc.Close()
	}()

	dims, ok := p.decodeIncrementally(rc)
	return dims, ok
}

func (p *Prober) decodeIncrementally(r io.Reader) (Dimensions, bool) {
	buf := make([]byte, 0, p.chunkSize*4)
	chunk := make([]byte, p.chunkSize)
	defer func() {
		metrics.ProbeBytesRead.Observe(float64(len(buf)))
	}()

	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
			if err == nil {
				return Dimensions{Width: cfg.Width, Height: cfg.Height}, true
			}
			if errors.Is(err, image.ErrFormat) && len(buf) >= sniffLen {
				// No registered decoder claims these bytes; more data
				// will not change that.
				return Dimensions{}, false
			}
			if len(buf) >= p.maxBytes {
				return Dimensions{}, false
			}
		}
		if readErr != nil {
			return Dimensions{}, false
		}
	}
}
