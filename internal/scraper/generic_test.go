package scraper

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"thumbfinder/internal/fetch"
	"thumbfinder/internal/imagesize"
)

// testDeps wires the real fetch client and prober so the heuristics are
// exercised over actual HTTP.
func testDeps(t *testing.T) Deps {
	t.Helper()
	client := fetch.New(fetch.Config{UserAgent: "test-agent", Timeout: 5 * time.Second}, zap.NewNop())
	return Deps{
		Fetcher: client,
		Prober:  imagesize.New(client, 0, 0, zap.NewNop()),
		Config:  DefaultConfig(),
		Logger:  zap.NewNop(),
	}
}

func writePNG(t *testing.T, w http.ResponseWriter, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 7 {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// imageMux serves synthetic PNGs from a path→dimensions table and HTML
// pages from a path→body table.
func imageMux(t *testing.T, images map[string][2]int, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, dims := range images {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			writePNG(t, w, dims[0], dims[1])
		})
	}
	for path, body := range pages {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapePageThatIsAnImage(t *testing.T) {
	t.Parallel()

	srv := imageMux(t, map[string][2]int{"/photo.png": {100, 100}}, nil)
	pageURL := srv.URL + "/photo.png"

	got, err := ForURL(pageURL, testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != pageURL {
		t.Fatalf("got %q, want the page URL itself", got)
	}
}

func TestOpenGraphTakesPrecedence(t *testing.T) {
	t.Parallel()

	page := `<html><head>
		<meta property="og:image" content="/og-thumb.png">
	</head><body>
		<img src="/huge.png">
	</body></html>`
	srv := imageMux(t,
		map[string][2]int{"/og-thumb.png": {10, 10}, "/huge.png": {500, 500}},
		map[string]string{"/post": page},
	)

	got, err := ForURL(srv.URL+"/post", testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != srv.URL+"/og-thumb.png" {
		t.Fatalf("got %q, want the og:image value over the larger embed", got)
	}
}

func TestOpenGraphSpellings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		meta string
	}{
		{"property og:image", `<meta property="og:image" content="/t.png">`},
		{"name og:image", `<meta name="og:image" content="/t.png">`},
		{"property og:image:url", `<meta property="og:image:url" content="/t.png">`},
		{"name og:image:url", `<meta name="og:image:url" content="/t.png">`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			page := "<html><head>" + tc.meta + "</head><body></body></html>"
			srv := imageMux(t, nil, map[string]string{"/p": page})

			got, err := ForURL(srv.URL+"/p", testDeps(t)).Scrape(context.Background())
			if err != nil {
				t.Fatalf("Scrape() error = %v", err)
			}
			if got != srv.URL+"/t.png" {
				t.Fatalf("got %q", got)
			}
		})
	}
}

func TestDeclaredThumbnailLink(t *testing.T) {
	t.Parallel()

	page := `<html><head>
		<link rel="image_src" href="/declared.png">
	</head><body></body></html>`
	srv := imageMux(t, nil, map[string]string{"/p": page})

	got, err := ForURL(srv.URL+"/p", testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != srv.URL+"/declared.png" {
		t.Fatalf("got %q", got)
	}
}

func TestLargestImageFilters(t *testing.T) {
	t.Parallel()

	// 80x50 = 4000 falls below the area floor; 450x150 = 67500 is 3:1 and
	// rejected on aspect ratio; 80x75 = 6000 survives and wins.
	page := `<html><body>
		<img src="/tiny.png">
		<img src="/banner.png">
		<img src="/keeper.png">
	</body></html>`
	srv := imageMux(t,
		map[string][2]int{
			"/tiny.png":   {80, 50},
			"/banner.png": {450, 150},
			"/keeper.png": {80, 75},
		},
		map[string]string{"/p": page},
	)

	got, err := ForURL(srv.URL+"/p", testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != srv.URL+"/keeper.png" {
		t.Fatalf("got %q, want the mid-sized image", got)
	}
}

func TestSpritePenalty(t *testing.T) {
	t.Parallel()

	// Equal raw area; the sprite sheet's score is divided by ten, so the
	// plain image must win regardless of document order.
	page := `<html><body>
		<img src="/sprite-sheet.png">
		<img src="/plain.png">
	</body></html>`
	srv := imageMux(t,
		map[string][2]int{
			"/sprite-sheet.png": {200, 100},
			"/plain.png":        {200, 100},
		},
		map[string]string{"/p": page},
	)

	got, err := ForURL(srv.URL+"/p", testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != srv.URL+"/plain.png" {
		t.Fatalf("got %q, want the non-sprite image", got)
	}
}

func TestProtocolRelativeImageCoercion(t *testing.T) {
	t.Parallel()

	srv := imageMux(t, map[string][2]int{"/img.png": {100, 100}}, nil)
	host := strings.TrimPrefix(srv.URL, "http://")
	page := fmt.Sprintf(`<html><body><img src="//%s/img.png"></body></html>`, host)

	mux := http.NewServeMux()
	mux.HandleFunc("/p", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	})
	pageSrv := httptest.NewServer(mux)
	t.Cleanup(pageSrv.Close)

	got, err := ForURL(pageSrv.URL+"/p", testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != srv.URL+"/img.png" {
		t.Fatalf("got %q, want scheme-coerced image URL", got)
	}
}

func TestNonHTMLNonImageYieldsNothing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"not": "a page"}`))
	}))
	t.Cleanup(srv.Close)

	got, err := ForURL(srv.URL, testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want no result", got)
	}
}

func TestPageFetchFailureIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	if _, err := ForURL(srv.URL, testDeps(t)).Scrape(context.Background()); err == nil {
		t.Fatal("expected error when the page itself cannot be fetched")
	}
}

func TestUnprobeableImagesSkipped(t *testing.T) {
	t.Parallel()

	// The dead link must not prevent the good image from being chosen.
	page := `<html><body>
		<img src="http://127.0.0.1:1/dead.png">
		<img src="/good.png">
	</body></html>`
	srv := imageMux(t,
		map[string][2]int{"/good.png": {100, 100}},
		map[string]string{"/p": page},
	)

	got, err := ForURL(srv.URL+"/p", testDeps(t)).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got != srv.URL+"/good.png" {
		t.Fatalf("got %q", got)
	}
}
