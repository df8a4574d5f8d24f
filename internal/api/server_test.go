package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// stubFinder returns canned results and records lookups.
type stubFinder struct {
	thumbs map[string]string
	bodies map[string][]byte
	calls  []string
}

func (f *stubFinder) ThumbnailURL(_ context.Context, pageURL string) string {
	f.calls = append(f.calls, pageURL)
	return f.thumbs[pageURL]
}

func (f *stubFinder) FetchBytes(_ context.Context, url string) []byte {
	return f.bodies[url]
}

func doRequest(t *testing.T, finder Finder, target string) *http.Response {
	t.Helper()
	srv := httptest.NewServer(NewServer(finder, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL + target)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestGetThumbnail(t *testing.T) {
	t.Parallel()

	finder := &stubFinder{thumbs: map[string]string{
		"http://example.com/post": "http://example.com/thumb.png",
	}}
	resp := doRequest(t, finder, "/api/v0/thumbnail?page_url=http%3A%2F%2Fexample.com%2Fpost")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if got := readBody(t, resp); got != "http://example.com/thumb.png" {
		t.Fatalf("body = %q", got)
	}
}

func TestGetThumbnailNone(t *testing.T) {
	t.Parallel()

	resp := doRequest(t, &stubFinder{}, "/api/v0/thumbnail?page_url=http%3A%2F%2Fexample.com%2Fbare")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "null" {
		t.Fatalf("body = %q, want the null literal", got)
	}
}

func TestGetThumbnailMissingParam(t *testing.T) {
	t.Parallel()

	resp := doRequest(t, &stubFinder{}, "/api/v0/thumbnail")

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetThumbnailPreview(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\nrest of image")
	finder := &stubFinder{
		thumbs: map[string]string{"http://example.com/post": "http://cdn.example.com/t.png"},
		bodies: map[string][]byte{"http://cdn.example.com/t.png": png},
	}

	for _, preview := range []string{"preview=true", "preview"} {
		resp := doRequest(t, finder, "/api/v0/thumbnail?page_url=http%3A%2F%2Fexample.com%2Fpost&"+preview)

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
			t.Fatalf("content type = %q, want sniffed image/png", ct)
		}
		if got := readBody(t, resp); got != string(png) {
			t.Fatalf("body = %q", got)
		}
	}
}

func TestGetThumbnailPreviewUnfetchable(t *testing.T) {
	t.Parallel()

	finder := &stubFinder{
		thumbs: map[string]string{"http://example.com/post": "http://cdn.example.com/gone.png"},
	}
	resp := doRequest(t, finder, "/api/v0/thumbnail?page_url=http%3A%2F%2Fexample.com%2Fpost&preview=true")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "null" {
		t.Fatalf("body = %q, want the null literal", got)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	resp := doRequest(t, &stubFinder{}, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	resp := doRequest(t, &stubFinder{}, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := readBody(t, resp); !strings.Contains(got, "# HELP") {
		t.Fatal("expected prometheus exposition output")
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	resp := doRequest(t, &stubFinder{}, "/healthz")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}
