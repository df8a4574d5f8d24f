// Package api exposes the HTTP interface for the thumbnail service.
//
// The thumbnail endpoint speaks plain text: a URL on success, the literal
// string "null" when no thumbnail exists. Consumers embed the response
// directly, so errors inside a scrape never surface as HTTP errors.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"thumbfinder/internal/metrics"
)

// noThumbnail is the literal body returned when a page has no thumbnail.
const noThumbnail = "null"

// Finder is the slice of the thumbnail service the handlers need.
type Finder interface {
	ThumbnailURL(ctx context.Context, pageURL string) string
	FetchBytes(ctx context.Context, url string) []byte
}

// Server wires HTTP handlers to the thumbnail finder.
type Server struct {
	router chi.Router
	finder Finder
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(finder Finder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{finder: finder, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v0", func(r chi.Router) {
		r.Get("/thumbnail", s.getThumbnail)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) getThumbnail(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("page_url")
	if pageURL == "" {
		writeText(w, http.StatusBadRequest, "page_url is required")
		return
	}

	thumb := s.finder.ThumbnailURL(r.Context(), pageURL)

	if previewRequested(r) {
		s.servePreview(w, r, thumb)
		return
	}

	if thumb == "" {
		writeText(w, http.StatusOK, noThumbnail)
		return
	}
	writeText(w, http.StatusOK, thumb)
}

// servePreview proxies the thumbnail bytes so browsers pointed at the API
// can see the result without a cross-origin fetch.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request, thumb string) {
	if thumb == "" {
		writeText(w, http.StatusOK, noThumbnail)
		return
	}
	body := s.finder.FetchBytes(r.Context(), thumb)
	if body == nil {
		writeText(w, http.StatusOK, noThumbnail)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(body))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("write preview failed", zap.Error(err))
	}
}

// previewRequested treats both ?preview and ?preview=true as a request for
// the image bytes.
func previewRequested(r *http.Request) bool {
	values, ok := r.URL.Query()["preview"]
	if !ok || len(values) == 0 {
		return false
	}
	return values[0] == "" || values[0] == "true"
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeText(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
