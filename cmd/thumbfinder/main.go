// Package main runs the thumbnail-finder HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"thumbfinder/internal/api"
	"thumbfinder/internal/config"
	"thumbfinder/internal/logging"
	"thumbfinder/internal/scraper"
	"thumbfinder/internal/thumbnail"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finder, err := thumbnail.New(thumbnail.Config{
		UserAgent:       cfg.Scrape.UserAgent,
		ScrapeTimeout:   cfg.ScrapeTimeout(),
		FetchTimeout:    cfg.FetchTimeout(),
		CacheEntries:    cfg.Cache.MaxEntries,
		ProbeChunkBytes: cfg.Scrape.ProbeChunkBytes,
		ProbeMaxBytes:   cfg.Scrape.ProbeMaxBytes,
		Scraper: scraper.Config{
			MinArea:              cfg.Scrape.MinArea,
			MaxAspectRatio:       cfg.Scrape.MaxAspectRatio,
			SpritePenaltyDivisor: cfg.Scrape.SpritePenaltyDivisor,
			OEmbedEndpoint:       cfg.Scrape.OEmbedEndpoint,
			OEmbedMaxWidth:       cfg.Scrape.OEmbedMaxWidth,
		},
	}, logger.Named("finder"))
	if err != nil {
		logger.Fatal("finder init failed", zap.Error(err))
	}

	apiServer := api.NewServer(finder, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
