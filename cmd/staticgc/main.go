// Package main runs one garbage collection sweep over the static bucket,
// deleting stale objects no deploy manifest references anymore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"thumbfinder/internal/config"
	"thumbfinder/internal/logging"
	"thumbfinder/internal/staticgc"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	manifestPath := flag.String("manifest", "", "Path to the deploy manifest of reachable objects")
	dryRun := flag.Bool("dry-run", false, "Log deletions without performing them")
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

	if cfg.StaticGC.Bucket == "" {
		logger.Fatal("static_gc.bucket must be set")
	}
	if *manifestPath == "" {
		logger.Fatal("-manifest is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifest, err := os.Open(*manifestPath)
	if err != nil {
		logger.Fatal("open manifest failed", zap.Error(err))
	}
	reachable, err := staticgc.LoadManifest(manifest)
	if closeErr := manifest.Close(); closeErr != nil {
		logger.Warn("close manifest failed", zap.Error(closeErr))
	}
	if err != nil {
		logger.Fatal("load manifest failed", zap.Error(err))
	}
	logger.Info("manifest loaded", zap.Int("reachable", len(reachable)))

	bucket, err := staticgc.NewGCSBucket(ctx, cfg.StaticGC.Bucket, logger)
	if err != nil {
		logger.Fatal("bucket init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := bucket.Close(); closeErr != nil {
			logger.Warn("close bucket client failed", zap.Error(closeErr))
		}
	}()

	cleaner := staticgc.NewCleaner(bucket, staticgc.Config{
		Prefix:          cfg.StaticGC.Prefix,
		MinAge:          cfg.MinObjectAge(),
		IgnoredPrefixes: cfg.StaticGC.IgnoredPrefixes,
		DryRun:          *dryRun,
	}, logger.Named("staticgc"))

	deleted, err := cleaner.Clean(ctx, reachable)
	if err != nil {
		logger.Fatal("sweep failed", zap.Error(err), zap.Int("deleted", deleted))
	}
	logger.Info("sweep complete", zap.Int("deleted", deleted), zap.Bool("dry_run", *dryRun))
}
