// Package staticgc removes orphaned objects from the static-asset bucket.
// An object is an orphan when no current deploy manifest references it and
// it is old enough that no in-flight deploy could still be uploading it.
package staticgc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// ObjectInfo is the subset of object metadata the cleaner needs.
type ObjectInfo struct {
	Name    string
	Updated time.Time
}

// Bucket abstracts the storage backend so the sweep logic is testable
// without cloud credentials.
type Bucket interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, name string) error
}

// Config controls one garbage collection sweep.
type Config struct {
	// Prefix restricts the sweep to one part of the bucket.
	Prefix string
	// MinAge protects recent uploads; a deploy may reference an object
	// before the manifest naming it lands.
	MinAge time.Duration
	// IgnoredPrefixes are never touched regardless of reachability.
	IgnoredPrefixes []string
	// DryRun logs what would be deleted without deleting.
	DryRun bool
}

// Cleaner sweeps a bucket against a set of reachable object names.
type Cleaner struct {
	bucket Bucket
	cfg    Config
	logger *zap.Logger
}

// NewCleaner builds a Cleaner over any Bucket implementation.
func NewCleaner(bucket Bucket, cfg Config, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{bucket: bucket, cfg: cfg, logger: logger}
}

// LoadManifest reads a deploy manifest, one object name per line. CSS and
// JS assets are served both plain and precompressed, so their .gzip
// variants are reachable whenever the plain name is.
func LoadManifest(r io.Reader) (map[string]struct{}, error) {
	reachable := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		reachable[name] = struct{}{}
		if strings.HasSuffix(name, ".css") || strings.HasSuffix(name, ".js") {
			reachable[name+".gzip"] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return reachable, nil
}

// Clean sweeps the bucket and returns the number of objects deleted.
func (c *Cleaner) Clean(ctx context.Context, reachable map[string]struct{}) (int, error) {
	objects, err := c.bucket.List(ctx, c.cfg.Prefix)
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}
	cutoff := time.Now().Add(-c.cfg.MinAge)

	deleted := 0
	for _, obj := range objects {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if !shouldDelete(obj, cutoff, reachable, c.cfg.IgnoredPrefixes) {
			continue
		}
		if c.cfg.DryRun {
			c.logger.Info("would delete orphaned object", zap.String("name", obj.Name))
			deleted++
			continue
		}
		if err := c.bucket.Delete(ctx, obj.Name); err != nil {
			c.logger.Warn("delete failed", zap.String("name", obj.Name), zap.Error(err))
			continue
		}
		c.logger.Info("deleted orphaned object", zap.String("name", obj.Name))
		deleted++
	}
	return deleted, nil
}

// shouldDelete holds the whole sweep policy in one testable spot.
func shouldDelete(obj ObjectInfo, cutoff time.Time, reachable map[string]struct{}, ignoredPrefixes []string) bool {
	for _, prefix := range ignoredPrefixes {
		if strings.HasPrefix(obj.Name, prefix) {
			return false
		}
	}
	if !obj.Updated.Before(cutoff) {
		return false
	}
	if _, ok := reachable[obj.Name]; ok {
		return false
	}
	return true
}

// GCSBucket is the production Bucket backed by Google Cloud Storage.
type GCSBucket struct {
	client *storage.Client
	name   string
}

// NewGCSBucket initializes a GCS client and verifies the bucket is
// reachable, failing fast on bad configuration. Authentication uses
// Application Default Credentials.
func NewGCSBucket(ctx context.Context, bucketName string, logger *zap.Logger) (*GCSBucket, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close GCS client after attrs failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucketName, err)
	}
	return &GCSBucket{client: client, name: bucketName}, nil
}

// List returns name and update time for every object under prefix.
func (b *GCSBucket) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate bucket %q: %w", b.name, err)
		}
		out = append(out, ObjectInfo{Name: attrs.Name, Updated: attrs.Updated})
	}
	return out, nil
}

// Delete removes one object.
func (b *GCSBucket) Delete(ctx context.Context, name string) error {
	if err := b.client.Bucket(b.name).Object(name).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q: %w", name, err)
	}
	return nil
}

// Close releases the underlying client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}
