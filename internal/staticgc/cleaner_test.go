package staticgc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBucket serves a fixed listing and records deletions.
type fakeBucket struct {
	objects []ObjectInfo
	deleted []string
}

func (b *fakeBucket) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for _, obj := range b.objects {
		if strings.HasPrefix(obj.Name, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (b *fakeBucket) Delete(_ context.Context, name string) error {
	b.deleted = append(b.deleted, name)
	return nil
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()

	manifest := strings.NewReader(strings.Join([]string{
		"static/thumb-abc123.png",
		"static/app.css",
		"static/app.js",
		"",
		"  static/logo.png  ",
	}, "\n"))

	reachable, err := LoadManifest(manifest)
	require.NoError(t, err)

	for _, want := range []string{
		"static/thumb-abc123.png",
		"static/app.css",
		"static/app.css.gzip",
		"static/app.js",
		"static/app.js.gzip",
		"static/logo.png",
	} {
		assert.Contains(t, reachable, want)
	}
	assert.Len(t, reachable, 6)
}

func TestShouldDelete(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)
	fresh := cutoff.Add(time.Hour)
	reachable := map[string]struct{}{"static/kept.png": {}}
	ignored := []string{"static/permanent/"}

	tests := []struct {
		name string
		obj  ObjectInfo
		want bool
	}{
		{"old orphan", ObjectInfo{"static/orphan.png", old}, true},
		{"reachable", ObjectInfo{"static/kept.png", old}, false},
		{"too fresh", ObjectInfo{"static/orphan2.png", fresh}, false},
		{"exactly at cutoff", ObjectInfo{"static/edge.png", cutoff}, false},
		{"ignored prefix", ObjectInfo{"static/permanent/seal.png", old}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, shouldDelete(tc.obj, cutoff, reachable, ignored))
		})
	}
}

func TestCleanDeletesOnlyOrphans(t *testing.T) {
	t.Parallel()

	now := time.Now()
	bucket := &fakeBucket{objects: []ObjectInfo{
		{"static/orphan.png", now.Add(-48 * time.Hour)},
		{"static/kept.png", now.Add(-48 * time.Hour)},
		{"static/fresh.png", now.Add(-time.Hour)},
		{"static/permanent/seal.png", now.Add(-48 * time.Hour)},
		{"uploads/out-of-prefix.png", now.Add(-48 * time.Hour)},
	}}

	cleaner := NewCleaner(bucket, Config{
		Prefix:          "static/",
		MinAge:          24 * time.Hour,
		IgnoredPrefixes: []string{"static/permanent/"},
	}, zap.NewNop())

	deleted, err := cleaner.Clean(context.Background(), map[string]struct{}{
		"static/kept.png": {},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"static/orphan.png"}, bucket.deleted)
}

func TestCleanDryRun(t *testing.T) {
	t.Parallel()

	bucket := &fakeBucket{objects: []ObjectInfo{
		{"static/orphan.png", time.Now().Add(-48 * time.Hour)},
	}}
	cleaner := NewCleaner(bucket, Config{
		Prefix: "static/",
		MinAge: 24 * time.Hour,
		DryRun: true,
	}, zap.NewNop())

	deleted, err := cleaner.Clean(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, deleted, "dry run still counts candidates")
	assert.Empty(t, bucket.deleted, "dry run must not delete")
}
