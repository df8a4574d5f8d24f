// Package cache provides bounded, single-flight memoization for the pure
// functions at the heart of the scraper (page URL to thumbnail URL, image
// URL to dimensions, URL to bytes).
package cache

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"thumbfinder/internal/metrics"
)

// Memo memoizes a function of a string key. Entries are bounded by an LRU,
// and concurrent calls for the same key are collapsed into one execution
// with every caller receiving its result.
type Memo[V any] struct {
	name    string
	entries *lru.Cache[string, V]
	group   singleflight.Group
}

// NewMemo builds a Memo holding at most maxEntries values. name labels the
// cache in metrics.
func NewMemo[V any](name string, maxEntries int) (*Memo[V], error) {
	entries, err := lru.New[string, V](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}
	return &Memo[V]{name: name, entries: entries}, nil
}

// Do returns the memoized value for key, computing it with fn on a miss.
// Errors from fn are returned but never cached, so a transient failure does
// not poison the key.
func (m *Memo[V]) Do(key string, fn func() (V, error)) (V, error) {
	if v, ok := m.entries.Get(key); ok {
		metrics.CacheHitsTotal.WithLabelValues(m.name).Inc()
		return v, nil
	}

	result, err, _ := m.group.Do(key, func() (any, error) {
		// A concurrent caller may have populated the entry while this
		// one was queued behind the flight.
		if v, ok := m.entries.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		m.entries.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Len reports the number of live entries.
func (m *Memo[V]) Len() int {
	return m.entries.Len()
}

// Key builds a composite cache key from argument parts. NUL never occurs in
// a URL that survived validation, so it is a safe separator.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}
