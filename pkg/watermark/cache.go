package watermark

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/metrics"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
)

// FreshMarkerPrefix namespaces the "derivative known to be fresh" markers.
const FreshMarkerPrefix = "wm:fresh:"

// Cache answers whether a usable derivative exists without decoding
// anything.
type Cache struct {
	store    storage.BlobStore
	markers  cache.MarkerCache
	freshTTL time.Duration
}

func NewCache(store storage.BlobStore, markers cache.MarkerCache, freshTTL time.Duration) *Cache {
	return &Cache{store: store, markers: markers, freshTTL: freshTTL}
}

// TryGetCached returns the derivative path for original under s when it
// exists and is at least as new as the original. A derivative whose
// original has been deleted is still served. Store errors count as misses.
func (c *Cache) TryGetCached(ctx context.Context, original string, s settings.Snapshot) (string, bool) {
	derivative := DerivativePath(original, s)

	exists, err := c.store.Exists(ctx, derivative)
	if err != nil {
		slog.Debug("[CACHE] Exists check failed", "path", derivative, "error", err)
	}
	if !exists {
		metrics.CacheOpsTotal.WithLabelValues("miss").Inc()
		return "", false
	}

	marker := FreshMarkerPrefix + derivative
	if c.markers.Has(ctx, marker) {
		metrics.CacheOpsTotal.WithLabelValues("hit_marker").Inc()
		return derivative, true
	}

	dinfo, err := c.store.Stat(ctx, derivative)
	if err != nil {
		metrics.CacheOpsTotal.WithLabelValues("miss").Inc()
		return "", false
	}
	oinfo, err := c.store.Stat(ctx, original)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Original gone: keep serving what we have.
	case err != nil:
		metrics.CacheOpsTotal.WithLabelValues("miss").Inc()
		return "", false
	case dinfo.ModTime.Before(oinfo.ModTime):
		slog.Debug("[CACHE] Stale derivative", "path", derivative)
		metrics.CacheOpsTotal.WithLabelValues("stale").Inc()
		return "", false
	}

	if err := c.markers.Set(ctx, marker, []byte{1}, c.freshTTL); err != nil {
		slog.Debug("[CACHE] Failed to record freshness marker", "path", derivative, "error", err)
	}
	metrics.CacheOpsTotal.WithLabelValues("hit_disk").Inc()
	return derivative, true
}
