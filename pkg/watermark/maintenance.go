package watermark

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/CodeTease/wmcache/pkg/storage"
)

// CacheStats summarizes the derivatives under a root.
type CacheStats struct {
	Count          int        `json:"count"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	Oldest         *time.Time `json:"oldest,omitempty"`
	Newest         *time.Time `json:"newest,omitempty"`
}

// ListOriginals returns every image below root that is not a derivative,
// sorted.
func ListOriginals(ctx context.Context, store storage.BlobStore, root string) ([]string, error) {
	files, err := store.ListFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	originals := make([]string, 0, len(files))
	for _, f := range files {
		if IsImage(f) && !IsDerivative(f) {
			originals = append(originals, f)
		}
	}
	sort.Strings(originals)
	return originals, nil
}

func listDerivatives(ctx context.Context, store storage.BlobStore, root string) ([]string, error) {
	files, err := store.ListFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	derivatives := files[:0]
	for _, f := range files {
		if IsDerivative(f) {
			derivatives = append(derivatives, f)
		}
	}
	return derivatives, nil
}

// Stats walks the derivatives under root.
func Stats(ctx context.Context, store storage.BlobStore, root string) (CacheStats, error) {
	var stats CacheStats
	derivatives, err := listDerivatives(ctx, store, root)
	if err != nil {
		return stats, err
	}
	for _, p := range derivatives {
		info, err := store.Stat(ctx, p)
		if err != nil {
			continue // removed while walking
		}
		stats.Count++
		stats.TotalSizeBytes += info.Size
		mt := info.ModTime
		if stats.Oldest == nil || mt.Before(*stats.Oldest) {
			stats.Oldest = &mt
		}
		if stats.Newest == nil || mt.After(*stats.Newest) {
			stats.Newest = &mt
		}
	}
	return stats, nil
}

// Cleanup deletes derivatives last written before cutoff, valid or not.
func Cleanup(ctx context.Context, store storage.BlobStore, root string, cutoff time.Time) (int, error) {
	derivatives, err := listDerivatives(ctx, store, root)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, p := range derivatives {
		info, err := store.Stat(ctx, p)
		if err != nil || !info.ModTime.Before(cutoff) {
			continue
		}
		if err := store.Delete(ctx, p); err != nil {
			slog.Warn("[CLEANUP] Failed to delete derivative", "path", p, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		slog.Debug("[CLEANUP] Cleanup finished", "deleted_files", deleted)
	}
	return deleted, nil
}

// PurgeDerivatives deletes every derivative under root.
func PurgeDerivatives(ctx context.Context, store storage.BlobStore, root string) (int, error) {
	derivatives, err := listDerivatives(ctx, store, root)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, p := range derivatives {
		if err := store.Delete(ctx, p); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
