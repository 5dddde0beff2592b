// Package regen wipes the derivative cache after a visual settings change
// and regenerates it as a tracked background batch.
package regen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/metrics"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
	"github.com/CodeTease/wmcache/pkg/watermark"
)

// ErrNoVisualChange is returned when old and new settings render the same.
var ErrNoVisualChange = errors.New("regen: settings change does not affect rendered output")

// BatchFatalError means a batch could not be started. BatchID is empty when
// no batch record was created.
type BatchFatalError struct {
	BatchID string
	Err     error
}

func (e *BatchFatalError) Error() string {
	if e.BatchID == "" {
		return fmt.Sprintf("bulk regeneration failed to start: %v", e.Err)
	}
	return fmt.Sprintf("bulk regeneration %s failed: %v", e.BatchID, e.Err)
}

func (e *BatchFatalError) Unwrap() error {
	return e.Err
}

// Generator produces one derivative synchronously.
type Generator interface {
	GenerateNow(ctx context.Context, original string, s settings.Snapshot) (string, error)
}

// SnapshotInvalidator drops a cached settings snapshot.
type SnapshotInvalidator interface {
	Invalidate()
}

type Options struct {
	// Root is the directory whose originals are regenerated.
	Root string
	// Concurrency bounds parallel generations within a batch.
	Concurrency int
	// RatePerSec paces generations; 0 means unlimited.
	RatePerSec float64
}

type Orchestrator struct {
	store     storage.BlobStore
	generator Generator
	batches   *BatchStore
	markers   cache.MarkerCache
	snapshots SnapshotInvalidator

	root        string
	concurrency int
	limiter     *rate.Limiter

	now   func() time.Time
	newID func() string

	running sync.WaitGroup
}

func NewOrchestrator(store storage.BlobStore, generator Generator, batches *BatchStore, markers cache.MarkerCache, snapshots SnapshotInvalidator, opts Options) *Orchestrator {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		store:       store,
		generator:   generator,
		batches:     batches,
		markers:     markers,
		snapshots:   snapshots,
		root:        opts.Root,
		concurrency: opts.Concurrency,
		limiter:     limiter,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// TriggerRegeneration invalidates every derivative and starts regenerating
// the originals under newSettings in the background. When oldSettings is
// given and renders the same as newSettings nothing happens and
// ErrNoVisualChange is returned. Start-up failures are *BatchFatalError.
func (o *Orchestrator) TriggerRegeneration(ctx context.Context, newSettings settings.Snapshot, oldSettings *settings.Snapshot) (string, error) {
	if oldSettings != nil && settings.VisuallyEqual(newSettings, *oldSettings) {
		return "", ErrNoVisualChange
	}

	now := o.now()
	b := &Batch{
		ID:        o.newID(),
		Status:    StatusProcessing,
		StartedAt: now,
		UpdatedAt: now,
		Errors:    []string{},
	}
	if err := o.batches.Save(ctx, b); err != nil {
		return "", &BatchFatalError{Err: fmt.Errorf("create batch record: %w", err)}
	}

	var images []string
	// Disabled or empty settings only need the invalidation.
	if newSettings.Active() {
		var err error
		images, err = watermark.ListOriginals(ctx, o.store, o.root)
		if err != nil {
			o.abort(ctx, b, fmt.Sprintf("enumerate images: %v", err))
			return b.ID, &BatchFatalError{BatchID: b.ID, Err: err}
		}
	}

	b.TotalImages = len(images)
	b.UpdatedAt = o.now()
	if err := o.batches.Save(ctx, b); err != nil {
		o.abort(ctx, b, fmt.Sprintf("update batch record: %v", err))
		return b.ID, &BatchFatalError{BatchID: b.ID, Err: fmt.Errorf("update batch record: %w", err)}
	}

	o.invalidate(ctx)

	slog.Info("[REGEN] Batch started", "batch", b.ID, "images", b.TotalImages)
	o.running.Add(1)
	metrics.BatchesInFlight.Inc()
	go o.run(context.WithoutCancel(ctx), b, images, newSettings)

	return b.ID, nil
}

// abort marks b failed and makes a best effort to persist that, so a batch
// that never started is not left looking like it is processing.
func (o *Orchestrator) abort(ctx context.Context, b *Batch, reason string) {
	b.fail(o.now(), reason)
	if err := o.batches.Save(ctx, b); err != nil {
		slog.Error("[REGEN] Failed to persist failed batch", "batch", b.ID, "error", err)
	}
}

// invalidate removes derivatives and every marker that could point at one.
// Failures are logged: stale derivatives sit under old hashes and are
// never served once the settings hash changes.
func (o *Orchestrator) invalidate(ctx context.Context) {
	deleted, err := watermark.PurgeDerivatives(ctx, o.store, o.root)
	if err != nil {
		slog.Warn("[REGEN] Derivative purge incomplete", "deleted", deleted, "error", err)
	}
	if o.snapshots != nil {
		o.snapshots.Invalidate()
	}
	for _, prefix := range []string{watermark.FreshMarkerPrefix, watermark.ScheduleMarkerPrefix} {
		if _, err := o.markers.DeletePrefix(ctx, prefix); err != nil {
			slog.Warn("[REGEN] Failed to clear markers", "prefix", prefix, "error", err)
		}
	}
	slog.Debug("[REGEN] Cache invalidated", "deleted_derivatives", deleted)
}

func (o *Orchestrator) run(ctx context.Context, b *Batch, images []string, s settings.Snapshot) {
	defer o.running.Done()
	defer metrics.BatchesInFlight.Dec()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.concurrency)

	for _, p := range images {
		g.Go(func() error {
			err := o.limiter.Wait(ctx)
			if err == nil {
				_, err = o.generator.GenerateNow(ctx, p, s)
			}

			// Saving under the lock keeps persisted progress monotonic.
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("[REGEN] Image failed", "batch", b.ID, "path", p, "error", err)
				metrics.BatchImagesTotal.WithLabelValues("failure").Inc()
				b.recordFailure(o.now(), p, err)
			} else {
				metrics.BatchImagesTotal.WithLabelValues("success").Inc()
				b.recordSuccess(o.now())
			}
			if err := o.batches.Save(ctx, b); err != nil {
				slog.Warn("[REGEN] Failed to persist progress", "batch", b.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	b.complete(o.now())
	if err := o.batches.Save(ctx, b); err != nil {
		slog.Error("[REGEN] Failed to persist completed batch", "batch", b.ID, "error", err)
	}
	slog.Info("[REGEN] Batch completed", "batch", b.ID, "successful", b.Successful, "failed", b.Failed)
}

// Status returns the persisted batch, or nil when it is unknown or expired.
func (o *Orchestrator) Status(ctx context.Context, id string) (*Batch, error) {
	return o.batches.Get(ctx, id)
}

// Wait blocks until every batch started so far has finished.
func (o *Orchestrator) Wait() {
	o.running.Wait()
}
