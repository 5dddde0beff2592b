// Package engine wires storage, settings, markers, the scheduler and the
// bulk orchestrator into the operations request handlers and the CLI use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/config"
	"github.com/CodeTease/wmcache/pkg/regen"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
	"github.com/CodeTease/wmcache/pkg/watermark"
	"github.com/CodeTease/wmcache/pkg/worker"
)

// State tells a caller what ApplyWatermark served.
type State string

const (
	StateOff     State = "off"     // watermarking disabled, no content, or source missing
	StateHit     State = "hit"     // fresh derivative served
	StatePending State = "pending" // original served, generation scheduled or in flight
)

// Outcome is the detailed result of Apply.
type Outcome struct {
	Path  string
	State State
}

// Deps are the collaborators an Engine runs on. Batches, Renderer and
// Executor are optional; by default batch records are kept in a local LRU,
// and the real compositor and an in-process pool are used.
type Deps struct {
	Store    storage.BlobStore
	Markers  cache.MarkerCache
	Batches  cache.MarkerCache
	Settings settings.Store
	Renderer watermark.Renderer
	Executor worker.Executor
}

type Engine struct {
	cfg      config.Config
	store    storage.BlobStore
	markers  cache.MarkerCache
	settings *settings.Manager
	loader   *settings.Loader

	cache        *watermark.Cache
	scheduler    *watermark.Scheduler
	orchestrator *regen.Orchestrator

	pool  *worker.Pool
	kafka *worker.KafkaQueue

	now func() time.Time
}

func New(cfg config.Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Markers == nil || deps.Settings == nil {
		return nil, errors.New("engine: store, markers and settings are required")
	}

	renderer := deps.Renderer
	if renderer == nil {
		c, err := watermark.NewCompositor(deps.Store, cfg.FontPath, cfg.JPEGQuality)
		if err != nil {
			return nil, err
		}
		renderer = c
	}

	e := &Engine{
		cfg:     cfg,
		store:   deps.Store,
		markers: deps.Markers,
		now:     time.Now,
	}

	executor := deps.Executor
	switch {
	case executor != nil:
	case len(cfg.KafkaBrokers) > 0:
		e.kafka = worker.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		executor = e.kafka
	default:
		e.pool = worker.NewPool(cfg.Workers, cfg.QueueSize)
		executor = e.pool
	}

	e.loader = settings.NewLoader(deps.Settings, cfg.SettingsCacheTTL)
	e.settings = settings.NewManager(deps.Settings, e.loader)

	generator := watermark.NewGenerator(deps.Store, renderer)
	e.cache = watermark.NewCache(deps.Store, deps.Markers, cfg.FreshnessTTL)
	e.scheduler = watermark.NewScheduler(deps.Markers, executor, generator, cfg.ScheduleMarkerTTL)
	e.scheduler.SetSubmitTimeout(cfg.SubmitTimeout)

	// Batch records stay out of the marker pool, whose admission policy may
	// drop a write it has already acknowledged.
	batches := deps.Batches
	if batches == nil {
		batches = cache.NewLRUCache(cfg.BatchCacheSize, cfg.BatchTTL)
	}
	e.orchestrator = regen.NewOrchestrator(
		deps.Store,
		e.scheduler,
		regen.NewBatchStore(batches, cfg.BatchTTL),
		deps.Markers,
		e.loader,
		regen.Options{
			Root:        cfg.ImagesRoot,
			Concurrency: cfg.BulkConcurrency,
			RatePerSec:  cfg.BulkRatePerSec,
		},
	)
	return e, nil
}

// Start runs the background workers of the built-in executor.
func (e *Engine) Start(ctx context.Context) {
	if e.pool != nil {
		e.pool.Start(ctx, e.scheduler.Handle)
	}
	if e.kafka != nil {
		e.kafka.Start(ctx, e.scheduler.Handle)
	}
}

// Wait blocks until pending in-process generations and running batches
// finish.
func (e *Engine) Wait() {
	if e.pool != nil {
		e.pool.Wait()
	}
	e.orchestrator.Wait()
}

// Stop drains the in-process queue, waits for running batches and closes
// the Kafka writer.
func (e *Engine) Stop() {
	if e.pool != nil {
		e.pool.Stop()
	}
	e.orchestrator.Wait()
	if e.kafka != nil {
		if err := e.kafka.Close(); err != nil {
			slog.Warn("Failed to close kafka writer", "error", err)
		}
	}
}

// Health pings the marker backend when it can be pinged.
func (e *Engine) Health(ctx context.Context) error {
	if hc, ok := e.markers.(interface{ Health(context.Context) error }); ok {
		return hc.Health(ctx)
	}
	return nil
}

func (e *Engine) Store() storage.BlobStore {
	return e.store
}

// Apply resolves what to serve for original. It never fails: any problem
// results in the original path.
func (e *Engine) Apply(ctx context.Context, original string, opts ...watermark.Option) Outcome {
	off := Outcome{Path: original, State: StateOff}

	s, err := e.loader.Get(ctx)
	if err != nil {
		slog.Warn("Failed to load watermark settings", "error", err)
		return off
	}
	s = watermark.Resolve(s, opts...)
	if !s.Active() || watermark.IsDerivative(original) {
		return off
	}

	exists, err := e.store.Exists(ctx, original)
	if err != nil || !exists {
		return off
	}

	if derivative, ok := e.cache.TryGetCached(ctx, original, s); ok {
		return Outcome{Path: derivative, State: StateHit}
	}

	e.scheduler.ScheduleGeneration(ctx, original, s)
	return Outcome{Path: original, State: StatePending}
}

// ApplyWatermark returns the path to serve for original: a fresh derivative
// when one exists, otherwise the original (scheduling generation when
// watermarking applies).
func (e *Engine) ApplyWatermark(ctx context.Context, original string, opts ...watermark.Option) string {
	return e.Apply(ctx, original, opts...).Path
}

// GenerateWatermarkNow produces the derivative synchronously. With
// watermarking inactive it returns original and no error.
func (e *Engine) GenerateWatermarkNow(ctx context.Context, original string, opts ...watermark.Option) (string, error) {
	s, err := e.loader.Get(ctx)
	if err != nil {
		return original, err
	}
	s = watermark.Resolve(s, opts...)
	if !s.Active() {
		return original, nil
	}
	exists, err := e.store.Exists(ctx, original)
	if err != nil {
		return original, err
	}
	if !exists {
		return original, &watermark.SourceNotFoundError{Path: original}
	}
	return e.scheduler.GenerateNow(ctx, original, s)
}

func (e *Engine) CacheStats(ctx context.Context) (watermark.CacheStats, error) {
	return watermark.Stats(ctx, e.store, e.cfg.ImagesRoot)
}

// CleanupOldCache deletes derivatives written more than daysOld days ago.
func (e *Engine) CleanupOldCache(ctx context.Context, daysOld int) (int, error) {
	if daysOld < 0 {
		return 0, fmt.Errorf("days must be >= 0, got %d", daysOld)
	}
	cutoff := e.now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	return watermark.Cleanup(ctx, e.store, e.cfg.ImagesRoot, cutoff)
}

func (e *Engine) TriggerBulkRegeneration(ctx context.Context, newSettings settings.Snapshot, oldSettings *settings.Snapshot) (string, error) {
	return e.orchestrator.TriggerRegeneration(ctx, newSettings, oldSettings)
}

// RegenerateAll starts a batch for the current settings unconditionally.
func (e *Engine) RegenerateAll(ctx context.Context) (string, error) {
	s, err := e.loader.Get(ctx)
	if err != nil {
		return "", err
	}
	return e.orchestrator.TriggerRegeneration(ctx, s, nil)
}

func (e *Engine) BatchStatus(ctx context.Context, id string) (*regen.Batch, error) {
	return e.orchestrator.Status(ctx, id)
}

// Settings returns the current snapshot.
func (e *Engine) Settings(ctx context.Context) (settings.Snapshot, error) {
	return e.loader.Get(ctx)
}

// UpdateSettings stores values and, when they change rendered output,
// starts a bulk regeneration whose ID is returned. Otherwise the ID is
// empty.
func (e *Engine) UpdateSettings(ctx context.Context, values map[string]string) (string, error) {
	change, err := e.settings.Update(ctx, values)
	if err != nil {
		return "", err
	}
	if !change.Visual {
		slog.Debug("Settings updated without visual change", "keys", change.Keys)
		return "", nil
	}
	return e.orchestrator.TriggerRegeneration(ctx, change.New, &change.Old)
}

// StartCleaner deletes derivatives older than the configured retention on
// every interval until ctx is done.
func (e *Engine) StartCleaner(ctx context.Context) {
	if e.cfg.CacheRetentionDays <= 0 || e.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Debug("[CLEANUP] Starting cache cleanup...")
			if _, err := e.CleanupOldCache(ctx, e.cfg.CacheRetentionDays); err != nil {
				slog.Error("[CLEANUP] Error walking cache", "error", err)
			}
		}
	}
}
