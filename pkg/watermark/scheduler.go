package watermark

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/metrics"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/worker"
)

// ScheduleMarkerPrefix namespaces the "generation already scheduled" markers.
const ScheduleMarkerPrefix = "wm:sched:"

// DefaultSubmitTimeout bounds how long a request waits on the executor.
const DefaultSubmitTimeout = 250 * time.Millisecond

// Scheduler defers generation to an executor and keeps at most one pending
// job per (path, settings) pair.
type Scheduler struct {
	markers   cache.MarkerCache
	executor  worker.Executor
	generator *Generator
	markerTTL time.Duration
	timeout   time.Duration
}

func NewScheduler(markers cache.MarkerCache, executor worker.Executor, generator *Generator, markerTTL time.Duration) *Scheduler {
	return &Scheduler{
		markers:   markers,
		executor:  executor,
		generator: generator,
		markerTTL: markerTTL,
		timeout:   DefaultSubmitTimeout,
	}
}

// SetSubmitTimeout changes the executor bound. Non-positive values keep the
// default.
func (s *Scheduler) SetSubmitTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// DedupKey identifies a pending generation of original under s.
func DedupKey(original string, s settings.Snapshot) string {
	payload, _ := json.Marshal(s)
	return ScheduleMarkerPrefix + cache.HashKey(original, string(payload))
}

// ScheduleGeneration enqueues a generation unless one is already pending
// and reports whether it enqueued. It never waits for the generation, and
// waits on the executor for at most the submit timeout.
func (s *Scheduler) ScheduleGeneration(ctx context.Context, original string, snap settings.Snapshot) bool {
	key := DedupKey(original, snap)

	marked, err := s.markers.SetNX(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339)), s.markerTTL)
	if err != nil {
		// Without a marker we may duplicate work, which is harmless.
		slog.Debug("[SCHEDULER] Marker write failed, scheduling anyway", "path", original, "error", err)
		marked = true
	}
	if !marked {
		metrics.ScheduleTotal.WithLabelValues("deduplicated").Inc()
		return false
	}

	job := worker.Job{Key: key, Path: original, Settings: snap, EnqueuedAt: time.Now()}
	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.executor.Submit(submitCtx, job); err != nil {
		slog.Warn("[SCHEDULER] Could not enqueue generation", "path", original, "error", err)
		_ = s.markers.Delete(ctx, key)
		metrics.ScheduleTotal.WithLabelValues("rejected").Inc()
		return false
	}
	metrics.ScheduleTotal.WithLabelValues("scheduled").Inc()
	return true
}

// Handle runs a scheduled job. The marker is cleared whatever the outcome so
// a failure never blocks later attempts.
func (s *Scheduler) Handle(ctx context.Context, job worker.Job) error {
	defer func() {
		if err := s.markers.Delete(ctx, job.Key); err != nil {
			slog.Warn("[SCHEDULER] Failed to clear marker", "path", job.Path, "error", err)
		}
	}()

	path, err := s.generator.Generate(ctx, job.Path, job.Settings)
	if err != nil {
		return err
	}
	slog.Debug("[SCHEDULER] Generated derivative", "path", job.Path, "derivative", path, "queued_for", time.Since(job.EnqueuedAt))
	return nil
}

// GenerateNow generates synchronously, bypassing the queue.
func (s *Scheduler) GenerateNow(ctx context.Context, original string, snap settings.Snapshot) (string, error) {
	return s.generator.Generate(ctx, original, snap)
}
