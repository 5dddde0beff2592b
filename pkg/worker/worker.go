// Package worker runs deferred watermark generation off the request path,
// either in-process or through Kafka.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/CodeTease/wmcache/pkg/settings"
)

var (
	// ErrQueueFull is returned by Submit when the executor cannot accept more
	// work without blocking the caller.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker: stopped")
)

// Job asks for one derivative to be generated.
type Job struct {
	Key        string            `json:"key"`
	Path       string            `json:"path"`
	Settings   settings.Snapshot `json:"settings"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// HandlerFunc processes a job. Errors are logged by the executor; jobs are
// not retried.
type HandlerFunc func(ctx context.Context, job Job) error

// Executor accepts jobs without waiting for them to run.
type Executor interface {
	Submit(ctx context.Context, job Job) error
}
