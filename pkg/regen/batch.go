package regen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CodeTease/wmcache/pkg/cache"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	maxErrors      = 100
	maxErrorLength = 500
)

// Batch is the persisted progress of one bulk regeneration.
// Processed == Successful + Failed in every persisted copy.
type Batch struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	TotalImages     int        `json:"total_images"`
	Processed       int        `json:"processed"`
	Successful      int        `json:"successful"`
	Failed          int        `json:"failed"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	Errors          []string   `json:"errors"`
	ErrorsTruncated int        `json:"errors_truncated,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
}

func (b *Batch) recordSuccess(now time.Time) {
	b.Processed++
	b.Successful++
	b.UpdatedAt = now
}

func (b *Batch) recordFailure(now time.Time, path string, err error) {
	b.Processed++
	b.Failed++
	b.UpdatedAt = now
	if len(b.Errors) >= maxErrors {
		b.ErrorsTruncated++
		return
	}
	msg := fmt.Sprintf("%s: %v", path, err)
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength] + "..."
	}
	b.Errors = append(b.Errors, msg)
}

// complete and fail are no-ops once the batch left processing.
func (b *Batch) complete(now time.Time) {
	if b.Status != StatusProcessing {
		return
	}
	b.Status = StatusCompleted
	b.UpdatedAt = now
	b.CompletedAt = &now
}

func (b *Batch) fail(now time.Time, reason string) {
	if b.Status != StatusProcessing {
		return
	}
	b.Status = StatusFailed
	b.UpdatedAt = now
	b.FailedAt = &now
	b.FailureReason = reason
}

// BatchPrefix namespaces batch records in their cache.
const BatchPrefix = "wm:batch:"

// BatchStore persists batches as JSON with a TTL.
type BatchStore struct {
	cache cache.MarkerCache
	ttl   time.Duration
}

func NewBatchStore(c cache.MarkerCache, ttl time.Duration) *BatchStore {
	return &BatchStore{cache: c, ttl: ttl}
}

func (s *BatchStore) Save(ctx context.Context, b *Batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, BatchPrefix+b.ID, payload, s.ttl)
}

// Get returns nil, nil for an unknown or expired batch.
func (s *BatchStore) Get(ctx context.Context, id string) (*Batch, error) {
	payload, ok := s.cache.Get(ctx, BatchPrefix+id)
	if !ok {
		return nil, nil
	}
	var b Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return &b, nil
}
