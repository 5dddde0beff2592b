package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Ensure KafkaQueue implements Executor
var _ Executor = (*KafkaQueue)(nil)

// KafkaQueue publishes jobs to a topic and consumes them in a consumer
// group, so generation can run on processes other than the one serving.
type KafkaQueue struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	groupID string
}

func NewKafkaQueue(brokers []string, topic, groupID string) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			// Submit must not wait for a batch to fill up.
			BatchTimeout: 10 * time.Millisecond,
			// Callers bound Submit with a deadline; retrying past it is wasted.
			MaxAttempts: 2,
			Async:       false,
		},
		brokers: brokers,
		topic:   topic,
		groupID: groupID,
	}
}

// Submit publishes job and waits for the broker ack or ctx, whichever comes
// first.
func (q *KafkaQueue) Submit(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	// Keyed by dedup key so repeats of one derivative land on one partition.
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(job.Key), Value: payload}); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Start consumes jobs until ctx is cancelled.
func (q *KafkaQueue) Start(ctx context.Context, handle HandlerFunc) {
	go q.consume(ctx, handle)
}

func (q *KafkaQueue) consume(ctx context.Context, handle HandlerFunc) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: q.brokers,
		Topic:   q.topic,
		GroupID: q.groupID,
	})
	defer reader.Close()

	slog.Info("[WORKER] Kafka consumer started", "topic", q.topic, "group", q.groupID)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("[WORKER] Kafka consumer stopped")
				return
			}
			slog.Warn("[WORKER] Failed to fetch message", "error", err)
			continue
		}

		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			slog.Warn("[WORKER] Dropping malformed job", "offset", msg.Offset, "error", err)
		} else if err := handle(ctx, job); err != nil {
			slog.Warn("[WORKER] Job failed", "path", job.Path, "error", err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			slog.Warn("[WORKER] Failed to commit message", "offset", msg.Offset, "error", err)
		}
	}
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
