package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/metrics"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// queueBatcher drains a Redis list in batches: bulk write first, then row by
// row, then back onto the queue for whatever still failed.
type queueBatcher[T any] struct {
	name  string
	queue string
	rdb   *redis.Client
	log   zerolog.Logger

	bulk   func(ctx context.Context, batch []T) error
	single func(ctx context.Context, item T) error
	// drop reports errors that will never succeed on retry.
	drop func(err error) bool
}

func (b *queueBatcher[T]) run(ctx context.Context) {
	b.log.Info().Msg("Worker started")

	buffer := make([]T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		if len(buffer) > 0 &&
			(len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			b.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		result, err := b.rdb.BLPop(ctx, PollTimeout, b.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			b.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			b.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (b *queueBatcher[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}

	err := b.bulk(ctx, batch)
	if err == nil {
		metrics.WorkerFlushes.WithLabelValues(b.name, "bulk").Inc()
		return
	}
	b.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var requeue []T
	for _, item := range batch {
		if err := b.single(ctx, item); err != nil {
			if b.drop != nil && b.drop(err) {
				b.log.Error().Err(err).Msg("Dropping item that cannot be written")
				continue
			}
			requeue = append(requeue, item)
		}
	}

	if len(requeue) == 0 {
		metrics.WorkerFlushes.WithLabelValues(b.name, "fallback").Inc()
		return
	}
	metrics.WorkerFlushes.WithLabelValues(b.name, "requeued").Inc()
	b.requeue(ctx, requeue)
}

func (b *queueBatcher[T]) requeue(ctx context.Context, items []T) {
	pipe := b.rdb.Pipeline()
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, b.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	b.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleep(ctx, 2*time.Second)
}

func (b *queueBatcher[T]) shutdown(buffer []T) {
	b.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.flushSafe(ctx, buffer)

	b.log.Info().Msg("Worker stopped")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
