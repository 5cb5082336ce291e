package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

var errIncomplete = errors.New("incomplete queue item")

func isIncomplete(err error) bool {
	return errors.Is(err, errIncomplete)
}

// EventWriter appends to the session activity log.
type EventWriter interface {
	CopyBatch(ctx context.Context, batch []*model.SessionEvent) error
	Insert(ctx context.Context, e *model.SessionEvent) error
}

// ActivityWorker consumes persist_session_events_queue and COPYs the events
// into session_events.
type ActivityWorker struct {
	b *queueBatcher[*model.SessionEvent]
}

// NewActivityWorker creates a new ActivityWorker.
func NewActivityWorker(repo EventWriter, rdb *redis.Client, log zerolog.Logger) *ActivityWorker {
	return &ActivityWorker{b: &queueBatcher[*model.SessionEvent]{
		name:   "activity",
		queue:  config.WorkerKey.PersistEventsQueue,
		rdb:    rdb,
		log:    log.With().Str("component", "activity_worker").Logger(),
		bulk:   repo.CopyBatch,
		single: repo.Insert,
	}}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ActivityWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

// ActivityQueue records session events by pushing them onto the activity
// queue. Recording never fails the caller's operation.
type ActivityQueue struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewActivityQueue creates a new ActivityQueue.
func NewActivityQueue(rdb *redis.Client, log zerolog.Logger) *ActivityQueue {
	return &ActivityQueue{
		rdb: rdb,
		log: log.With().Str("component", "activity_queue").Logger(),
	}
}

func (q *ActivityQueue) Record(ctx context.Context, e *model.SessionEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		q.log.Error().Err(err).Msg("Failed to marshal session event")
		return
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, data).Err(); err != nil {
		q.log.Warn().Err(err).
			Str("session_id", e.SessionID.String()).
			Str("type", string(e.Type)).
			Msg("Failed to queue session event")
	}
}
