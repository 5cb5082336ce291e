package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// StateWriter persists open session snapshots.
type StateWriter interface {
	BulkSaveStates(ctx context.Context, batch []*model.ExamSessionState) error
	SaveState(ctx context.Context, st *model.ExamSessionState) error
}

// AutosaveWorker consumes persist_sessions_queue and writes the snapshots
// the Redis store buffered to PostgreSQL.
type AutosaveWorker struct {
	b *queueBatcher[*model.ExamSessionState]
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(repo StateWriter, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{b: &queueBatcher[*model.ExamSessionState]{
		name:   "autosave",
		queue:  config.WorkerKey.PersistSessionsQueue,
		rdb:    rdb,
		log:    log.With().Str("component", "autosave_worker").Logger(),
		bulk:   repo.BulkSaveStates,
		single: repo.SaveState,
	}}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}
