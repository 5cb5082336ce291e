package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// ResultWriter persists submitted sessions with their results.
type ResultWriter interface {
	BulkComplete(ctx context.Context, batch []*model.SessionResult) error
	Complete(ctx context.Context, st *model.ExamSessionState, result *model.ScoreResult) error
}

// ResultWorker consumes persist_results_queue. Results land there only when
// the synchronous write at submit time failed.
type ResultWorker struct {
	b *queueBatcher[*model.SessionResult]
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(repo ResultWriter, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{b: &queueBatcher[*model.SessionResult]{
		name:  "result",
		queue: config.WorkerKey.PersistResultsQueue,
		rdb:   rdb,
		log:   log.With().Str("component", "result_worker").Logger(),
		bulk:  repo.BulkComplete,
		single: func(ctx context.Context, sr *model.SessionResult) error {
			if sr.Session == nil || sr.Result == nil {
				return errIncomplete
			}
			return repo.Complete(ctx, sr.Session, sr.Result)
		},
		drop: isIncomplete,
	}}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}
