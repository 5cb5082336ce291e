package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/store"
)

const SweepBatchSize = 100

// ForceSubmitter closes overdue sessions.
type ForceSubmitter interface {
	ForceSubmit(ctx context.Context, sessionID uuid.UUID) error
}

// DeadlineWorker periodically submits sessions whose countdown is not
// running in any process, e.g. after a restart or when the candidate
// disconnected. Each index is asked in turn; ids found in several are
// submitted once per sweep.
type DeadlineWorker struct {
	indexes  []store.DeadlineIndex
	submit   ForceSubmitter
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewDeadlineWorker creates a new DeadlineWorker.
func NewDeadlineWorker(submit ForceSubmitter, interval time.Duration, log zerolog.Logger, indexes ...store.DeadlineIndex) *DeadlineWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DeadlineWorker{
		indexes:  indexes,
		submit:   submit,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep submits every overdue session found and returns how many it closed.
func (w *DeadlineWorker) Sweep(ctx context.Context) int {
	now := w.now()
	seen := make(map[uuid.UUID]struct{})
	submitted := 0

	for _, idx := range w.indexes {
		ids, err := idx.Overdue(ctx, now, SweepBatchSize)
		if err != nil {
			w.log.Error().Err(err).Msg("Failed to list overdue sessions")
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			if err := w.submit.ForceSubmit(ctx, id); err != nil {
				if errors.Is(err, store.ErrSessionNotFound) {
					continue
				}
				w.log.Error().Err(err).Str("session_id", id.String()).Msg("Forced submission failed")
				continue
			}
			submitted++
		}
	}

	if submitted > 0 {
		w.log.Info().Int("count", submitted).Msg("Overdue sessions swept")
	}
	return submitted
}
