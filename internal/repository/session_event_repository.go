package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// SessionEventRepository writes the session activity log.
type SessionEventRepository struct {
	pool *pgxpool.Pool
}

// NewSessionEventRepository creates a new SessionEventRepository.
func NewSessionEventRepository(pool *pgxpool.Pool) *SessionEventRepository {
	return &SessionEventRepository{pool: pool}
}

// CopyBatch bulk-inserts events with COPY.
func (r *SessionEventRepository) CopyBatch(ctx context.Context, batch []*model.SessionEvent) error {
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []any{
			e.SessionID, e.ExamID, e.CandidateID, string(e.Type), eventData(e), e.RecordedAt,
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"session_events"},
		[]string{"session_id", "exam_id", "candidate_id", "event_type", "event_data", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert writes a single event.
func (r *SessionEventRepository) Insert(ctx context.Context, e *model.SessionEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_events (session_id, exam_id, candidate_id, event_type, event_data, recorded_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		e.SessionID, e.ExamID, e.CandidateID, string(e.Type), eventData(e), e.RecordedAt,
	)
	return err
}

func eventData(e *model.SessionEvent) string {
	if len(e.Data) == 0 {
		return "{}"
	}
	return string(e.Data)
}
