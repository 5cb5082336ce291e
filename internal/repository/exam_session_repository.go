package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamSessionRepository is the durable copy of session state and results.
// The Redis store treats it as the source of truth for uniqueness and as the
// fallback on cache misses.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// Create inserts a new session. It reports false when the candidate already
// has a session for the exam.
func (r *ExamSessionRepository) Create(ctx context.Context, st *model.ExamSessionState) (bool, error) {
	state, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("marshal state: %w", err)
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (id, exam_id, candidate_id, state, started_at, deadline_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (exam_id, candidate_id) DO NOTHING
		 RETURNING id`,
		st.SessionID, st.ExamID, st.CandidateID, state, st.StartTime, st.EndTime, st.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByKey retrieves the session of a candidate for an exam.
func (r *ExamSessionRepository) GetByKey(ctx context.Context, candidateID string, examID uuid.UUID) (*model.SessionResult, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT state, result FROM exam_sessions
		 WHERE exam_id = $1 AND candidate_id = $2`, examID, candidateID,
	))
}

// GetByID retrieves a session by its id.
func (r *ExamSessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*model.SessionResult, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT state, result FROM exam_sessions WHERE id = $1`, sessionID,
	))
}

func (r *ExamSessionRepository) scanOne(row pgx.Row) (*model.SessionResult, error) {
	var state, result []byte
	if err := row.Scan(&state, &result); err != nil {
		return nil, err
	}

	out := &model.SessionResult{Session: &model.ExamSessionState{}}
	if err := json.Unmarshal(state, out.Session); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if result != nil {
		out.Result = &model.ScoreResult{}
		if err := json.Unmarshal(result, out.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return out, nil
}

// SaveState overwrites the state of an open session. Older snapshots never
// replace newer ones, so queued autosaves may arrive out of order.
func (r *ExamSessionRepository) SaveState(ctx context.Context, st *model.ExamSessionState) error {
	state, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET state = $1, deadline_at = $2, updated_at = $3
		 WHERE id = $4 AND is_submitted = FALSE AND updated_at <= $3`,
		state, st.EndTime, st.UpdatedAt, st.SessionID,
	)
	return err
}

// BulkSaveStates applies a batch of autosaved snapshots in one statement.
// When a batch holds several snapshots of one session only the newest is kept.
func (r *ExamSessionRepository) BulkSaveStates(ctx context.Context, batch []*model.ExamSessionState) error {
	latest := make(map[uuid.UUID]*model.ExamSessionState, len(batch))
	for _, st := range batch {
		if cur, ok := latest[st.SessionID]; !ok || st.UpdatedAt.After(cur.UpdatedAt) {
			latest[st.SessionID] = st
		}
	}

	n := len(latest)
	ids := make([]uuid.UUID, 0, n)
	states := make([]string, 0, n)
	deadlines := make([]time.Time, 0, n)
	updatedAts := make([]time.Time, 0, n)
	for id, st := range latest {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		ids = append(ids, id)
		states = append(states, string(data))
		deadlines = append(deadlines, st.EndTime)
		updatedAts = append(updatedAts, st.UpdatedAt)
	}

	query := `
		UPDATE exam_sessions AS s
		SET state = t.state::jsonb,
		    deadline_at = t.deadline_at,
		    updated_at = t.updated_at
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::timestamptz[],
			$4::timestamptz[]
		) AS t (id, state, deadline_at, updated_at)
		WHERE s.id = t.id
		  AND s.is_submitted = FALSE
		  AND s.updated_at <= t.updated_at
	`
	_, err := r.pool.Exec(ctx, query, ids, states, deadlines, updatedAts)
	return err
}

// Complete stores the frozen state and its result. Completing an already
// submitted session is a no-op.
func (r *ExamSessionRepository) Complete(ctx context.Context, st *model.ExamSessionState, result *model.ScoreResult) error {
	state, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET state = $1, result = $2, total_score = $3, percentage = $4,
		     is_submitted = TRUE, submit_trigger = $5, submitted_at = $6,
		     deadline_at = $7, updated_at = $8
		 WHERE id = $9 AND is_submitted = FALSE`,
		state, res, result.TotalScore, result.Percentage,
		st.SubmitTrigger, st.SubmittedAt, st.EndTime, st.UpdatedAt, st.SessionID,
	)
	return err
}

// BulkComplete persists a batch of submitted sessions using UNNEST.
func (r *ExamSessionRepository) BulkComplete(ctx context.Context, batch []*model.SessionResult) error {
	n := len(batch)
	ids := make([]uuid.UUID, 0, n)
	states := make([]string, 0, n)
	results := make([]string, 0, n)
	scores := make([]float64, 0, n)
	percentages := make([]float64, 0, n)
	triggers := make([]string, 0, n)
	submittedAts := make([]time.Time, 0, n)

	for _, sr := range batch {
		state, err := json.Marshal(sr.Session)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		res, err := json.Marshal(sr.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		submittedAt := sr.Session.UpdatedAt
		if sr.Session.SubmittedAt != nil {
			submittedAt = *sr.Session.SubmittedAt
		}
		ids = append(ids, sr.Session.SessionID)
		states = append(states, string(state))
		results = append(results, string(res))
		scores = append(scores, sr.Result.TotalScore)
		percentages = append(percentages, sr.Result.Percentage)
		triggers = append(triggers, string(sr.Session.SubmitTrigger))
		submittedAts = append(submittedAts, submittedAt)
	}

	query := `
		UPDATE exam_sessions AS s
		SET state = t.state::jsonb,
		    result = t.result::jsonb,
		    total_score = t.total_score,
		    percentage = t.percentage,
		    is_submitted = TRUE,
		    submit_trigger = t.submit_trigger,
		    submitted_at = t.submitted_at,
		    deadline_at = t.submitted_at,
		    updated_at = t.submitted_at
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::text[],
			$4::float8[],
			$5::float8[],
			$6::text[],
			$7::timestamptz[]
		) AS t (id, state, result, total_score, percentage, submit_trigger, submitted_at)
		WHERE s.id = t.id
		  AND s.is_submitted = FALSE
	`
	_, err := r.pool.Exec(ctx, query, ids, states, results, scores, percentages, triggers, submittedAts)
	return err
}

// Overdue returns open sessions whose deadline has passed. The deadline
// worker uses it to recover sessions that fell out of Redis.
func (r *ExamSessionRepository) Overdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exam_sessions
		 WHERE is_submitted = FALSE AND deadline_at <= $1
		   AND NOT COALESCE((state->>'is_paused')::boolean, FALSE)
		 ORDER BY deadline_at
		 LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
