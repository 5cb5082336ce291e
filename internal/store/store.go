// Package store persists exam session state. Every implementation keys a
// session by (candidate, exam), returns deep copies, refuses writes to a
// submitted session, and performs submission as a compare-and-set.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

var (
	ErrSessionNotFound = errors.New("exam session not found")
	ErrResultNotFound  = errors.New("session result not found")
)

// Key identifies one candidate's attempt at one exam.
type Key struct {
	CandidateID string
	ExamID      uuid.UUID
}

// KeyOf returns the key of a session state.
func KeyOf(st *model.ExamSessionState) Key {
	return Key{CandidateID: st.CandidateID, ExamID: st.ExamID}
}

// SessionStore is the Session State Store.
type SessionStore interface {
	// Load returns the stored session for key or ErrSessionNotFound.
	Load(ctx context.Context, key Key) (*model.ExamSessionState, error)
	// Create stores st unless a session already exists for its key, in which
	// case the existing one is returned with created=false.
	Create(ctx context.Context, st *model.ExamSessionState) (stored *model.ExamSessionState, created bool, err error)
	// Save overwrites an open session. It fails with
	// session.ErrAlreadySubmitted once the stored copy is submitted.
	Save(ctx context.Context, st *model.ExamSessionState) error
	// Submit atomically checks that the stored session is still open and
	// writes the frozen state together with its result.
	Submit(ctx context.Context, st *model.ExamSessionState, result *model.ScoreResult) error
	// LoadResult returns a session with its result by session id. The result
	// is nil while the session is open.
	LoadResult(ctx context.Context, sessionID uuid.UUID) (*model.SessionResult, error)
	// ResolveID maps a session id to its key.
	ResolveID(ctx context.Context, sessionID uuid.UUID) (Key, error)
}

// DeadlineIndex lists open, unpaused sessions whose deadline has passed.
type DeadlineIndex interface {
	Overdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}
