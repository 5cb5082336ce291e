package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// MemoryStore keeps sessions in process memory. It backs tests and
// single-node deployments without Redis.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[Key]*model.ExamSessionState
	ids      map[uuid.UUID]Key
	results  map[uuid.UUID]*model.ScoreResult
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[Key]*model.ExamSessionState),
		ids:      make(map[uuid.UUID]Key),
		results:  make(map[uuid.UUID]*model.ScoreResult),
	}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*model.ExamSessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st.Clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, st *model.ExamSessionState) (*model.ExamSessionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyOf(st)
	if existing, ok := m.sessions[key]; ok {
		return existing.Clone(), false, nil
	}
	m.sessions[key] = st.Clone()
	m.ids[st.SessionID] = key
	return st.Clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, st *model.ExamSessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyOf(st)
	stored, ok := m.sessions[key]
	if !ok {
		return ErrSessionNotFound
	}
	if stored.IsSubmitted {
		return session.ErrAlreadySubmitted
	}
	m.sessions[key] = st.Clone()
	return nil
}

func (m *MemoryStore) Submit(_ context.Context, st *model.ExamSessionState, result *model.ScoreResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyOf(st)
	stored, ok := m.sessions[key]
	if !ok {
		return ErrSessionNotFound
	}
	if stored.IsSubmitted {
		return session.ErrAlreadySubmitted
	}
	m.sessions[key] = st.Clone()
	m.results[st.SessionID] = result.Clone()
	return nil
}

func (m *MemoryStore) LoadResult(_ context.Context, sessionID uuid.UUID) (*model.SessionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.ids[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := &model.SessionResult{Session: m.sessions[key].Clone()}
	if r, ok := m.results[sessionID]; ok {
		out.Result = r.Clone()
	}
	return out, nil
}

func (m *MemoryStore) ResolveID(_ context.Context, sessionID uuid.UUID) (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.ids[sessionID]
	if !ok {
		return Key{}, ErrSessionNotFound
	}
	return key, nil
}

// Overdue returns open sessions past their deadline, earliest first.
func (m *MemoryStore) Overdue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*model.ExamSessionState
	for _, st := range m.sessions {
		if session.Expired(st, now) {
			due = append(due, st)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndTime.Before(due[j].EndTime) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, st := range due {
		ids[i] = st.SessionID
	}
	return ids, nil
}
