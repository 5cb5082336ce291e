package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingSubmitter struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	fail map[uuid.UUID]error
}

func (r *recordingSubmitter) ForceSubmit(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[id]; err != nil {
		return err
	}
	r.ids = append(r.ids, id)
	return nil
}

type staticIndex []uuid.UUID

func (s staticIndex) Overdue(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return s, nil
}

type brokenIndex struct{}

func (brokenIndex) Overdue(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, errors.New("connection refused")
}

func seed(t *testing.T, m *store.MemoryStore, candidate string, d time.Duration) *model.ExamSessionState {
	t.Helper()
	cfg := &model.ExamConfig{
		ExamID:        uuid.New(),
		TotalDuration: d,
		Sections: []model.Section{{ID: "s", Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, CorrectAnswer: model.TextAnswer("A"), Marks: 1},
		}}},
	}
	st := session.NewState(cfg, session.NewLayout(cfg), uuid.New(), candidate, "en", t0)
	if _, _, err := m.Create(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestDeadlineWorker_Sweep(t *testing.T) {
	m := store.NewMemoryStore()
	short := seed(t, m, "c1", 10*time.Minute)
	seed(t, m, "c2", time.Hour)

	sub := &recordingSubmitter{}
	w := NewDeadlineWorker(sub, time.Second, zerolog.Nop(), m)
	w.now = func() time.Time { return t0.Add(15 * time.Minute) }

	if n := w.Sweep(context.Background()); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if len(sub.ids) != 1 || sub.ids[0] != short.SessionID {
		t.Errorf("submitted %v, want [%s]", sub.ids, short.SessionID)
	}
}

func TestDeadlineWorker_SweepAcrossIndexes(t *testing.T) {
	a, b, gone := uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name    string
		indexes []store.DeadlineIndex
		fail    map[uuid.UUID]error
		want    int
	}{
		{
			name:    "duplicates submitted once",
			indexes: []store.DeadlineIndex{staticIndex{a, b}, staticIndex{b}},
			want:    2,
		},
		{
			name:    "broken index does not stop the sweep",
			indexes: []store.DeadlineIndex{brokenIndex{}, staticIndex{a}},
			want:    1,
		},
		{
			name:    "missing sessions are skipped",
			indexes: []store.DeadlineIndex{staticIndex{gone, a}},
			fail:    map[uuid.UUID]error{gone: store.ErrSessionNotFound},
			want:    1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := &recordingSubmitter{fail: tc.fail}
			w := NewDeadlineWorker(sub, time.Second, zerolog.Nop(), tc.indexes...)
			if got := w.Sweep(context.Background()); got != tc.want {
				t.Errorf("swept %d, want %d", got, tc.want)
			}
		})
	}
}
