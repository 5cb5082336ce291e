package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testExam() *model.ExamConfig {
	return &model.ExamConfig{
		ExamID:        uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		TotalDuration: 30 * time.Minute,
		Sections: []model.Section{{ID: "s", Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, CorrectAnswer: model.TextAnswer("A"), Marks: 1},
			{ID: "q2", Type: model.QuestionTypeMCQ, CorrectAnswer: model.TextAnswer("B"), Marks: 1},
		}}},
	}
}

func newState(candidate string) *model.ExamSessionState {
	cfg := testExam()
	return session.NewState(cfg, session.NewLayout(cfg), uuid.New(), candidate, "en", t0)
}

func TestMemoryStore_CreateIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	first := newState("c1")
	stored, created, err := m.Create(ctx, first)
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}

	second := newState("c1")
	stored2, created, err := m.Create(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second create for the same key created a new session")
	}
	if stored2.SessionID != stored.SessionID {
		t.Errorf("got session %s, want existing %s", stored2.SessionID, stored.SessionID)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	st := newState("c1")
	if _, _, err := m.Create(ctx, st); err != nil {
		t.Fatal(err)
	}

	loaded, err := m.Load(ctx, KeyOf(st))
	if err != nil {
		t.Fatal(err)
	}
	loaded.QuestionStates["q1"].MarkedForReview = true
	again, _ := m.Load(ctx, KeyOf(st))
	if again.QuestionStates["q1"].MarkedForReview {
		t.Error("store returned a shared reference")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.Load(ctx, Key{CandidateID: "x", ExamID: uuid.New()}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load err = %v", err)
	}
	if _, err := m.ResolveID(ctx, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ResolveID err = %v", err)
	}
	if _, err := m.LoadResult(ctx, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("LoadResult err = %v", err)
	}
	if err := m.Save(ctx, newState("ghost")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Save err = %v", err)
	}
}

func TestMemoryStore_SubmitIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	st := newState("c1")
	if _, _, err := m.Create(ctx, st); err != nil {
		t.Fatal(err)
	}

	var wins, losses int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frozen := st.Clone()
			_ = session.Freeze(frozen, t0.Add(time.Duration(i)*time.Second), model.SubmitTriggerManual)
			err := m.Submit(ctx, frozen, &model.ScoreResult{TotalScore: float64(i)})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, session.ErrAlreadySubmitted):
				atomic.AddInt32(&losses, 1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || losses != 15 {
		t.Fatalf("wins=%d losses=%d, want exactly one winner", wins, losses)
	}

	res, err := m.LoadResult(ctx, st.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Session.IsSubmitted || res.Result == nil {
		t.Fatalf("result = %+v", res)
	}

	if err := m.Save(ctx, st); !errors.Is(err, session.ErrAlreadySubmitted) {
		t.Errorf("save after submit err = %v", err)
	}
}

func TestMemoryStore_Overdue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	open := newState("open")
	paused := newState("paused")
	done := newState("done")
	for _, st := range []*model.ExamSessionState{open, paused, done} {
		if _, _, err := m.Create(ctx, st); err != nil {
			t.Fatal(err)
		}
	}
	_ = session.Pause(paused, t0.Add(time.Minute))
	_ = m.Save(ctx, paused)
	frozen := done.Clone()
	_ = session.Freeze(frozen, t0.Add(time.Minute), model.SubmitTriggerManual)
	_ = m.Submit(ctx, frozen, &model.ScoreResult{})

	ids, err := m.Overdue(ctx, t0.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("overdue before deadline: %v", ids)
	}

	ids, err = m.Overdue(ctx, t0.Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != open.SessionID {
		t.Errorf("overdue = %v, want only %s", ids, open.SessionID)
	}
}
