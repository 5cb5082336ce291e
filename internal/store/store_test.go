package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

func mixedExam() *model.ExamConfig {
	return &model.ExamConfig{
		ExamID:        uuid.MustParse("22222222-3333-4444-5555-666666666666"),
		TotalDuration: time.Hour,
		Sections: []model.Section{
			{ID: "s1", Questions: []model.Question{
				{ID: "q1", SectionID: "s1", Type: model.QuestionTypeMCQ, Options: []string{"A", "B"}, CorrectAnswer: model.TextAnswer("A"), Marks: 4, NegativeMarks: 1},
				{ID: "q2", SectionID: "s1", Type: model.QuestionTypeMSQ, Options: []string{"A", "B", "C"}, CorrectAnswer: model.ChoiceAnswer("A", "C"), Marks: 4},
			}},
			{ID: "s2", Questions: []model.Question{
				{ID: "q3", SectionID: "s2", Type: model.QuestionTypeNumerical, CorrectAnswer: model.TextAnswer("9.81"), Marks: 2},
			}},
		},
	}
}

// answerThree walks a fresh session through one answer of every question
// type, a review mark and two cursor moves.
func answerThree(t *testing.T, st *model.ExamSessionState, l *session.Layout) {
	t.Helper()
	steps := []func() error{
		func() error { return session.RecordAnswer(st, l, "q1", model.TextAnswer("B"), t0.Add(1*time.Minute)) },
		func() error { return session.GoToNext(st, l, t0.Add(2*time.Minute)) },
		func() error {
			return session.RecordAnswer(st, l, "q2", model.ChoiceAnswer("C", "A"), t0.Add(3*time.Minute))
		},
		func() error { return session.ToggleMark(st, l, "q2", nil, t0.Add(3*time.Minute)) },
		func() error { return session.NavigateToSection(st, l, "s2", t0.Add(4*time.Minute)) },
		func() error { return session.RecordAnswer(st, l, "q3", model.TextAnswer("9.8"), t0.Add(5*time.Minute)) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	session.Snapshot(st, t0.Add(6*time.Minute))
}

func TestSessionStore_Resumability(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) (SessionStore, func() SessionStore)
	}{
		{"memory", func(t *testing.T) (SessionStore, func() SessionStore) {
			m := NewMemoryStore()
			return m, func() SessionStore { return m }
		}},
		{"redis", func(t *testing.T) (SessionStore, func() SessionStore) {
			h := newRedisHarness(t, false)
			// A second store on the same Redis stands in for a restarted process.
			return h.store, func() SessionStore { return h.reopen() }
		}},
	}

	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, reopen := tc.open(t)

			cfg := mixedExam()
			l := session.NewLayout(cfg)
			st := session.NewState(cfg, l, uuid.New(), "c1", "en", t0)
			if _, _, err := s.Create(ctx, st); err != nil {
				t.Fatal(err)
			}
			answerThree(t, st, l)
			if err := s.Save(ctx, st); err != nil {
				t.Fatal(err)
			}

			loaded, err := reopen().Load(ctx, KeyOf(st))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(loaded, st) {
				t.Fatalf("reloaded state differs\n got: %+v\nwant: %+v", loaded, st)
			}
			for _, id := range []string{"q1", "q2", "q3"} {
				if !reflect.DeepEqual(loaded.QuestionStates[id], st.QuestionStates[id]) {
					t.Errorf("%s = %+v, want %+v", id, loaded.QuestionStates[id], st.QuestionStates[id])
				}
			}
			if loaded.CurrentQuestionID() != "q3" || loaded.CurrentSectionIndex != 1 {
				t.Errorf("cursor = %s/%d, want q3/1", loaded.CurrentQuestionID(), loaded.CurrentSectionIndex)
			}
			if qs := loaded.QuestionStates["q2"]; qs.Status != model.StatusAnsweredAndMarked {
				t.Errorf("q2 status = %s, want ANSWERED_AND_MARKED", qs.Status)
			}
		})
	}
}
