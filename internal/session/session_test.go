package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() *model.ExamConfig {
	return &model.ExamConfig{
		ExamID:        uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"),
		Title:         "Physics Mock",
		Status:        model.ExamStatusPublished,
		TotalDuration: time.Hour,
		Sections: []model.Section{
			{ID: "phy", Name: "Physics", Questions: []model.Question{
				{ID: "q1", SectionID: "phy", Type: model.QuestionTypeMCQ, Options: []string{"A", "B", "C", "D"}, CorrectAnswer: model.TextAnswer("B"), Marks: 4, NegativeMarks: 1},
				{ID: "q2", SectionID: "phy", Type: model.QuestionTypeMSQ, Options: []string{"A", "B", "C", "D"}, CorrectAnswer: model.ChoiceAnswer("A", "C"), Marks: 4, NegativeMarks: 2},
			}},
			{ID: "empty", Name: "Empty"},
			{ID: "math", Name: "Math", Questions: []model.Question{
				{ID: "q3", SectionID: "math", Type: model.QuestionTypeNumerical, CorrectAnswer: model.TextAnswer("42"), Marks: 3},
				{ID: "q4", SectionID: "math", Type: model.QuestionTypeMCQ, Options: []string{"A", "B"}, CorrectAnswer: model.TextAnswer("A"), Marks: 2, NegativeMarks: 0.5},
			}},
		},
	}
}

func newTestState(t *testing.T) (*model.ExamSessionState, *Layout) {
	t.Helper()
	cfg := testConfig()
	l := NewLayout(cfg)
	return NewState(cfg, l, uuid.New(), "cand-1", "en", t0), l
}

func TestDeriveStatus_AllTriples(t *testing.T) {
	tests := []struct {
		visited, answer, marked bool
		want                    model.QuestionStatus
	}{
		{false, false, false, model.StatusNotVisited},
		{true, false, false, model.StatusNotAnswered},
		{true, true, false, model.StatusAnswered},
		{true, false, true, model.StatusMarkedForReview},
		{true, true, true, model.StatusAnsweredAndMarked},
		// Not reachable through the ledger, but still answered consistently.
		{false, true, false, model.StatusAnswered},
		{false, false, true, model.StatusMarkedForReview},
		{false, true, true, model.StatusAnsweredAndMarked},
	}
	for _, tc := range tests {
		got := DeriveStatus(tc.visited, tc.answer, tc.marked)
		if got != tc.want {
			t.Errorf("DeriveStatus(%v,%v,%v) = %s, want %s", tc.visited, tc.answer, tc.marked, got, tc.want)
		}
	}
}

func TestNewState(t *testing.T) {
	st, l := newTestState(t)

	if got := len(st.QuestionStates); got != 4 {
		t.Fatalf("question states = %d, want 4", got)
	}
	if st.QuestionStates["q1"].Status != model.StatusNotAnswered || st.QuestionStates["q1"].VisitedAt == nil {
		t.Errorf("first question should be visited on start, got %s", st.QuestionStates["q1"].Status)
	}
	for _, id := range []string{"q2", "q3", "q4"} {
		if st.QuestionStates[id].Status != model.StatusNotVisited {
			t.Errorf("%s status = %s, want NOT_VISITED", id, st.QuestionStates[id].Status)
		}
	}
	if !st.EndTime.Equal(t0.Add(time.Hour)) {
		t.Errorf("end time = %v, want start+1h", st.EndTime)
	}
	if st.RemainingTime != 3600 {
		t.Errorf("remaining = %v, want 3600", st.RemainingTime)
	}
	if l.Len() != 4 {
		t.Errorf("layout len = %d", l.Len())
	}
}

func TestNavigation(t *testing.T) {
	st, l := newTestState(t)
	now := t0.Add(10 * time.Second)

	if err := GoToPrevious(st, l, now); err != nil {
		t.Fatal(err)
	}
	if st.CurrentQuestionIndex != 0 {
		t.Errorf("previous at first question moved cursor to %d", st.CurrentQuestionIndex)
	}

	if err := GoToNext(st, l, now); err != nil {
		t.Fatal(err)
	}
	if st.CurrentQuestionIndex != 1 || st.QuestionStates["q2"].Status != model.StatusNotAnswered {
		t.Errorf("next: index=%d status=%s", st.CurrentQuestionIndex, st.QuestionStates["q2"].Status)
	}
	if got := st.QuestionStates["q1"].TimeTaken; got != 10 {
		t.Errorf("time taken on q1 = %v, want 10", got)
	}

	// Crossing the empty section lands on the math section.
	if err := GoToNext(st, l, now); err != nil {
		t.Fatal(err)
	}
	if st.CurrentQuestionIndex != 2 || st.CurrentSectionIndex != 2 {
		t.Errorf("cross section: index=%d section=%d", st.CurrentQuestionIndex, st.CurrentSectionIndex)
	}

	for i := 0; i < 5; i++ {
		if err := GoToNext(st, l, now); err != nil {
			t.Fatal(err)
		}
	}
	if st.CurrentQuestionIndex != 3 {
		t.Errorf("spamming next should clamp at last index, got %d", st.CurrentQuestionIndex)
	}

	if err := GoToQuestion(st, l, 99, now); err != nil {
		t.Fatalf("out of range should not error: %v", err)
	}
	if err := GoToQuestion(st, l, -1, now); err != nil {
		t.Fatalf("negative index should not error: %v", err)
	}
	if st.CurrentQuestionIndex != 3 {
		t.Errorf("out of range moved cursor to %d", st.CurrentQuestionIndex)
	}

	if err := NavigateToSection(st, l, "phy", now); err != nil {
		t.Fatal(err)
	}
	if st.CurrentQuestionIndex != 0 || st.CurrentSectionIndex != 0 {
		t.Errorf("section jump: index=%d section=%d", st.CurrentQuestionIndex, st.CurrentSectionIndex)
	}

	if err := NavigateToSection(st, l, "empty", now); err != nil {
		t.Fatal(err)
	}
	if st.CurrentQuestionIndex != 0 {
		t.Errorf("empty section moved cursor to %d", st.CurrentQuestionIndex)
	}

	if err := NavigateToSection(st, l, "chem", now); !errors.Is(err, ErrSectionNotFound) {
		t.Errorf("unknown section err = %v", err)
	}
}

func TestRevisitKeepsStatus(t *testing.T) {
	st, l := newTestState(t)
	visitedAt := *st.QuestionStates["q1"].VisitedAt

	if err := RecordAnswer(st, l, "q1", model.TextAnswer("B"), t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	_ = GoToNext(st, l, t0.Add(2*time.Second))
	_ = GoToPrevious(st, l, t0.Add(3*time.Second))

	qs := st.QuestionStates["q1"]
	if qs.Status != model.StatusAnswered {
		t.Errorf("revisit changed status to %s", qs.Status)
	}
	if !qs.VisitedAt.Equal(visitedAt) {
		t.Errorf("revisit restamped visitedAt")
	}
}

func TestLedgerTransitions(t *testing.T) {
	st, l := newTestState(t)
	now := t0.Add(time.Minute)
	on, off := true, false

	steps := []struct {
		name string
		op   func() error
		want model.QuestionStatus
	}{
		{"answer", func() error { return RecordAnswer(st, l, "q1", model.TextAnswer("A"), now) }, model.StatusAnswered},
		{"mark", func() error { return ToggleMark(st, l, "q1", &on, now) }, model.StatusAnsweredAndMarked},
		{"clear keeps mark", func() error { return ClearAnswer(st, l, "q1", now) }, model.StatusMarkedForReview},
		{"answer while marked", func() error { return RecordAnswer(st, l, "q1", model.TextAnswer("B"), now) }, model.StatusAnsweredAndMarked},
		{"unmark", func() error { return ToggleMark(st, l, "q1", &off, now) }, model.StatusAnswered},
		{"flip", func() error { return ToggleMark(st, l, "q1", nil, now) }, model.StatusAnsweredAndMarked},
		{"flip back", func() error { return ToggleMark(st, l, "q1", nil, now) }, model.StatusAnswered},
		{"empty answer clears", func() error { return RecordAnswer(st, l, "q1", model.TextAnswer(""), now) }, model.StatusNotAnswered},
	}
	for _, s := range steps {
		if err := s.op(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got := st.QuestionStates["q1"].Status; got != s.want {
			t.Fatalf("%s: status = %s, want %s", s.name, got, s.want)
		}
	}
}

func TestMarkingUnvisitedQuestionVisitsIt(t *testing.T) {
	st, l := newTestState(t)
	if err := ToggleMark(st, l, "q4", nil, t0); err != nil {
		t.Fatal(err)
	}
	qs := st.QuestionStates["q4"]
	if qs.VisitedAt == nil || qs.Status != model.StatusMarkedForReview {
		t.Errorf("status = %s visited=%v", qs.Status, qs.VisitedAt != nil)
	}
}

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		name    string
		typ     model.QuestionType
		in      model.Answer
		want    model.Answer
		wantErr bool
	}{
		{"mcq text", model.QuestionTypeMCQ, model.TextAnswer("B"), model.TextAnswer("B"), false},
		{"mcq single element set", model.QuestionTypeMCQ, model.ChoiceAnswer("C"), model.TextAnswer("C"), false},
		{"mcq two choices", model.QuestionTypeMCQ, model.ChoiceAnswer("A", "B"), model.Answer{}, true},
		{"numerical text", model.QuestionTypeNumerical, model.TextAnswer(" 5.0 "), model.TextAnswer(" 5.0 "), false},
		{"msq set", model.QuestionTypeMSQ, model.ChoiceAnswer("B", "A"), model.ChoiceAnswer("B", "A"), false},
		{"msq text becomes set", model.QuestionTypeMSQ, model.TextAnswer("A"), model.ChoiceAnswer("A"), false},
		{"msq duplicate", model.QuestionTypeMSQ, model.ChoiceAnswer("A", "A"), model.Answer{}, true},
		{"msq blank choice", model.QuestionTypeMSQ, model.ChoiceAnswer("A", ""), model.Answer{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeAnswer(tc.typ, tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedAnswer) {
					t.Fatalf("err = %v, want ErrMalformedAnswer", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestMalformedAnswerLeavesStateUntouched(t *testing.T) {
	st, l := newTestState(t)
	before := st.Clone()

	err := RecordAnswer(st, l, "q1", model.ChoiceAnswer("A", "B"), t0.Add(time.Second))
	if !errors.Is(err, ErrMalformedAnswer) {
		t.Fatalf("err = %v", err)
	}
	if st.QuestionStates["q1"].SelectedAnswer != nil || !st.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("failed record mutated state")
	}

	if err := RecordAnswer(st, l, "nope", model.TextAnswer("A"), t0); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("unknown question err = %v", err)
	}
}

func TestApplyAnswersIsAllOrNothing(t *testing.T) {
	st, l := newTestState(t)
	err := ApplyAnswers(st, l, map[string]model.Answer{
		"q1": model.TextAnswer("B"),
		"q2": model.ChoiceAnswer("A", "A"),
	}, t0)
	if !errors.Is(err, ErrMalformedAnswer) {
		t.Fatalf("err = %v", err)
	}
	if st.QuestionStates["q1"].SelectedAnswer != nil {
		t.Errorf("partial batch was applied")
	}

	err = ApplyAnswers(st, l, map[string]model.Answer{
		"q1": model.TextAnswer("B"),
		"q3": model.TextAnswer("42"),
	}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if st.QuestionStates["q3"].Status != model.StatusAnswered {
		t.Errorf("q3 status = %s", st.QuestionStates["q3"].Status)
	}
}

func TestSaveAndNextGuard(t *testing.T) {
	st, l := newTestState(t)

	moved, err := SaveAndNext(st, l, t0)
	if err != nil {
		t.Fatal(err)
	}
	if moved || st.CurrentQuestionIndex != 0 {
		t.Fatalf("save-and-next advanced past an unanswered question")
	}

	_ = RecordAnswer(st, l, "q1", model.TextAnswer("B"), t0)
	moved, err = SaveAndNext(st, l, t0)
	if err != nil {
		t.Fatal(err)
	}
	if !moved || st.CurrentQuestionIndex != 1 {
		t.Errorf("save-and-next did not advance: moved=%v index=%d", moved, st.CurrentQuestionIndex)
	}
}

func TestMarkAndNext(t *testing.T) {
	st, l := newTestState(t)
	if err := MarkAndNext(st, l, t0); err != nil {
		t.Fatal(err)
	}
	if st.QuestionStates["q1"].Status != model.StatusMarkedForReview {
		t.Errorf("q1 status = %s", st.QuestionStates["q1"].Status)
	}
	if st.CurrentQuestionIndex != 1 {
		t.Errorf("index = %d, want 1", st.CurrentQuestionIndex)
	}
}

// Random operation sequences must never produce a status that disagrees
// with the (visited, answered, marked) triple.
func TestStatusInvariantUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ids := []string{"q1", "q2", "q3", "q4"}
	answers := map[string]model.Answer{
		"q1": model.TextAnswer("A"),
		"q2": model.ChoiceAnswer("A", "C"),
		"q3": model.TextAnswer("42"),
		"q4": model.TextAnswer("B"),
	}

	for run := 0; run < 50; run++ {
		st, l := newTestState(t)
		now := t0
		for step := 0; step < 200; step++ {
			now = now.Add(time.Second)
			id := ids[rng.Intn(len(ids))]
			switch rng.Intn(8) {
			case 0:
				_ = GoToNext(st, l, now)
			case 1:
				_ = GoToPrevious(st, l, now)
			case 2:
				_ = GoToQuestion(st, l, rng.Intn(6)-1, now)
			case 3:
				_ = RecordAnswer(st, l, id, answers[id], now)
			case 4:
				_ = ClearAnswer(st, l, id, now)
			case 5:
				_ = ToggleMark(st, l, id, nil, now)
			case 6:
				_, _ = SaveAndNext(st, l, now)
			case 7:
				_ = MarkAndNext(st, l, now)
			}

			for _, qid := range ids {
				qs := st.QuestionStates[qid]
				want := DeriveStatus(qs.Visited(), qs.HasAnswer(), qs.MarkedForReview)
				if qs.Status != want {
					t.Fatalf("run %d step %d: %s status %s, triple says %s", run, step, qid, qs.Status, want)
				}
				if !qs.Visited() && (qs.HasAnswer() || qs.MarkedForReview) {
					t.Fatalf("run %d step %d: %s answered or marked without a visit", run, step, qid)
				}
			}
		}
	}
}

func TestSubmittedSessionRejectsMutation(t *testing.T) {
	st, l := newTestState(t)
	if err := Freeze(st, t0.Add(time.Minute), model.SubmitTriggerManual); err != nil {
		t.Fatal(err)
	}
	before := st.Clone()

	checks := map[string]error{
		"next":   GoToNext(st, l, t0.Add(2*time.Minute)),
		"answer": RecordAnswer(st, l, "q1", model.TextAnswer("B"), t0),
		"clear":  ClearAnswer(st, l, "q1", t0),
		"mark":   ToggleMark(st, l, "q1", nil, t0),
		"pause":  Pause(st, t0),
		"freeze": Freeze(st, t0, model.SubmitTriggerTimeout),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrAlreadySubmitted) {
			t.Errorf("%s: err = %v, want ErrAlreadySubmitted", name, err)
		}
	}
	if st.CurrentQuestionIndex != before.CurrentQuestionIndex || st.RemainingTime != before.RemainingTime {
		t.Errorf("submitted session mutated")
	}
}
