package session

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// RecordAnswer stores the candidate's answer for a question. Recording on a
// question the candidate never opened counts as visiting it. An empty answer
// behaves like ClearAnswer.
func RecordAnswer(st *model.ExamSessionState, l *Layout, questionID string, answer model.Answer, now time.Time) error {
	if err := ensureMutable(st); err != nil {
		return err
	}
	q, qs, err := lookup(st, l, questionID)
	if err != nil {
		return err
	}
	if answer.IsEmpty() {
		return ClearAnswer(st, l, questionID, now)
	}
	normalized, err := NormalizeAnswer(q.Type, answer)
	if err != nil {
		return err
	}

	visit(qs, now)
	qs.SelectedAnswer = &normalized
	refresh(qs)
	st.UpdatedAt = now
	return nil
}

// ClearAnswer removes a recorded answer, keeping the review mark.
func ClearAnswer(st *model.ExamSessionState, l *Layout, questionID string, now time.Time) error {
	if err := ensureMutable(st); err != nil {
		return err
	}
	_, qs, err := lookup(st, l, questionID)
	if err != nil {
		return err
	}

	visit(qs, now)
	qs.SelectedAnswer = nil
	refresh(qs)
	st.UpdatedAt = now
	return nil
}

// ToggleMark sets the review flag. A nil marked flips the current value.
// Status is recomputed from the answer that is already there.
func ToggleMark(st *model.ExamSessionState, l *Layout, questionID string, marked *bool, now time.Time) error {
	if err := ensureMutable(st); err != nil {
		return err
	}
	_, qs, err := lookup(st, l, questionID)
	if err != nil {
		return err
	}

	visit(qs, now)
	if marked == nil {
		qs.MarkedForReview = !qs.MarkedForReview
	} else {
		qs.MarkedForReview = *marked
	}
	refresh(qs)
	st.UpdatedAt = now
	return nil
}

// SetLanguage changes the display language of the session.
func SetLanguage(st *model.ExamSessionState, language string, now time.Time) error {
	if st.IsSubmitted {
		return ErrAlreadySubmitted
	}
	st.Language = language
	st.UpdatedAt = now
	return nil
}

// ApplyAnswers records a batch of answers all-or-nothing: every entry is
// validated before any is applied.
func ApplyAnswers(st *model.ExamSessionState, l *Layout, answers map[string]model.Answer, now time.Time) error {
	if st.IsSubmitted {
		return ErrAlreadySubmitted
	}
	normalized := make(map[string]*model.Answer, len(answers))
	for id, a := range answers {
		q, ok := l.Question(id)
		if !ok {
			return ErrQuestionNotFound
		}
		if _, ok := st.QuestionStates[id]; !ok {
			return ErrQuestionNotFound
		}
		if a.IsEmpty() {
			normalized[id] = nil
			continue
		}
		n, err := NormalizeAnswer(q.Type, a)
		if err != nil {
			return err
		}
		normalized[id] = &n
	}

	for id, a := range normalized {
		qs := st.QuestionStates[id]
		visit(qs, now)
		qs.SelectedAnswer = a
		refresh(qs)
	}
	if len(normalized) > 0 {
		st.UpdatedAt = now
	}
	return nil
}

// NormalizeAnswer coerces an answer into the shape its question type
// expects, or reports ErrMalformedAnswer.
func NormalizeAnswer(t model.QuestionType, a model.Answer) (model.Answer, error) {
	switch t {
	case model.QuestionTypeMCQ, model.QuestionTypeNumerical:
		if !a.IsMulti() {
			return model.TextAnswer(a.Text), nil
		}
		if len(a.Choices) != 1 {
			return model.Answer{}, ErrMalformedAnswer
		}
		return model.TextAnswer(a.Choices[0]), nil

	case model.QuestionTypeMSQ:
		set := a.Set()
		seen := make(map[string]struct{}, len(set))
		for _, c := range set {
			if c == "" {
				return model.Answer{}, ErrMalformedAnswer
			}
			if _, dup := seen[c]; dup {
				return model.Answer{}, ErrMalformedAnswer
			}
			seen[c] = struct{}{}
		}
		return model.ChoiceAnswer(set...), nil

	default:
		return a.Clone(), nil
	}
}

func lookup(st *model.ExamSessionState, l *Layout, questionID string) (*model.Question, *model.QuestionState, error) {
	q, ok := l.Question(questionID)
	if !ok {
		return nil, nil, ErrQuestionNotFound
	}
	qs, ok := st.QuestionStates[questionID]
	if !ok {
		return nil, nil, ErrQuestionNotFound
	}
	return q, qs, nil
}
