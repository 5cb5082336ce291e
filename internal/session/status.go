// Package session holds the pure exam session state machine: question status
// derivation, navigation, the answer ledger and deadline arithmetic. Nothing
// in this package performs I/O; callers persist the mutated state.
package session

import (
	"errors"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Domain errors.
var (
	ErrAlreadySubmitted = errors.New("session already submitted")
	ErrSessionPaused    = errors.New("session is paused")
	ErrQuestionNotFound = errors.New("question not found in exam")
	ErrSectionNotFound  = errors.New("section not found in exam")
	ErrMalformedAnswer  = errors.New("answer shape does not match question type")
)

// DeriveStatus is the single source of a question's status. No other code
// assigns QuestionState.Status.
func DeriveStatus(visited, hasAnswer, marked bool) model.QuestionStatus {
	switch {
	case !visited && !hasAnswer && !marked:
		return model.StatusNotVisited
	case hasAnswer && marked:
		return model.StatusAnsweredAndMarked
	case hasAnswer:
		return model.StatusAnswered
	case marked:
		return model.StatusMarkedForReview
	default:
		return model.StatusNotAnswered
	}
}

func refresh(qs *model.QuestionState) {
	qs.Status = DeriveStatus(qs.Visited(), qs.HasAnswer(), qs.MarkedForReview)
}

// visit stamps a question as visited. Revisits leave it untouched.
func visit(qs *model.QuestionState, now time.Time) {
	if qs.VisitedAt == nil {
		t := now
		qs.VisitedAt = &t
	}
	refresh(qs)
}

func ensureMutable(st *model.ExamSessionState) error {
	if st.IsSubmitted {
		return ErrAlreadySubmitted
	}
	if st.IsPaused {
		return ErrSessionPaused
	}
	return nil
}
