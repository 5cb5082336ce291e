package session

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// GoToQuestion moves the cursor to a flat index. Out-of-range indexes are
// ignored rather than reported.
func GoToQuestion(st *model.ExamSessionState, l *Layout, index int, now time.Time) error {
	if err := ensureMutable(st); err != nil {
		return err
	}
	if index < 0 || index >= l.Len() {
		return nil
	}
	if index != st.CurrentQuestionIndex {
		accrue(st, now)
		st.CurrentQuestionIndex = index
		st.QuestionEnteredAt = now
	}
	st.CurrentSectionIndex = l.SectionOf(index)
	if qs, ok := st.QuestionStates[l.order[index]]; ok {
		visit(qs, now)
	}
	st.UpdatedAt = now
	return nil
}

// GoToNext advances one question across section boundaries.
func GoToNext(st *model.ExamSessionState, l *Layout, now time.Time) error {
	return GoToQuestion(st, l, st.CurrentQuestionIndex+1, now)
}

// GoToPrevious steps back one question.
func GoToPrevious(st *model.ExamSessionState, l *Layout, now time.Time) error {
	return GoToQuestion(st, l, st.CurrentQuestionIndex-1, now)
}

// NavigateToSection jumps to the first question of a section. Empty
// sections leave the cursor where it is.
func NavigateToSection(st *model.ExamSessionState, l *Layout, sectionID string, now time.Time) error {
	if err := ensureMutable(st); err != nil {
		return err
	}
	idx, ok := l.sectionIndex[sectionID]
	if !ok {
		return ErrSectionNotFound
	}
	if l.sectionLen[idx] == 0 {
		return nil
	}
	return GoToQuestion(st, l, l.sectionStart[idx], now)
}

// SaveAndNext advances only when the current question already has an
// answer. It reports whether the cursor moved.
func SaveAndNext(st *model.ExamSessionState, l *Layout, now time.Time) (bool, error) {
	if err := ensureMutable(st); err != nil {
		return false, err
	}
	qs, ok := st.QuestionStates[st.CurrentQuestionID()]
	if !ok || !qs.HasAnswer() {
		return false, nil
	}
	before := st.CurrentQuestionIndex
	if err := GoToNext(st, l, now); err != nil {
		return false, err
	}
	return st.CurrentQuestionIndex != before, nil
}

// MarkAndNext marks the current question for review and advances
// regardless of answer presence.
func MarkAndNext(st *model.ExamSessionState, l *Layout, now time.Time) error {
	if err := ensureMutable(st); err != nil {
		return err
	}
	if l.Len() == 0 {
		return nil
	}
	marked := true
	if err := ToggleMark(st, l, st.CurrentQuestionID(), &marked, now); err != nil {
		return err
	}
	return GoToNext(st, l, now)
}
