package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// Layout is the flattened view of an exam: every section's questions
// concatenated in declaration order.
type Layout struct {
	order         []string
	sectionStart  []int
	sectionLen    []int
	sectionIndex  map[string]int
	questionIndex map[string]int
	questions     map[string]*model.Question
}

// NewLayout flattens an exam config.
func NewLayout(cfg *model.ExamConfig) *Layout {
	l := &Layout{
		sectionStart:  make([]int, len(cfg.Sections)),
		sectionLen:    make([]int, len(cfg.Sections)),
		sectionIndex:  make(map[string]int, len(cfg.Sections)),
		questionIndex: make(map[string]int),
		questions:     make(map[string]*model.Question),
	}
	for i := range cfg.Sections {
		sec := &cfg.Sections[i]
		l.sectionStart[i] = len(l.order)
		l.sectionLen[i] = len(sec.Questions)
		l.sectionIndex[sec.ID] = i
		for j := range sec.Questions {
			q := &sec.Questions[j]
			l.questionIndex[q.ID] = len(l.order)
			l.questions[q.ID] = q
			l.order = append(l.order, q.ID)
		}
	}
	return l
}

// Len returns the number of questions in the exam.
func (l *Layout) Len() int { return len(l.order) }

// Order returns a copy of the flattened question ids.
func (l *Layout) Order() []string {
	return append([]string(nil), l.order...)
}

// Question returns the question with the given id.
func (l *Layout) Question(id string) (*model.Question, bool) {
	q, ok := l.questions[id]
	return q, ok
}

// SectionOf returns the section index that owns the flat question index.
func (l *Layout) SectionOf(index int) int {
	for i := len(l.sectionStart) - 1; i >= 0; i-- {
		if l.sectionLen[i] > 0 && index >= l.sectionStart[i] {
			return i
		}
	}
	return 0
}

// NewState creates a fresh session: every question NOT_VISITED except the
// first, which the candidate lands on immediately.
func NewState(cfg *model.ExamConfig, l *Layout, sessionID uuid.UUID, candidateID, language string, now time.Time) *model.ExamSessionState {
	st := &model.ExamSessionState{
		SessionID:         sessionID,
		ExamID:            cfg.ExamID,
		CandidateID:       candidateID,
		QuestionOrder:     l.Order(),
		QuestionStates:    make(map[string]*model.QuestionState, l.Len()),
		StartTime:         now,
		EndTime:           now.Add(cfg.TotalDuration),
		Language:          language,
		QuestionEnteredAt: now,
		UpdatedAt:         now,
	}
	for _, id := range l.order {
		st.QuestionStates[id] = &model.QuestionState{
			QuestionID: id,
			Status:     model.StatusNotVisited,
		}
	}
	if l.Len() > 0 {
		visit(st.QuestionStates[l.order[0]], now)
	}
	Snapshot(st, now)
	return st
}
