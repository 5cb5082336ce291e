package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// IsActive reports whether candidates may start or continue sessions.
func (s ExamStatus) IsActive() bool {
	return s == ExamStatusPublished || s == ExamStatusInProgress
}

// ExamConfig is the immutable question bank snapshot a session runs against.
type ExamConfig struct {
	ExamID        uuid.UUID     `json:"exam_id"`
	Title         string        `json:"title"`
	Status        ExamStatus    `json:"status"`
	Sections      []Section     `json:"sections"`
	TotalDuration time.Duration `json:"total_duration"`
}

// QuestionCount returns the number of questions across all sections.
func (c *ExamConfig) QuestionCount() int {
	n := 0
	for _, s := range c.Sections {
		n += len(s.Questions)
	}
	return n
}

// FindQuestion looks a question up by id.
func (c *ExamConfig) FindQuestion(id string) (*Question, bool) {
	for i := range c.Sections {
		for j := range c.Sections[i].Questions {
			if c.Sections[i].Questions[j].ID == id {
				return &c.Sections[i].Questions[j], true
			}
		}
	}
	return nil, false
}

// ExamPaper is the candidate-facing view of an exam (no answer keys).
type ExamPaper struct {
	ExamID          uuid.UUID      `json:"exam_id"`
	Title           string         `json:"title"`
	DurationMinutes int            `json:"duration_minutes"`
	Sections        []PaperSection `json:"sections"`
}

// PaperSection is a section as shown to candidates.
type PaperSection struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Questions []QuestionForCandidate `json:"questions"`
}

// Paper strips answer keys from the config.
func (c *ExamConfig) Paper() *ExamPaper {
	paper := &ExamPaper{
		ExamID:          c.ExamID,
		Title:           c.Title,
		DurationMinutes: int(c.TotalDuration / time.Minute),
		Sections:        make([]PaperSection, len(c.Sections)),
	}
	for i, s := range c.Sections {
		qs := make([]QuestionForCandidate, len(s.Questions))
		for j, q := range s.Questions {
			qs[j] = QuestionForCandidate{
				ID:        q.ID,
				SectionID: q.SectionID,
				Type:      q.Type,
				Text:      q.Text,
				Options:   q.Options,
				Marks:     q.Marks,
				Negative:  q.NegativeMarks,
			}
		}
		paper.Sections[i] = PaperSection{ID: s.ID, Name: s.Name, Questions: qs}
	}
	return paper
}
