package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the palette state of a single question in a session.
type QuestionStatus string

const (
	StatusNotVisited        QuestionStatus = "NOT_VISITED"
	StatusNotAnswered       QuestionStatus = "NOT_ANSWERED"
	StatusAnswered          QuestionStatus = "ANSWERED"
	StatusMarkedForReview   QuestionStatus = "MARKED_FOR_REVIEW"
	StatusAnsweredAndMarked QuestionStatus = "ANSWERED_AND_MARKED"
)

// SubmitTrigger records which path closed the session.
type SubmitTrigger string

const (
	SubmitTriggerManual  SubmitTrigger = "MANUAL"
	SubmitTriggerTimeout SubmitTrigger = "TIMEOUT"
)

// QuestionState is the mutable per-question progress inside a session.
type QuestionState struct {
	QuestionID      string         `json:"question_id"`
	Status          QuestionStatus `json:"status"`
	SelectedAnswer  *Answer        `json:"selected_answer,omitempty"`
	MarkedForReview bool           `json:"marked_for_review"`
	VisitedAt       *time.Time     `json:"visited_at,omitempty"`
	TimeTaken       float64        `json:"time_taken"`
}

// Visited reports whether the candidate has ever landed on the question.
func (q *QuestionState) Visited() bool {
	return q.VisitedAt != nil
}

// HasAnswer reports whether a non-empty answer is recorded.
func (q *QuestionState) HasAnswer() bool {
	return q.SelectedAnswer != nil && !q.SelectedAnswer.IsEmpty()
}

// Clone returns a deep copy.
func (q *QuestionState) Clone() *QuestionState {
	out := *q
	if q.SelectedAnswer != nil {
		a := q.SelectedAnswer.Clone()
		out.SelectedAnswer = &a
	}
	if q.VisitedAt != nil {
		t := *q.VisitedAt
		out.VisitedAt = &t
	}
	return &out
}

// ExamSessionState is one candidate's attempt at one exam.
type ExamSessionState struct {
	SessionID            uuid.UUID                 `json:"session_id"`
	ExamID               uuid.UUID                 `json:"exam_id"`
	CandidateID          string                    `json:"candidate_id"`
	CurrentQuestionIndex int                       `json:"current_question_index"`
	CurrentSectionIndex  int                       `json:"current_section_index"`
	QuestionOrder        []string                  `json:"question_order"`
	QuestionStates       map[string]*QuestionState `json:"question_states"`
	StartTime            time.Time                 `json:"start_time"`
	EndTime              time.Time                 `json:"end_time"`
	RemainingTime        float64                   `json:"remaining_time"`
	Language             string                    `json:"language"`
	IsSubmitted          bool                      `json:"is_submitted"`
	IsPaused             bool                      `json:"is_paused"`
	PausedAt             *time.Time                `json:"paused_at,omitempty"`
	QuestionEnteredAt    time.Time                 `json:"question_entered_at"`
	SubmittedAt          *time.Time                `json:"submitted_at,omitempty"`
	SubmitTrigger        SubmitTrigger             `json:"submit_trigger,omitempty"`
	ReportedTimeTaken    float64                   `json:"reported_time_taken,omitempty"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// CurrentQuestionID returns the id of the question under the cursor.
func (s *ExamSessionState) CurrentQuestionID() string {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionOrder) {
		return ""
	}
	return s.QuestionOrder[s.CurrentQuestionIndex]
}

// Ledger returns the recorded answers keyed by question id.
func (s *ExamSessionState) Ledger() map[string]Answer {
	out := make(map[string]Answer, len(s.QuestionStates))
	for id, qs := range s.QuestionStates {
		if qs.SelectedAnswer != nil {
			out[id] = qs.SelectedAnswer.Clone()
		}
	}
	return out
}

// Clone returns a deep copy so a failed operation can be discarded whole.
func (s *ExamSessionState) Clone() *ExamSessionState {
	out := *s
	out.QuestionOrder = append([]string(nil), s.QuestionOrder...)
	out.QuestionStates = make(map[string]*QuestionState, len(s.QuestionStates))
	for id, qs := range s.QuestionStates {
		out.QuestionStates[id] = qs.Clone()
	}
	if s.PausedAt != nil {
		t := *s.PausedAt
		out.PausedAt = &t
	}
	if s.SubmittedAt != nil {
		t := *s.SubmittedAt
		out.SubmittedAt = &t
	}
	return &out
}

// SectionScore is the per-section aggregate of a scored attempt.
type SectionScore struct {
	Attempted  int     `json:"attempted"`
	Correct    int     `json:"correct"`
	Score      float64 `json:"score"`
	TotalMarks float64 `json:"total_marks"`
}

// ScoreResult is the write-once outcome of a submitted session.
type ScoreResult struct {
	TotalScore float64                 `json:"total_score"`
	TotalMarks float64                 `json:"total_marks"`
	Percentage float64                 `json:"percentage"`
	Attempted  int                     `json:"attempted"`
	Correct    int                     `json:"correct"`
	Sections   map[string]SectionScore `json:"sections"`
}

// Clone returns a deep copy.
func (r *ScoreResult) Clone() *ScoreResult {
	out := *r
	out.Sections = make(map[string]SectionScore, len(r.Sections))
	for id, s := range r.Sections {
		out.Sections[id] = s
	}
	return &out
}

// SessionResult is the read model returned once a session is submitted.
type SessionResult struct {
	Session *ExamSessionState `json:"session"`
	Result  *ScoreResult      `json:"result"`
}

// SessionView is what a candidate sees when entering or reloading a session.
type SessionView struct {
	Session *ExamSessionState `json:"session"`
	Paper   *ExamPaper        `json:"paper,omitempty"`
	Result  *ScoreResult      `json:"result,omitempty"`
}

// SessionTick is pushed to live listeners of a session.
type SessionTick struct {
	SessionID   uuid.UUID     `json:"session_id"`
	Remaining   float64       `json:"remaining_time"`
	Paused      bool          `json:"is_paused"`
	IsSubmitted bool          `json:"is_submitted"`
	Trigger     SubmitTrigger `json:"submit_trigger,omitempty"`
	Result      *ScoreResult  `json:"result,omitempty"`
}

// ─── Requests ───────────────────────────────────────────────────────

// StartSessionRequest starts or resumes a session.
type StartSessionRequest struct {
	Language string `json:"language" binding:"omitempty,language"`
}

// NavigateRequest moves the cursor.
type NavigateRequest struct {
	Action    string `json:"action" binding:"required,oneof=next previous question section"`
	Index     *int   `json:"index" binding:"required_if=Action question"`
	SectionID string `json:"section_id" binding:"required_if=Action section"`
}

// RecordAnswerRequest records an answer for a question.
type RecordAnswerRequest struct {
	Answer *Answer `json:"answer" binding:"required"`
}

// ToggleMarkRequest sets or clears the review mark. Omitted means flip.
type ToggleMarkRequest struct {
	Marked *bool `json:"marked"`
}

// SetLanguageRequest changes the display language.
type SetLanguageRequest struct {
	Language string `json:"language" binding:"required,language"`
}

// SubmitExamRequest is the final submission payload.
type SubmitExamRequest struct {
	Answers   map[string]Answer `json:"answers"`
	TimeTaken float64           `json:"time_taken" binding:"min=0"`
}
