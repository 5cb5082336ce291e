package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-session/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing     Action = "ping"
	ActionSync     Action = "sync"
	ActionAnswer   Action = "answer"
	ActionClear    Action = "clear"
	ActionMark     Action = "mark"
	ActionNavigate Action = "navigate"
	ActionSubmit   Action = "submit"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// AnswerRequest records or clears a single answer.
type AnswerRequest struct {
	Action     Action       `json:"action"`
	QuestionID string       `json:"question_id"`
	Answer     model.Answer `json:"answer"`
}

// MarkRequest sets or flips the review mark of a question.
type MarkRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
	Marked     *bool  `json:"marked,omitempty"`
}

// NavigateRequest moves the cursor.
type NavigateRequest struct {
	Action Action `json:"action"`
	model.NavigateRequest
}

// SubmitRequest finishes the exam.
type SubmitRequest struct {
	Action    Action                  `json:"action"`
	Answers   map[string]model.Answer `json:"answers,omitempty"`
	TimeTaken float64                 `json:"time_taken"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventPong      Event = "pong"
	EventState     Event = "state"
	EventTick      Event = "tick"
	EventSubmitted Event = "submitted"
)

type StateResponse struct {
	Event   Event                   `json:"event"`
	Session *model.ExamSessionState `json:"session"`
}

type TickResponse struct {
	Event     Event   `json:"event"`
	Remaining float64 `json:"remaining_time"`
}

type SubmittedResponse struct {
	Event   Event               `json:"event"`
	Trigger model.SubmitTrigger `json:"submit_trigger"`
	Result  *model.ScoreResult  `json:"result,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
