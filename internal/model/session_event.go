package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionEventType names an entry in a session's activity log.
type SessionEventType string

const (
	EventSessionStarted SessionEventType = "STARTED"
	EventSessionResumed SessionEventType = "RESUMED"
	EventNavigated      SessionEventType = "NAVIGATED"
	EventAnswered       SessionEventType = "ANSWERED"
	EventCleared        SessionEventType = "CLEARED"
	EventMarked         SessionEventType = "MARKED"
	EventPaused         SessionEventType = "PAUSED"
	EventUnpaused       SessionEventType = "UNPAUSED"
	EventSubmitted      SessionEventType = "SUBMITTED"
)

// SessionEvent is one row of the activity log.
type SessionEvent struct {
	SessionID   uuid.UUID        `json:"session_id"`
	ExamID      uuid.UUID        `json:"exam_id"`
	CandidateID string           `json:"candidate_id"`
	Type        SessionEventType `json:"type"`
	Data        json.RawMessage  `json:"data,omitempty"`
	RecordedAt  time.Time        `json:"recorded_at"`
}

// SessionSubmitted is published once a session reaches its terminal state.
type SessionSubmitted struct {
	EventID     string        `json:"event_id"`
	SessionID   uuid.UUID     `json:"session_id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	CandidateID string        `json:"candidate_id"`
	Trigger     SubmitTrigger `json:"trigger"`
	TotalScore  float64       `json:"total_score"`
	TotalMarks  float64       `json:"total_marks"`
	Percentage  float64       `json:"percentage"`
	SubmittedAt time.Time     `json:"submitted_at"`
}
