package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionStateKey returns the key holding the JSON session state of a
// candidate's attempt at an exam.
func (r *CacheKeyStruct) SessionStateKey(examID, candidateID string) string {
	return fmt.Sprintf("candidate:%s:exam:%s:session", candidateID, examID)
}

// SessionResultKey returns the key holding the frozen score of a session.
func (r *CacheKeyStruct) SessionResultKey(sessionID string) string {
	return fmt.Sprintf("session:%s:result", sessionID)
}

// SessionOwnerKey maps a session id back to its (candidate, exam) key.
func (r *CacheKeyStruct) SessionOwnerKey(sessionID string) string {
	return fmt.Sprintf("session:%s:owner", sessionID)
}

// SessionDeadlinesKey is the sorted set of open sessions scored by deadline.
func (r *CacheKeyStruct) SessionDeadlinesKey() string {
	return "sessions:deadlines"
}

// ExamConfigKey returns the cache key for an exam's question bank snapshot.
func (r *CacheKeyStruct) ExamConfigKey(examID string) string {
	return fmt.Sprintf("exam:%s:config", examID)
}

// SessionEventsChannel returns the PubSub channel for a session's
// cross-process notifications (auto-submit, result ready).
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

var CacheKey = NewCacheKeyStruct()
