package session

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Remaining is re-derived from the deadline on every call so that process
// sleep or a backgrounded client never skews it. While paused the clock is
// frozen at the pause instant.
func Remaining(st *model.ExamSessionState, now time.Time) time.Duration {
	ref := now
	if st.IsPaused && st.PausedAt != nil {
		ref = *st.PausedAt
	}
	if st.IsSubmitted && st.SubmittedAt != nil {
		return time.Duration(st.RemainingTime * float64(time.Second))
	}
	d := st.EndTime.Sub(ref)
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether an open, running session is past its deadline.
func Expired(st *model.ExamSessionState, now time.Time) bool {
	if st.IsSubmitted || st.IsPaused {
		return false
	}
	return !now.Before(st.EndTime)
}

// Snapshot refreshes the informational RemainingTime field.
func Snapshot(st *model.ExamSessionState, now time.Time) {
	if st.IsSubmitted {
		return
	}
	st.RemainingTime = Remaining(st, now).Seconds()
}

// Pause freezes the countdown. Pausing twice is a no-op.
func Pause(st *model.ExamSessionState, now time.Time) error {
	if st.IsSubmitted {
		return ErrAlreadySubmitted
	}
	if st.IsPaused {
		return nil
	}
	accrue(st, now)
	t := now
	st.PausedAt = &t
	st.IsPaused = true
	st.UpdatedAt = now
	Snapshot(st, now)
	return nil
}

// Resume extends the deadline by the paused span instead of restarting a
// stopped clock.
func Resume(st *model.ExamSessionState, now time.Time) error {
	if st.IsSubmitted {
		return ErrAlreadySubmitted
	}
	if !st.IsPaused {
		return nil
	}
	if st.PausedAt != nil && now.After(*st.PausedAt) {
		st.EndTime = st.EndTime.Add(now.Sub(*st.PausedAt))
	}
	st.IsPaused = false
	st.PausedAt = nil
	st.QuestionEnteredAt = now
	st.UpdatedAt = now
	Snapshot(st, now)
	return nil
}

// Freeze closes the session at the submit instant. It is the only place
// IsSubmitted flips to true.
func Freeze(st *model.ExamSessionState, now time.Time, trigger model.SubmitTrigger) error {
	if st.IsSubmitted {
		return ErrAlreadySubmitted
	}
	until := now
	if !st.IsPaused && st.EndTime.Before(now) {
		until = st.EndTime
	}
	accrue(st, until)
	remaining := Remaining(st, now)
	if trigger == model.SubmitTriggerTimeout {
		remaining = 0
	}

	t := now
	st.RemainingTime = remaining.Seconds()
	st.EndTime = now
	st.SubmittedAt = &t
	st.SubmitTrigger = trigger
	st.IsPaused = false
	st.PausedAt = nil
	st.IsSubmitted = true
	st.UpdatedAt = now
	return nil
}

// accrue adds the time spent on the current question since it was entered.
func accrue(st *model.ExamSessionState, now time.Time) {
	if st.IsPaused {
		return
	}
	qs, ok := st.QuestionStates[st.CurrentQuestionID()]
	if ok {
		if d := now.Sub(st.QuestionEnteredAt); d > 0 {
			qs.TimeTaken += d.Seconds()
		}
	}
	st.QuestionEnteredAt = now
}
