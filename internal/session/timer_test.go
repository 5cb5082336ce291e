package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

func TestRemainingIsDerivedFromDeadline(t *testing.T) {
	st, _ := newTestState(t)

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"at start", t0, time.Hour},
		{"half way", t0.Add(30 * time.Minute), 30 * time.Minute},
		{"at deadline", t0.Add(time.Hour), 0},
		{"past deadline clamps", t0.Add(2 * time.Hour), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Remaining(st, tc.now); got != tc.want {
				t.Errorf("Remaining = %v, want %v", got, tc.want)
			}
		})
	}

	if Expired(st, t0.Add(59*time.Minute)) {
		t.Error("expired before deadline")
	}
	if !Expired(st, t0.Add(time.Hour)) {
		t.Error("not expired at deadline")
	}
}

func TestPauseResumeExtendsDeadline(t *testing.T) {
	st, l := newTestState(t)

	if err := Pause(st, t0.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := Pause(st, t0.Add(11*time.Minute)); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if got := Remaining(st, t0.Add(40*time.Minute)); got != 50*time.Minute {
		t.Errorf("remaining while paused = %v, want 50m", got)
	}
	if Expired(st, t0.Add(3*time.Hour)) {
		t.Error("paused session reported as expired")
	}
	if err := GoToNext(st, l, t0.Add(20*time.Minute)); !errors.Is(err, ErrSessionPaused) {
		t.Errorf("navigate while paused err = %v", err)
	}

	if err := Resume(st, t0.Add(40*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if !st.EndTime.Equal(t0.Add(90 * time.Minute)) {
		t.Errorf("end time = %v, want start+90m", st.EndTime.Sub(t0))
	}
	if got := Remaining(st, t0.Add(40*time.Minute)); got != 50*time.Minute {
		t.Errorf("remaining after resume = %v, want 50m", got)
	}
	// Paused span is not charged to the current question.
	if got := st.QuestionStates["q1"].TimeTaken; got != 600 {
		t.Errorf("q1 time taken = %v, want 600", got)
	}
}

func TestFreezeOnTimeout(t *testing.T) {
	st, _ := newTestState(t)
	late := t0.Add(time.Hour + 5*time.Second)

	if err := Freeze(st, late, model.SubmitTriggerTimeout); err != nil {
		t.Fatal(err)
	}
	if !st.IsSubmitted || st.SubmitTrigger != model.SubmitTriggerTimeout {
		t.Fatalf("not frozen: %+v", st)
	}
	if st.RemainingTime != 0 {
		t.Errorf("remaining = %v, want 0", st.RemainingTime)
	}
	if got := st.QuestionStates["q1"].TimeTaken; got != 3600 {
		t.Errorf("time accrued past deadline: %v", got)
	}
	if !st.EndTime.Equal(late) {
		t.Errorf("end time not frozen at submit instant")
	}
}

func TestFreezeManualKeepsRemaining(t *testing.T) {
	st, _ := newTestState(t)
	if err := Freeze(st, t0.Add(15*time.Minute), model.SubmitTriggerManual); err != nil {
		t.Fatal(err)
	}
	if st.RemainingTime != 45*60 {
		t.Errorf("remaining = %v, want 2700", st.RemainingTime)
	}
	if got := Remaining(st, t0.Add(50*time.Minute)); got != 45*time.Minute {
		t.Errorf("submitted session clock moved: %v", got)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCountdownExpiresOnce(t *testing.T) {
	clock := &fakeClock{now: t0}
	var expired, ticks int32

	cd := NewCountdown(t0.Add(3*time.Second), time.Millisecond, clock.Now,
		func(time.Duration) { atomic.AddInt32(&ticks, 1) },
		func() { atomic.AddInt32(&expired, 1) },
	)
	go cd.Start(context.Background())

	time.Sleep(5 * time.Millisecond)
	if atomic.LoadInt32(&expired) != 0 {
		t.Fatal("expired before deadline")
	}
	clock.Advance(4 * time.Second)

	select {
	case <-cd.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not stop after expiry")
	}
	cd.Stop()
	cd.Stop()

	if got := atomic.LoadInt32(&expired); got != 1 {
		t.Errorf("onExpire fired %d times, want 1", got)
	}
	if atomic.LoadInt32(&ticks) == 0 {
		t.Error("no ticks reported")
	}
	if cd.Remaining() != 0 {
		t.Errorf("remaining = %v", cd.Remaining())
	}
}

func TestCountdownPausedDoesNotExpire(t *testing.T) {
	clock := &fakeClock{now: t0}
	var expired int32

	cd := NewCountdown(t0.Add(time.Second), time.Millisecond, clock.Now, nil,
		func() { atomic.AddInt32(&expired, 1) })
	cd.Reset(t0.Add(time.Second), true)

	ctx, cancel := context.WithCancel(context.Background())
	go cd.Start(ctx)

	clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&expired) != 0 {
		t.Error("paused countdown expired")
	}

	cancel()
	select {
	case <-cd.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown ignored context cancellation")
	}
}
