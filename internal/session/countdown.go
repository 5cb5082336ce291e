package session

import (
	"context"
	"sync"
	"time"
)

// Countdown is the per-session clock of an open session. Every tick it
// re-derives the remaining time from the current deadline, reports it, and
// fires onExpire at most once when the deadline has passed.
type Countdown struct {
	interval time.Duration
	now      func() time.Time
	onTick   func(remaining time.Duration)
	onExpire func()

	mu       sync.Mutex
	deadline time.Time
	paused   bool

	expireOnce sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
	done       chan struct{}
}

// NewCountdown creates a stopped countdown. onTick may be nil.
func NewCountdown(deadline time.Time, interval time.Duration, now func() time.Time, onTick func(time.Duration), onExpire func()) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Countdown{
		interval: interval,
		now:      now,
		onTick:   onTick,
		onExpire: onExpire,
		deadline: deadline,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the tick loop until Stop, ctx cancellation, or expiry.
// Call in a goroutine.
func (c *Countdown) Start(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if c.check() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
		}
	}
}

// Reset replaces the deadline, e.g. after a resume extended it.
func (c *Countdown) Reset(deadline time.Time, paused bool) {
	c.mu.Lock()
	c.deadline = deadline
	c.paused = paused
	c.mu.Unlock()
}

// Remaining returns the time left as seen by this clock.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.deadline.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// Stop ends the loop. Safe to call more than once.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed when the loop has exited.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) check() bool {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		return false
	}

	remaining := c.Remaining()
	if c.onTick != nil {
		c.onTick(remaining)
	}
	if remaining > 0 {
		return false
	}
	c.expireOnce.Do(func() {
		if c.onExpire != nil {
			c.onExpire()
		}
	})
	return true
}
