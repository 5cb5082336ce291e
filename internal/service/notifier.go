package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// Notifier carries session updates to other processes.
type Notifier interface {
	Notify(ctx context.Context, tick *model.SessionTick) error
}

// ActivityRecorder appends to the session activity log. It must not block.
type ActivityRecorder interface {
	Record(ctx context.Context, e *model.SessionEvent)
}

// RedisNotifier publishes updates on the session's PubSub channel.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a RedisNotifier.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Notify(ctx context.Context, tick *model.SessionTick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	channel := config.CacheKey.SessionEventsChannel(tick.SessionID.String())
	if err := n.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish tick: %w", err)
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *model.SessionTick) error { return nil }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *model.SessionEvent) {}

// hub fans ticks out to in-process listeners. Slow listeners miss regular
// ticks rather than stall the countdown.
type hub struct {
	mu       sync.Mutex
	watchers map[uuid.UUID]*watcherSet
}

type watcherSet struct {
	chans map[chan model.SessionTick]struct{}
}

func newHub() *hub {
	return &hub{watchers: make(map[uuid.UUID]*watcherSet)}
}

func (h *hub) watch(sessionID uuid.UUID) (<-chan model.SessionTick, func()) {
	ch := make(chan model.SessionTick, 4)

	h.mu.Lock()
	set, ok := h.watchers[sessionID]
	if !ok {
		set = &watcherSet{chans: make(map[chan model.SessionTick]struct{})}
		h.watchers[sessionID] = set
	}
	set.chans[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(set.chans, ch)
			if len(set.chans) == 0 && h.watchers[sessionID] == set {
				delete(h.watchers, sessionID)
			}
			h.mu.Unlock()
		})
	}
}

func (h *hub) broadcast(tick model.SessionTick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[tick.SessionID]
	if !ok {
		return
	}
	for ch := range set.chans {
		select {
		case ch <- tick:
		default:
			if tick.IsSubmitted {
				// The closing tick must arrive: evict the oldest one.
				select {
				case <-ch:
				default:
				}
				ch <- tick
			}
		}
	}
}
