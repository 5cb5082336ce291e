package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// memCold is an in-memory ColdStore.
type memCold struct {
	mu       sync.Mutex
	rows     map[Key]*model.SessionResult
	saveErr  error
	saves    int
	complete int
}

func newMemCold() *memCold {
	return &memCold{rows: make(map[Key]*model.SessionResult)}
}

func (c *memCold) Create(_ context.Context, st *model.ExamSessionState) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[KeyOf(st)]; ok {
		return false, nil
	}
	c.rows[KeyOf(st)] = &model.SessionResult{Session: st.Clone()}
	return true, nil
}

func (c *memCold) GetByKey(_ context.Context, candidateID string, examID uuid.UUID) (*model.SessionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sr, ok := c.rows[Key{CandidateID: candidateID, ExamID: examID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyResult(sr), nil
}

func (c *memCold) GetByID(_ context.Context, sessionID uuid.UUID) (*model.SessionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sr := range c.rows {
		if sr.Session.SessionID == sessionID {
			return copyResult(sr), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (c *memCold) SaveState(_ context.Context, st *model.ExamSessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saves++
	c.rows[KeyOf(st)] = &model.SessionResult{Session: st.Clone()}
	return nil
}

func (c *memCold) Complete(_ context.Context, st *model.ExamSessionState, result *model.ScoreResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.complete++
	c.rows[KeyOf(st)] = &model.SessionResult{Session: st.Clone(), Result: result.Clone()}
	return nil
}

func copyResult(sr *model.SessionResult) *model.SessionResult {
	out := &model.SessionResult{Session: sr.Session.Clone()}
	if sr.Result != nil {
		out.Result = sr.Result.Clone()
	}
	return out
}

type redisHarness struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	cold  *memCold
	store *RedisStore

	writeThrough bool
}

func newRedisHarness(t *testing.T, writeThrough bool) *redisHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &redisHarness{mr: mr, rdb: rdb, cold: newMemCold(), writeThrough: writeThrough}
	h.store = h.reopen()
	return h
}

func (h *redisHarness) reopen() *RedisStore {
	return NewRedisStore(h.rdb, h.cold, h.writeThrough, time.Hour, zerolog.Nop())
}

func (h *redisHarness) queueLen(t *testing.T, queue string) int64 {
	t.Helper()
	n, err := h.rdb.LLen(context.Background(), queue).Result()
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func (h *redisHarness) create(t *testing.T, candidate string) (*model.ExamSessionState, *session.Layout) {
	t.Helper()
	cfg := mixedExam()
	l := session.NewLayout(cfg)
	st := session.NewState(cfg, l, uuid.New(), candidate, "en", t0)
	if _, created, err := h.store.Create(context.Background(), st); err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	return st, l
}

func TestRedisStore_CreateIsIdempotentPerKey(t *testing.T) {
	h := newRedisHarness(t, false)
	first, _ := h.create(t, "c1")

	cfg := mixedExam()
	second := session.NewState(cfg, session.NewLayout(cfg), uuid.New(), "c1", "en", t0)
	stored, created, err := h.store.Create(context.Background(), second)
	if err != nil {
		t.Fatal(err)
	}
	if created || stored.SessionID != first.SessionID {
		t.Errorf("second create: created=%v session=%s, want existing %s", created, stored.SessionID, first.SessionID)
	}
}

func TestRedisStore_SaveWriteThrough(t *testing.T) {
	tests := []struct {
		name       string
		coldErr    error
		wantSaves  int
		wantQueued int64
	}{
		{"cold store accepts", nil, 1, 0},
		{"cold store down falls back to queue", errors.New("postgres down"), 0, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newRedisHarness(t, true)
			st, l := h.create(t, "c1")
			h.cold.saveErr = tc.coldErr

			if err := session.RecordAnswer(st, l, "q2", model.ChoiceAnswer("B"), t0.Add(time.Minute)); err != nil {
				t.Fatal(err)
			}
			if err := h.store.Save(ctx, st); err != nil {
				t.Fatalf("Save err = %v, want nil once Redis accepted the write", err)
			}

			loaded, err := h.store.Load(ctx, KeyOf(st))
			if err != nil {
				t.Fatal(err)
			}
			if qs := loaded.QuestionStates["q2"]; qs.Status != model.StatusAnswered || qs.SelectedAnswer.String() != "B" {
				t.Errorf("q2 = %+v", qs)
			}
			if h.cold.saves != tc.wantSaves {
				t.Errorf("cold saves = %d, want %d", h.cold.saves, tc.wantSaves)
			}
			if got := h.queueLen(t, config.WorkerKey.PersistSessionsQueue); got != tc.wantQueued {
				t.Errorf("queued sessions = %d, want %d", got, tc.wantQueued)
			}
		})
	}
}

func TestRedisStore_SubmitIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	h := newRedisHarness(t, false)
	st, _ := h.create(t, "c1")

	var wins, losses int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frozen := st.Clone()
			_ = session.Freeze(frozen, t0.Add(time.Duration(i)*time.Second), model.SubmitTriggerManual)
			err := h.store.Submit(ctx, frozen, &model.ScoreResult{TotalScore: float64(i)})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, session.ErrAlreadySubmitted):
				atomic.AddInt32(&losses, 1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || losses != 7 {
		t.Fatalf("wins=%d losses=%d, want exactly one winner", wins, losses)
	}
	if got := h.queueLen(t, config.WorkerKey.PersistResultsQueue); got != 1 {
		t.Errorf("queued results = %d, want 1", got)
	}

	res, err := h.store.LoadResult(ctx, st.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Session.IsSubmitted || res.Result == nil {
		t.Fatalf("result = %+v", res)
	}

	if err := h.store.Save(ctx, st); !errors.Is(err, session.ErrAlreadySubmitted) {
		t.Errorf("save after submit err = %v", err)
	}
	if n, _ := h.rdb.ZCard(ctx, config.CacheKey.SessionDeadlinesKey()).Result(); n != 0 {
		t.Errorf("submitted session still in the deadline index (%d entries)", n)
	}
}

func TestRedisStore_HealsFromColdStore(t *testing.T) {
	ctx := context.Background()
	h := newRedisHarness(t, true)

	cfg := mixedExam()
	l := session.NewLayout(cfg)
	open := session.NewState(cfg, l, uuid.New(), "open", "en", t0)
	if err := session.RecordAnswer(open, l, "q1", model.TextAnswer("A"), t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	done := session.NewState(cfg, l, uuid.New(), "done", "en", t0)
	if err := session.Freeze(done, t0.Add(time.Minute), model.SubmitTriggerManual); err != nil {
		t.Fatal(err)
	}
	h.cold.rows[KeyOf(open)] = &model.SessionResult{Session: open.Clone()}
	h.cold.rows[KeyOf(done)] = &model.SessionResult{Session: done.Clone(), Result: &model.ScoreResult{TotalScore: 3, Sections: map[string]model.SectionScore{}}}

	t.Run("load", func(t *testing.T) {
		loaded, err := h.store.Load(ctx, KeyOf(open))
		if err != nil {
			t.Fatal(err)
		}
		if loaded.QuestionStates["q1"].SelectedAnswer.String() != "A" {
			t.Errorf("q1 = %+v", loaded.QuestionStates["q1"])
		}
		if !h.mr.Exists(config.CacheKey.SessionStateKey(open.ExamID.String(), open.CandidateID)) {
			t.Error("session state not written back to Redis")
		}
	})

	t.Run("resolve and result", func(t *testing.T) {
		key, err := h.store.ResolveID(ctx, done.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		if key != KeyOf(done) {
			t.Errorf("key = %+v, want %+v", key, KeyOf(done))
		}
		res, err := h.store.LoadResult(ctx, done.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Result == nil || res.Result.TotalScore != 3 {
			t.Errorf("result = %+v", res.Result)
		}
		if !h.mr.Exists(config.CacheKey.SessionResultKey(done.SessionID.String())) {
			t.Error("result not written back to Redis")
		}
	})

	t.Run("missing everywhere", func(t *testing.T) {
		if _, err := h.store.Load(ctx, Key{CandidateID: "ghost", ExamID: cfg.ExamID}); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Load err = %v", err)
		}
		if _, err := h.store.ResolveID(ctx, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("ResolveID err = %v", err)
		}
	})
}

func TestRedisStore_Overdue(t *testing.T) {
	ctx := context.Background()
	h := newRedisHarness(t, false)
	open, _ := h.create(t, "open")
	paused, _ := h.create(t, "paused")
	if err := session.Pause(paused, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Save(ctx, paused); err != nil {
		t.Fatal(err)
	}
	h.rdb.ZAdd(ctx, config.CacheKey.SessionDeadlinesKey(), redis.Z{Score: 1, Member: "not-a-uuid"})

	ids, err := h.store.Overdue(ctx, t0.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != open.SessionID {
		t.Errorf("overdue = %v, want only %s", ids, open.SessionID)
	}
	if _, err := h.rdb.ZScore(ctx, config.CacheKey.SessionDeadlinesKey(), "not-a-uuid").Result(); !errors.Is(err, redis.Nil) {
		t.Errorf("malformed entry kept: err = %v", err)
	}
}
