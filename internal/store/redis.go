package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

const maxTxRetries = 5

// ColdStore is the durable copy of sessions behind the Redis hot lane.
// Lookups report pgx.ErrNoRows when nothing is stored.
type ColdStore interface {
	Create(ctx context.Context, st *model.ExamSessionState) (bool, error)
	GetByKey(ctx context.Context, candidateID string, examID uuid.UUID) (*model.SessionResult, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (*model.SessionResult, error)
	SaveState(ctx context.Context, st *model.ExamSessionState) error
	Complete(ctx context.Context, st *model.ExamSessionState, result *model.ScoreResult) error
}

// RedisStore keeps the live copy of every open session in Redis and mirrors
// it to a ColdStore, either synchronously or through the persist queues.
// A Redis miss falls back to the cold copy and re-populates Redis.
type RedisStore struct {
	rdb          *redis.Client
	cold         ColdStore
	writeThrough bool
	retention    time.Duration
	log          zerolog.Logger
}

// NewRedisStore creates a RedisStore. retention is how long keys outlive the
// session deadline.
func NewRedisStore(rdb *redis.Client, cold ColdStore, writeThrough bool, retention time.Duration, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb:          rdb,
		cold:         cold,
		writeThrough: writeThrough,
		retention:    retention,
		log:          log.With().Str("component", "session_store").Logger(),
	}
}

func (s *RedisStore) Load(ctx context.Context, key Key) (*model.ExamSessionState, error) {
	st, err := s.get(ctx, s.rdb, key)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	// Cache miss: fallback to postgres.
	sr, err := s.cold.GetByKey(ctx, key.CandidateID, key.ExamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load cold session: %w", err)
	}
	s.heal(ctx, sr)
	return sr.Session, nil
}

func (s *RedisStore) Create(ctx context.Context, st *model.ExamSessionState) (*model.ExamSessionState, bool, error) {
	created, err := s.cold.Create(ctx, st)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	if !created {
		existing, err := s.Load(ctx, KeyOf(st))
		return existing, false, err
	}

	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.writeState(ctx, pipe, st)
	}); err != nil {
		return nil, false, fmt.Errorf("cache session: %w", err)
	}
	return st.Clone(), true, nil
}

func (s *RedisStore) Save(ctx context.Context, st *model.ExamSessionState) error {
	err := s.guarded(ctx, KeyOf(st), func(pipe redis.Pipeliner) error {
		return s.writeState(ctx, pipe, st)
	})
	if err != nil {
		return err
	}
	s.persistState(ctx, st)
	return nil
}

func (s *RedisStore) Submit(ctx context.Context, st *model.ExamSessionState, result *model.ScoreResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	err = s.guarded(ctx, KeyOf(st), func(pipe redis.Pipeliner) error {
		if err := s.writeState(ctx, pipe, st); err != nil {
			return err
		}
		pipe.Set(ctx, config.CacheKey.SessionResultKey(st.SessionID.String()), resultJSON, s.retention)
		return nil
	})
	if err != nil {
		return err
	}
	return s.persistResult(ctx, st, result)
}

func (s *RedisStore) LoadResult(ctx context.Context, sessionID uuid.UUID) (*model.SessionResult, error) {
	key, err := s.ResolveID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	out := &model.SessionResult{Session: st}
	if !st.IsSubmitted {
		return out, nil
	}

	raw, err := s.rdb.Get(ctx, config.CacheKey.SessionResultKey(sessionID.String())).Bytes()
	if err == nil {
		var r model.ScoreResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out.Result = &r
		return out, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load result: %w", err)
	}

	sr, err := s.cold.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("load cold result: %w", err)
	}
	if sr.Result == nil {
		// Submitted in Redis but the result worker has not caught up and the
		// result key is gone; nothing left to serve.
		return nil, ErrResultNotFound
	}
	s.heal(ctx, sr)
	out.Result = sr.Result
	return out, nil
}

func (s *RedisStore) ResolveID(ctx context.Context, sessionID uuid.UUID) (Key, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.SessionOwnerKey(sessionID.String())).Result()
	if err == nil {
		return parseOwner(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return Key{}, fmt.Errorf("resolve session: %w", err)
	}

	sr, err := s.cold.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Key{}, ErrSessionNotFound
		}
		return Key{}, fmt.Errorf("resolve cold session: %w", err)
	}
	s.heal(ctx, sr)
	return KeyOf(sr.Session), nil
}

// Overdue reads the deadline index. Members are session ids scored by the
// deadline in unix milliseconds.
func (s *RedisStore) Overdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	members, err := s.rdb.ZRangeByScore(ctx, config.CacheKey.SessionDeadlinesKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read deadlines: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			s.log.Warn().Str("member", m).Msg("Dropping malformed deadline entry")
			s.rdb.ZRem(ctx, config.CacheKey.SessionDeadlinesKey(), m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// guarded runs write inside WATCH/MULTI on the session key, after checking
// that the stored copy is still open. Concurrent writers retry; a writer
// that loses to a submission sees ErrAlreadySubmitted.
func (s *RedisStore) guarded(ctx context.Context, key Key, write func(pipe redis.Pipeliner) error) error {
	stateKey := config.CacheKey.SessionStateKey(key.ExamID.String(), key.CandidateID)

	txf := func(tx *redis.Tx) error {
		stored, err := s.get(ctx, tx, key)
		switch {
		case errors.Is(err, redis.Nil):
			sr, err := s.cold.GetByKey(ctx, key.CandidateID, key.ExamID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrSessionNotFound
				}
				return fmt.Errorf("load cold session: %w", err)
			}
			stored = sr.Session
		case err != nil:
			return fmt.Errorf("load session: %w", err)
		}
		if stored.IsSubmitted {
			return session.ErrAlreadySubmitted
		}

		_, err = tx.TxPipelined(ctx, write)
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, stateKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("write session: %w", redis.TxFailedErr)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, key Key) (*model.ExamSessionState, error) {
	raw, err := c.Get(ctx, config.CacheKey.SessionStateKey(key.ExamID.String(), key.CandidateID)).Bytes()
	if err != nil {
		return nil, err
	}
	var st model.ExamSessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &st, nil
}

// writeState queues the state, owner and deadline index updates on pipe.
func (s *RedisStore) writeState(ctx context.Context, pipe redis.Pipeliner, st *model.ExamSessionState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := s.ttl(st)
	sid := st.SessionID.String()

	pipe.Set(ctx, config.CacheKey.SessionStateKey(st.ExamID.String(), st.CandidateID), data, ttl)
	pipe.Set(ctx, config.CacheKey.SessionOwnerKey(sid), formatOwner(KeyOf(st)), ttl)

	if st.IsSubmitted || st.IsPaused {
		pipe.ZRem(ctx, config.CacheKey.SessionDeadlinesKey(), sid)
	} else {
		pipe.ZAdd(ctx, config.CacheKey.SessionDeadlinesKey(), redis.Z{
			Score:  float64(st.EndTime.UnixMilli()),
			Member: sid,
		})
	}
	return nil
}

// heal re-populates Redis from a cold copy.
func (s *RedisStore) heal(ctx context.Context, sr *model.SessionResult) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.writeState(ctx, pipe, sr.Session); err != nil {
			return err
		}
		if sr.Result != nil {
			data, err := json.Marshal(sr.Result)
			if err != nil {
				return err
			}
			pipe.Set(ctx, config.CacheKey.SessionResultKey(sr.Session.SessionID.String()), data, s.retention)
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sr.Session.SessionID.String()).Msg("Failed to self-heal session cache")
	}
}

// persistState mirrors an accepted write to the cold store. Once Redis holds
// the new state the save has happened, so a failed synchronous write falls
// back to the sessions queue instead of failing the caller.
func (s *RedisStore) persistState(ctx context.Context, st *model.ExamSessionState) {
	if s.writeThrough {
		err := s.cold.SaveState(ctx, st)
		if err == nil {
			return
		}
		s.log.Warn().Err(err).Str("session_id", st.SessionID.String()).Msg("Write-through of session failed, queueing")
	}

	data, err := json.Marshal(st)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", st.SessionID.String()).Msg("Failed to encode session for persistence")
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, data).Err(); err != nil {
		s.log.Error().Err(err).Str("session_id", st.SessionID.String()).Msg("Failed to queue session for persistence")
	}
}

// persistResult never fails the submission once Redis has accepted it: a
// failed synchronous write falls back to the results queue.
func (s *RedisStore) persistResult(ctx context.Context, st *model.ExamSessionState, result *model.ScoreResult) error {
	if s.writeThrough {
		err := s.cold.Complete(ctx, st, result)
		if err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("session_id", st.SessionID.String()).Msg("Write-through of result failed, queueing")
	}

	data, err := json.Marshal(model.SessionResult{Session: st, Result: result})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, data).Err(); err != nil {
		s.log.Error().Err(err).Str("session_id", st.SessionID.String()).Msg("Failed to queue result for persistence")
	}
	return nil
}

func (s *RedisStore) ttl(st *model.ExamSessionState) time.Duration {
	until := time.Until(st.EndTime)
	if until < 0 {
		until = 0
	}
	return until + s.retention
}

func formatOwner(k Key) string {
	return k.ExamID.String() + "|" + k.CandidateID
}

func parseOwner(raw string) (Key, error) {
	examRaw, candidate, ok := strings.Cut(raw, "|")
	if !ok {
		return Key{}, fmt.Errorf("malformed session owner %q", raw)
	}
	examID, err := uuid.Parse(examRaw)
	if err != nil {
		return Key{}, fmt.Errorf("malformed session owner %q: %w", raw, err)
	}
	return Key{CandidateID: candidate, ExamID: examID}, nil
}
