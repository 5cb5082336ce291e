package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionBank supplies immutable exam snapshots.
type QuestionBank interface {
	GetExamConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error)
}

// ExamService serves question bank snapshots from Redis, loading them from
// PostgreSQL on a miss.
type ExamService struct {
	source QuestionBank
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewExamService creates a new ExamService. source is usually the
// ExamRepository; a nil rdb disables caching.
func NewExamService(source QuestionBank, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "exam_service").Logger(),
	}
}

// GetExamConfig returns the snapshot of an exam.
func (s *ExamService) GetExamConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, config.CacheKey.ExamConfigKey(examID.String())).Bytes()
		switch {
		case err == nil:
			var cfg model.ExamConfig
			if err := json.Unmarshal(data, &cfg); err == nil {
				return &cfg, nil
			}
			s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt exam cache entry, reloading")
		case !errors.Is(err, redis.Nil):
			s.log.Warn().Err(err).Msg("Exam cache unavailable, reading from database")
		}
	}

	cfg, err := s.source.GetExamConfig(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam config: %w", err)
	}

	if s.rdb != nil {
		s.cache(ctx, cfg)
	}
	return cfg, nil
}

// WarmExamCache loads an exam into Redis ahead of the first candidate.
func (s *ExamService) WarmExamCache(ctx context.Context, examID uuid.UUID) error {
	cfg, err := s.source.GetExamConfig(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExamNotFound
		}
		return fmt.Errorf("get exam config: %w", err)
	}
	if s.rdb == nil {
		return nil
	}
	s.cache(ctx, cfg)

	s.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", cfg.QuestionCount()).
		Msg("Cache warmed")
	return nil
}

// GetPaper returns the candidate-facing exam without answer keys.
func (s *ExamService) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	cfg, err := s.GetExamConfig(ctx, examID)
	if err != nil {
		return nil, err
	}
	return cfg.Paper(), nil
}

func (s *ExamService) cache(ctx context.Context, cfg *model.ExamConfig) {
	data, err := json.Marshal(cfg)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal exam config")
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamConfigKey(cfg.ExamID.String()), data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", cfg.ExamID.String()).Msg("Failed to cache exam config")
	}
}
