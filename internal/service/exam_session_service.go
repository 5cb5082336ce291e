package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/event"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/scoring"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/store"
)

const (
	defaultLanguage = "en"
	expireTimeout   = 10 * time.Second
)

// ExamSessionService is the submission coordinator and the entry point for
// every session operation. Each operation loads the session, applies the
// pure state machine to a copy, and saves the copy only on success.
type ExamSessionService struct {
	bank      QuestionBank
	store     store.SessionStore
	scorer    *scoring.Scorer
	publisher event.Publisher
	notifier  Notifier
	activity  ActivityRecorder
	log       zerolog.Logger

	now  func() time.Time
	tick time.Duration

	locks *keyedMutex
	hub   *hub

	mu         sync.Mutex
	countdowns map[uuid.UUID]*session.Countdown
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures an ExamSessionService.
type Option func(*ExamSessionService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *ExamSessionService) { s.now = now }
}

// WithTickInterval sets how often open sessions report remaining time.
func WithTickInterval(d time.Duration) Option {
	return func(s *ExamSessionService) { s.tick = d }
}

// WithPublisher sets the sink for submission events.
func WithPublisher(p event.Publisher) Option {
	return func(s *ExamSessionService) { s.publisher = p }
}

// WithNotifier sets the cross-process notifier.
func WithNotifier(n Notifier) Option {
	return func(s *ExamSessionService) { s.notifier = n }
}

// WithActivity sets the activity log recorder.
func WithActivity(a ActivityRecorder) Option {
	return func(s *ExamSessionService) { s.activity = a }
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(bank QuestionBank, st store.SessionStore, scorer *scoring.Scorer, log zerolog.Logger, opts ...Option) *ExamSessionService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ExamSessionService{
		bank:       bank,
		store:      st,
		scorer:     scorer,
		publisher:  event.NopPublisher{},
		notifier:   nopNotifier{},
		activity:   nopRecorder{},
		log:        log.With().Str("component", "exam_session_service").Logger(),
		now:        time.Now,
		tick:       time.Second,
		locks:      newKeyedMutex(),
		hub:        newHub(),
		countdowns: make(map[uuid.UUID]*session.Countdown),
		ctx:        ctx,
		cancel:     cancel,
	}
	if s.scorer == nil {
		s.scorer = scoring.New(nil)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops every countdown and waits for them to exit.
func (s *ExamSessionService) Close() {
	s.cancel()
	s.wg.Wait()
}

// StartSession creates the candidate's session for an exam or resumes the
// existing one. A session whose deadline passed while nobody watched it is
// submitted on the spot and returned frozen.
func (s *ExamSessionService) StartSession(ctx context.Context, candidateID string, examID uuid.UUID, language string) (*model.SessionView, error) {
	cfg, err := s.bank.GetExamConfig(ctx, examID)
	if err != nil {
		return nil, err
	}

	key := store.Key{CandidateID: candidateID, ExamID: examID}
	unlock := s.locks.Lock(key)
	defer unlock()

	now := s.now()
	st, err := s.store.Load(ctx, key)
	switch {
	case err == nil:
		return s.resume(ctx, cfg, st, now)
	case !errors.Is(err, store.ErrSessionNotFound):
		return nil, fmt.Errorf("load session: %w", err)
	}

	if !cfg.Status.IsActive() {
		return nil, ErrExamNotActive
	}
	if language == "" {
		language = defaultLanguage
	}

	fresh := session.NewState(cfg, session.NewLayout(cfg), uuid.New(), candidateID, language, now)
	stored, created, err := s.store.Create(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !created {
		return s.resume(ctx, cfg, stored, now)
	}

	metrics.SessionsStarted.WithLabelValues("created").Inc()
	s.record(ctx, stored, model.EventSessionStarted, nil, now)
	s.watch(stored)

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("candidate_id", candidateID).
		Str("session_id", stored.SessionID.String()).
		Msg("Session started")

	return &model.SessionView{Session: stored, Paper: cfg.Paper()}, nil
}

func (s *ExamSessionService) resume(ctx context.Context, cfg *model.ExamConfig, st *model.ExamSessionState, now time.Time) (*model.SessionView, error) {
	view := &model.SessionView{Paper: cfg.Paper()}

	if session.Expired(st, now) {
		res, err := s.submitLocked(ctx, cfg, st, nil, 0, model.SubmitTriggerTimeout, now)
		if err != nil && !errors.Is(err, session.ErrAlreadySubmitted) {
			return nil, err
		}
		if err == nil {
			view.Session, view.Result = res.Session, res.Result
			return view, nil
		}
		// Lost the race to another process; serve what it stored.
		return s.frozenView(ctx, view, st.SessionID)
	}

	if st.IsSubmitted {
		return s.frozenView(ctx, view, st.SessionID)
	}

	session.Snapshot(st, now)
	metrics.SessionsStarted.WithLabelValues("resumed").Inc()
	s.record(ctx, st, model.EventSessionResumed, nil, now)
	s.watch(st)
	view.Session = st
	return view, nil
}

func (s *ExamSessionService) frozenView(ctx context.Context, view *model.SessionView, sessionID uuid.UUID) (*model.SessionView, error) {
	res, err := s.store.LoadResult(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	view.Session, view.Result = res.Session, res.Result
	return view, nil
}

// GetState returns the current session with a fresh remaining time.
func (s *ExamSessionService) GetState(ctx context.Context, candidateID string, examID uuid.UUID) (*model.ExamSessionState, error) {
	key := store.Key{CandidateID: candidateID, ExamID: examID}
	st, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if session.Expired(st, now) {
		if err := s.ForceSubmit(ctx, st.SessionID); err != nil {
			return nil, err
		}
		return s.store.Load(ctx, key)
	}
	session.Snapshot(st, now)
	// A process serving a session it did not start still owns its clock.
	s.watch(st)
	return st, nil
}

// Navigate moves the cursor according to req.
func (s *ExamSessionService) Navigate(ctx context.Context, candidateID string, examID uuid.UUID, req *model.NavigateRequest) (*model.ExamSessionState, error) {
	return s.mutate(ctx, candidateID, examID, "navigate", func(st *model.ExamSessionState, l *session.Layout, now time.Time) (*loggedEvent, error) {
		var err error
		switch req.Action {
		case "next":
			err = session.GoToNext(st, l, now)
		case "previous":
			err = session.GoToPrevious(st, l, now)
		case "question":
			if req.Index == nil {
				return nil, session.ErrQuestionNotFound
			}
			err = session.GoToQuestion(st, l, *req.Index, now)
		case "section":
			err = session.NavigateToSection(st, l, req.SectionID, now)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownNavigation, req.Action)
		}
		if err != nil {
			return nil, err
		}
		return &loggedEvent{typ: model.EventNavigated, data: map[string]any{
			"action": req.Action,
			"index":  st.CurrentQuestionIndex,
		}}, nil
	})
}

// RecordAnswer stores an answer for a question.
func (s *ExamSessionService) RecordAnswer(ctx context.Context, candidateID string, examID uuid.UUID, questionID string, answer model.Answer) (*model.ExamSessionState, error) {
	return s.mutate(ctx, candidateID, examID, "record_answer", func(st *model.ExamSessionState, l *session.Layout, now time.Time) (*loggedEvent, error) {
		if err := session.RecordAnswer(st, l, questionID, answer, now); err != nil {
			return nil, err
		}
		return &loggedEvent{typ: model.EventAnswered, data: map[string]any{"question_id": questionID}}, nil
	})
}

// ClearAnswer removes the answer of a question.
func (s *ExamSessionService) ClearAnswer(ctx context.Context, candidateID string, examID uuid.UUID, questionID string) (*model.ExamSessionState, error) {
	return s.mutate(ctx, candidateID, examID, "clear_answer", func(st *model.ExamSessionState, l *session.Layout, now time.Time) (*loggedEvent, error) {
		if err := session.ClearAnswer(st, l, questionID, now); err != nil {
			return nil, err
		}
		return &loggedEvent{typ: model.EventCleared, data: map[string]any{"question_id": questionID}}, nil
	})
}

// ToggleMark sets or flips the review mark of a question.
func (s *ExamSessionService) ToggleMark(ctx context.Context, candidateID string, examID uuid.UUID, questionID string, marked *bool) (*model.ExamSessionState, error) {
	return s.mutate(ctx, candidateID, examID, "toggle_mark", func(st *model.ExamSessionState, l *session.Layout, now time.Time) (*loggedEvent, error) {
		if err := session.ToggleMark(st, l, questionID, marked, now); err != nil {
			return nil, err
		}
		return &loggedEvent{typ: model.EventMarked, data: map[string]any{
			"question_id": questionID,
			"marked":      st.QuestionStates[questionID].MarkedForReview,
		}}, nil
	})
}

// SaveAndNext advances past the current question if it is answered.
func (s *ExamSessionService) SaveAndNext(ctx context.Context, candidateID string, examID uuid.UUID) (*model.ExamSessionState, bool, error) {
	var moved bool
	st, err := s.mutate(ctx, candidateID, examID, "save_next", func(st *model.ExamSessionState, l *session.Layout, now time.Time) (*loggedEvent, error) {
		var err error
		moved, err = session.SaveAndNext(st, l, now)
		return nil, err
	})
	return st, moved, err
}

// MarkAndNext marks the current question and advances.
func (s *ExamSessionService) MarkAndNext(ctx context.Context, candidateID string, examID uuid.UUID) (*model.ExamSessionState, error) {
	return s.mutate(ctx, candidateID, examID, "mark_next", func(st *model.ExamSessionState, l *session.Layout, now time.Time) (*loggedEvent, error) {
		return nil, session.MarkAndNext(st, l, now)
	})
}

// PauseSession freezes the countdown.
func (s *ExamSessionService) PauseSession(ctx context.Context, candidateID string, examID uuid.UUID) (*model.ExamSessionState, error) {
	st, err := s.mutate(ctx, candidateID, examID, "pause", func(st *model.ExamSessionState, _ *session.Layout, now time.Time) (*loggedEvent, error) {
		if err := session.Pause(st, now); err != nil {
			return nil, err
		}
		return &loggedEvent{typ: model.EventPaused}, nil
	})
	if err != nil {
		return nil, err
	}
	s.watch(st)
	return st, nil
}

// ResumeSession restarts a paused countdown, extending the deadline by the
// paused span.
func (s *ExamSessionService) ResumeSession(ctx context.Context, candidateID string, examID uuid.UUID) (*model.ExamSessionState, error) {
	st, err := s.mutate(ctx, candidateID, examID, "resume", func(st *model.ExamSessionState, _ *session.Layout, now time.Time) (*loggedEvent, error) {
		if err := session.Resume(st, now); err != nil {
			return nil, err
		}
		return &loggedEvent{typ: model.EventUnpaused}, nil
	})
	if err != nil {
		return nil, err
	}
	s.watch(st)
	return st, nil
}

// SetLanguage changes the candidate's display language.
func (s *ExamSessionService) SetLanguage(ctx context.Context, candidateID string, examID uuid.UUID, language string) (*model.ExamSessionState, error) {
	return s.mutate(ctx, candidateID, examID, "set_language", func(st *model.ExamSessionState, _ *session.Layout, now time.Time) (*loggedEvent, error) {
		return nil, session.SetLanguage(st, language, now)
	})
}

// loggedEvent is the activity log entry a mutation leaves once it has been saved.
type loggedEvent struct {
	typ  model.SessionEventType
	data map[string]any
}

type mutation func(st *model.ExamSessionState, l *session.Layout, now time.Time) (*loggedEvent, error)

// mutate runs fn on a copy of the stored session under the session lock and
// saves the copy only when fn succeeds. The event fn returns is recorded
// after the save.
func (s *ExamSessionService) mutate(ctx context.Context, candidateID string, examID uuid.UUID, op string, fn mutation) (*model.ExamSessionState, error) {
	out, err := s.doMutate(ctx, candidateID, examID, fn)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SessionOperations.WithLabelValues(op, status).Inc()
	return out, err
}

func (s *ExamSessionService) doMutate(ctx context.Context, candidateID string, examID uuid.UUID, fn mutation) (*model.ExamSessionState, error) {
	cfg, err := s.bank.GetExamConfig(ctx, examID)
	if err != nil {
		return nil, err
	}

	key := store.Key{CandidateID: candidateID, ExamID: examID}
	unlock := s.locks.Lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if st.IsSubmitted {
		return nil, session.ErrAlreadySubmitted
	}

	now := s.now()
	if session.Expired(st, now) {
		if _, err := s.submitLocked(ctx, cfg, st, nil, 0, model.SubmitTriggerTimeout, now); err != nil && !errors.Is(err, session.ErrAlreadySubmitted) {
			s.log.Error().Err(err).Str("session_id", st.SessionID.String()).Msg("Forced submission on late mutation failed")
		}
		return nil, ErrDeadlinePassed
	}

	work := st.Clone()
	act, err := fn(work, session.NewLayout(cfg), now)
	if err != nil {
		return nil, err
	}
	session.Snapshot(work, now)

	if err := s.store.Save(ctx, work); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if act != nil {
		s.record(ctx, work, act.typ, act.data, now)
	}
	return work, nil
}

// SubmitExam is the manual submission entry point. answers, when present,
// are applied all-or-nothing before the session is frozen. A submission
// that arrives after the deadline closes the session as a timeout and
// ignores the late answers.
func (s *ExamSessionService) SubmitExam(ctx context.Context, candidateID string, sessionID uuid.UUID, answers map[string]model.Answer, timeTaken float64) (*model.ScoreResult, error) {
	key, err := s.authorize(ctx, candidateID, sessionID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.bank.GetExamConfig(ctx, key.ExamID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if st.IsSubmitted {
		metrics.SubmitRejected.Inc()
		return nil, session.ErrAlreadySubmitted
	}

	now := s.now()
	trigger := model.SubmitTriggerManual
	if session.Expired(st, now) {
		trigger = model.SubmitTriggerTimeout
		answers = nil
	}

	res, err := s.submitLocked(ctx, cfg, st, answers, timeTaken, trigger, now)
	if err != nil {
		if errors.Is(err, session.ErrAlreadySubmitted) {
			metrics.SubmitRejected.Inc()
		}
		return nil, err
	}
	return res.Result, nil
}

// ForceSubmit closes an overdue session as a timeout. It is a no-op when
// the session is already submitted or its deadline has moved into the
// future, so the countdown and the deadline sweep may race freely with
// each other and with a manual submission.
func (s *ExamSessionService) ForceSubmit(ctx context.Context, sessionID uuid.UUID) error {
	key, err := s.store.ResolveID(ctx, sessionID)
	if err != nil {
		return err
	}
	cfg, err := s.bank.GetExamConfig(ctx, key.ExamID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return err
	}
	now := s.now()
	if st.IsSubmitted {
		s.stopCountdown(sessionID)
		return nil
	}
	if !session.Expired(st, now) {
		// The deadline moved (a resume elsewhere); re-arm a fresh clock.
		s.stopCountdown(sessionID)
		s.watch(st)
		return nil
	}

	_, err = s.submitLocked(ctx, cfg, st, nil, 0, model.SubmitTriggerTimeout, now)
	if errors.Is(err, session.ErrAlreadySubmitted) {
		return nil
	}
	return err
}

// submitLocked freezes, scores and stores a session. The caller holds the
// session lock; the store's compare-and-set settles races across processes.
func (s *ExamSessionService) submitLocked(ctx context.Context, cfg *model.ExamConfig, st *model.ExamSessionState,
	answers map[string]model.Answer, timeTaken float64, trigger model.SubmitTrigger, now time.Time,
) (*model.SessionResult, error) {
	started := time.Now()

	work := st.Clone()
	if len(answers) > 0 {
		if err := session.ApplyAnswers(work, session.NewLayout(cfg), answers, now); err != nil {
			return nil, err
		}
	}
	if err := session.Freeze(work, now, trigger); err != nil {
		return nil, err
	}
	if timeTaken > 0 {
		work.ReportedTimeTaken = timeTaken
	}

	result := s.scorer.Score(cfg.Sections, work.Ledger())
	if err := s.store.Submit(ctx, work, &result); err != nil {
		if errors.Is(err, session.ErrAlreadySubmitted) {
			s.stopCountdown(st.SessionID)
			return nil, err
		}
		return nil, fmt.Errorf("submit session: %w", err)
	}

	metrics.SubmitDuration.Observe(time.Since(started).Seconds())
	metrics.SessionsSubmitted.WithLabelValues(string(trigger)).Inc()
	metrics.ScorePercentage.Observe(result.Percentage)

	s.stopCountdown(st.SessionID)
	s.afterSubmit(ctx, work, &result, now)

	s.log.Info().
		Str("exam_id", work.ExamID.String()).
		Str("candidate_id", work.CandidateID).
		Str("session_id", work.SessionID.String()).
		Str("trigger", string(trigger)).
		Float64("score", result.TotalScore).
		Float64("percentage", result.Percentage).
		Msg("Session submitted")

	return &model.SessionResult{Session: work, Result: &result}, nil
}

// afterSubmit fans the outcome out. Failures here are logged, never
// returned: the submission is already durable.
func (s *ExamSessionService) afterSubmit(ctx context.Context, st *model.ExamSessionState, result *model.ScoreResult, now time.Time) {
	tick := model.SessionTick{
		SessionID:   st.SessionID,
		IsSubmitted: true,
		Trigger:     st.SubmitTrigger,
		Result:      result,
	}
	s.hub.broadcast(tick)
	if err := s.notifier.Notify(ctx, &tick); err != nil {
		s.log.Warn().Err(err).Str("session_id", st.SessionID.String()).Msg("Failed to notify submission")
	}

	s.record(ctx, st, model.EventSubmitted, map[string]any{
		"trigger": st.SubmitTrigger,
		"score":   result.TotalScore,
	}, now)

	evt := &model.SessionSubmitted{
		EventID:     uuid.New().String(),
		SessionID:   st.SessionID,
		ExamID:      st.ExamID,
		CandidateID: st.CandidateID,
		Trigger:     st.SubmitTrigger,
		TotalScore:  result.TotalScore,
		TotalMarks:  result.TotalMarks,
		Percentage:  result.Percentage,
		SubmittedAt: now,
	}
	if err := s.publisher.PublishSubmitted(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("session_id", st.SessionID.String()).Msg("Failed to publish submission event")
	}
}

// GetSessionResult returns a submitted session with its score.
func (s *ExamSessionService) GetSessionResult(ctx context.Context, candidateID string, sessionID uuid.UUID) (*model.SessionResult, error) {
	if _, err := s.authorize(ctx, candidateID, sessionID); err != nil {
		return nil, err
	}

	res, err := s.store.LoadResult(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrResultNotFound) {
			return nil, ErrResultNotReady
		}
		return nil, err
	}
	if !res.Session.IsSubmitted && session.Expired(res.Session, s.now()) {
		if err := s.ForceSubmit(ctx, sessionID); err != nil {
			return nil, err
		}
		if res, err = s.store.LoadResult(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	if !res.Session.IsSubmitted || res.Result == nil {
		return nil, ErrResultNotReady
	}
	return res, nil
}

// Watch subscribes to live ticks of a session in this process.
func (s *ExamSessionService) Watch(sessionID uuid.UUID) (<-chan model.SessionTick, func()) {
	return s.hub.watch(sessionID)
}

func (s *ExamSessionService) authorize(ctx context.Context, candidateID string, sessionID uuid.UUID) (store.Key, error) {
	key, err := s.store.ResolveID(ctx, sessionID)
	if err != nil {
		return store.Key{}, err
	}
	if key.CandidateID != candidateID {
		return store.Key{}, ErrForbidden
	}
	return key, nil
}

// watch starts or re-arms the countdown of an open session.
func (s *ExamSessionService) watch(st *model.ExamSessionState) {
	if st.IsSubmitted {
		return
	}
	id := st.SessionID

	s.mu.Lock()
	defer s.mu.Unlock()

	if cd, ok := s.countdowns[id]; ok {
		cd.Reset(st.EndTime, st.IsPaused)
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	cd := session.NewCountdown(st.EndTime, s.tick, s.now,
		func(remaining time.Duration) {
			s.hub.broadcast(model.SessionTick{SessionID: id, Remaining: remaining.Seconds()})
		},
		func() { s.expire(id) },
	)
	cd.Reset(st.EndTime, st.IsPaused)
	s.countdowns[id] = cd
	metrics.ActiveCountdowns.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cd.Start(s.ctx)

		s.mu.Lock()
		if s.countdowns[id] == cd {
			delete(s.countdowns, id)
		}
		s.mu.Unlock()
		metrics.ActiveCountdowns.Dec()
	}()
}

func (s *ExamSessionService) stopCountdown(sessionID uuid.UUID) {
	s.mu.Lock()
	cd, ok := s.countdowns[sessionID]
	if ok {
		delete(s.countdowns, sessionID)
	}
	s.mu.Unlock()
	if ok {
		cd.Stop()
	}
}

func (s *ExamSessionService) expire(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	if err := s.ForceSubmit(ctx, sessionID); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Timed submission failed")
	}
}

func (s *ExamSessionService) record(ctx context.Context, st *model.ExamSessionState, typ model.SessionEventType, data map[string]any, now time.Time) {
	e := &model.SessionEvent{
		SessionID:   st.SessionID,
		ExamID:      st.ExamID,
		CandidateID: st.CandidateID,
		Type:        typ,
		RecordedAt:  now,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			e.Data = raw
		}
	}
	s.activity.Record(ctx, e)
}
