package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// SessionHandler handles candidate-facing exam session endpoints.
type SessionHandler struct {
	examService    *service.ExamService
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(examService *service.ExamService, sessionService *service.ExamSessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		examService:    examService,
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// GetPaper godoc
// GET /api/v1/candidate/exams/:exam_id/paper
// Returns the exam without answer keys.
func (h *SessionHandler) GetPaper(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	paper, err := h.examService.GetPaper(c.Request.Context(), examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// StartSession godoc
// POST /api/v1/candidate/exams/:exam_id/session
// Starts the candidate's session or resumes the existing one.
func (h *SessionHandler) StartSession(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	var req model.StartSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	view, err := h.sessionService.StartSession(c.Request.Context(), candidateID, examID, req.Language)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GetState godoc
// GET /api/v1/candidate/exams/:exam_id/session
func (h *SessionHandler) GetState(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	st, err := h.sessionService.GetState(c.Request.Context(), candidateID, examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// Navigate godoc
// POST /api/v1/candidate/exams/:exam_id/session/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.sessionService.Navigate(c.Request.Context(), candidateID, examID, &req)
	h.respondState(c, st, err)
}

// RecordAnswer godoc
// PUT /api/v1/candidate/exams/:exam_id/session/answers/:question_id
func (h *SessionHandler) RecordAnswer(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.sessionService.RecordAnswer(c.Request.Context(), candidateID, examID, c.Param("question_id"), *req.Answer)
	h.respondState(c, st, err)
}

// ClearAnswer godoc
// DELETE /api/v1/candidate/exams/:exam_id/session/answers/:question_id
func (h *SessionHandler) ClearAnswer(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	st, err := h.sessionService.ClearAnswer(c.Request.Context(), candidateID, examID, c.Param("question_id"))
	h.respondState(c, st, err)
}

// ToggleMark godoc
// POST /api/v1/candidate/exams/:exam_id/session/questions/:question_id/mark
// An empty body flips the mark.
func (h *SessionHandler) ToggleMark(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	var req model.ToggleMarkRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	st, err := h.sessionService.ToggleMark(c.Request.Context(), candidateID, examID, c.Param("question_id"), req.Marked)
	h.respondState(c, st, err)
}

// SaveAndNext godoc
// POST /api/v1/candidate/exams/:exam_id/session/save-next
func (h *SessionHandler) SaveAndNext(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	st, moved, err := h.sessionService.SaveAndNext(c.Request.Context(), candidateID, examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st, "moved": moved})
}

// MarkAndNext godoc
// POST /api/v1/candidate/exams/:exam_id/session/mark-next
func (h *SessionHandler) MarkAndNext(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	st, err := h.sessionService.MarkAndNext(c.Request.Context(), candidateID, examID)
	h.respondState(c, st, err)
}

// PauseSession godoc
// POST /api/v1/candidate/exams/:exam_id/session/pause
func (h *SessionHandler) PauseSession(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	st, err := h.sessionService.PauseSession(c.Request.Context(), candidateID, examID)
	h.respondState(c, st, err)
}

// ResumeSession godoc
// POST /api/v1/candidate/exams/:exam_id/session/resume
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	st, err := h.sessionService.ResumeSession(c.Request.Context(), candidateID, examID)
	h.respondState(c, st, err)
}

// SetLanguage godoc
// PUT /api/v1/candidate/exams/:exam_id/session/language
func (h *SessionHandler) SetLanguage(c *gin.Context) {
	candidateID, examID, ok := h.sessionKey(c)
	if !ok {
		return
	}

	var req model.SetLanguageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.sessionService.SetLanguage(c.Request.Context(), candidateID, examID, req.Language)
	h.respondState(c, st, err)
}

// SubmitExam godoc
// POST /api/v1/candidate/sessions/:session_id/submit
// Applies the final answers, freezes the session and returns the score.
func (h *SessionHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	var req model.SubmitExamRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	result, err := h.sessionService.SubmitExam(c.Request.Context(), claims.CandidateID(), sessionID, req.Answers, req.TimeTaken)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetResult godoc
// GET /api/v1/candidate/sessions/:session_id/result
func (h *SessionHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	res, err := h.sessionService.GetSessionResult(c.Request.Context(), claims.CandidateID(), sessionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *SessionHandler) respondState(c *gin.Context, st *model.ExamSessionState, err error) {
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// sessionKey extracts the candidate and exam of a session route.
func (h *SessionHandler) sessionKey(c *gin.Context) (string, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return "", uuid.Nil, false
	}
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return "", uuid.Nil, false
	}
	return claims.CandidateID(), examID, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
