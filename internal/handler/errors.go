package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
)

// errorStatus maps a service error to its HTTP status and API code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, session.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, session.ErrSessionPaused):
		return http.StatusConflict, response.ErrSessionPaused
	case errors.Is(err, service.ErrDeadlinePassed):
		return http.StatusConflict, response.ErrDeadlinePassed
	case errors.Is(err, service.ErrResultNotReady):
		return http.StatusConflict, response.ErrResultNotReady
	case errors.Is(err, session.ErrMalformedAnswer):
		return http.StatusUnprocessableEntity, response.ErrMalformedAnswer
	case errors.Is(err, session.ErrQuestionNotFound):
		return http.StatusNotFound, response.ErrQuestionNotFound
	case errors.Is(err, session.ErrSectionNotFound):
		return http.StatusNotFound, response.ErrSectionNotFound
	case errors.Is(err, service.ErrExamNotActive):
		return http.StatusForbidden, response.ErrExamNotAvailable
	}

	switch service.Classify(err) {
	case service.KindNotFound:
		return http.StatusNotFound, response.ErrNotFound
	case service.KindForbidden:
		return http.StatusForbidden, response.ErrForbidden
	case service.KindInvalidState:
		return http.StatusConflict, response.ErrInvalidTransition
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWithError writes the error envelope for err. Only unexpected errors
// are logged.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
