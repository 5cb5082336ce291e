package service

import (
	"errors"

	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/store"
)

// Domain Errors
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrExamNotActive   = errors.New("exam is not open for candidates")
	ErrSessionNotFound = store.ErrSessionNotFound
	ErrForbidden       = errors.New("session belongs to another candidate")
	ErrDeadlinePassed  = errors.New("session deadline has passed")
	ErrResultNotReady  = errors.New("session has not been submitted yet")

	ErrUnknownNavigation = errors.New("unknown navigation action")
)

// ErrorKind is the coarse class of a domain error.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindForbidden
	KindInvalidState
)

// Classify maps an error returned by this package to its kind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrExamNotFound),
		errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, session.ErrQuestionNotFound),
		errors.Is(err, session.ErrSectionNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrExamNotActive):
		return KindForbidden
	case errors.Is(err, session.ErrAlreadySubmitted),
		errors.Is(err, session.ErrMalformedAnswer),
		errors.Is(err, session.ErrSessionPaused),
		errors.Is(err, ErrDeadlinePassed),
		errors.Is(err, ErrResultNotReady),
		errors.Is(err, ErrUnknownNavigation):
		return KindInvalidState
	default:
		return KindInternal
	}
}
