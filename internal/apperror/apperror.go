// Package apperror defines the application's error type.
//
// Every error that should reach a caller with a specific meaning carries an
// explicit Kind. The HTTP layer switches on the Kind (never on the message
// text) to pick a status code, and the message is what the user sees.
//
// Each Kind also has a sentinel error so that errors.Is keeps working:
//
//	errors.Is(err, apperror.ErrNotFound) // true for apperror.NotFound(...)
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for translation into a transport status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindUnauthorized
	KindRateLimited
	KindUpstream
	KindTimeout
)

// String returns the machine-readable name used in error responses.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream_error"
	case KindTimeout:
		return "upstream_timeout"
	default:
		return "internal_error"
	}
}

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrUpstream     = errors.New("upstream failure")
	ErrTimeout      = errors.New("upstream timeout")
)

var sentinels = map[Kind]error{
	KindValidation:   ErrValidation,
	KindNotFound:     ErrNotFound,
	KindConflict:     ErrConflict,
	KindForbidden:    ErrForbidden,
	KindUnauthorized: ErrUnauthorized,
	KindRateLimited:  ErrRateLimited,
	KindUpstream:     ErrUpstream,
	KindTimeout:      ErrTimeout,
}

type AppError struct {
	Kind    Kind   // what went wrong, for status mapping
	Err     error  // sentinel for Kind, or the wrapped cause
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's Kind, so that a
// wrapped cause does not hide the classification from errors.Is.
func (e *AppError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func newError(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Err: sentinels[kind], Message: message}
}

// KindOf returns the Kind of the first *AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func NotFound(resource, id string) *AppError {
	return newError(KindNotFound, fmt.Sprintf("%s not found with id %s", resource, id))
}

// NotFoundMessage is NotFound with a caller-chosen message.
func NotFoundMessage(message string) *AppError {
	return newError(KindNotFound, message)
}

func ValidationFailed(field, message string) *AppError {
	e := newError(KindValidation, message)
	e.Field = field
	return e
}

func Conflict(resource, id string) *AppError {
	return newError(KindConflict, fmt.Sprintf("%s conflict with id %s", resource, id))
}

// ConflictMessage is Conflict with a caller-chosen message.
func ConflictMessage(message string) *AppError {
	return newError(KindConflict, message)
}

// Unauthorized is returned for missing or wrong credentials (401).
func Unauthorized(message string) *AppError {
	return newError(KindUnauthorized, message)
}

// RateLimited is returned when a caller must wait before retrying (429).
func RateLimited(message string) *AppError {
	return newError(KindRateLimited, message)
}

// Upstream wraps a failure of an external collaborator (LLM, mail server).
// The cause is kept for logging; Message is the only text a client sees.
func Upstream(message string, cause error) *AppError {
	return &AppError{Kind: KindUpstream, Err: cause, Message: message}
}

// Timeout wraps a collaborator call that ran past its deadline.
func Timeout(message string, cause error) *AppError {
	return &AppError{Kind: KindTimeout, Err: cause, Message: message}
}
