// Package errs defines the typed failures returned by the quiz services.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Transports map kinds to status codes.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindForbidden          Kind = "FORBIDDEN"
	KindGameNotRunning     Kind = "GAME_NOT_RUNNING"
	KindGameAlreadyStarted Kind = "GAME_ALREADY_STARTED"
	KindRoundNotStarted    Kind = "ROUND_NOT_STARTED"
	KindRoundEnded         Kind = "ROUND_ENDED"
	KindNoRounds           Kind = "NO_ROUNDS"
	KindNoCategories       Kind = "NO_CATEGORIES"
	KindNotEnoughTracks    Kind = "NOT_ENOUGH_TRACKS"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindInvalidToken       Kind = "INVALID_TOKEN"
	KindConfig             Kind = "CONFIG_ERROR"
)

// Error is a domain failure. Code refines Kind (GAME_NOT_FOUND is a
// NOT_FOUND) and defaults to the kind itself.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches sentinels by kind, and by code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrGameNotRunning     = &Error{Kind: KindGameNotRunning}
	ErrGameAlreadyStarted = &Error{Kind: KindGameAlreadyStarted}
	ErrRoundNotStarted    = &Error{Kind: KindRoundNotStarted}
	ErrRoundEnded         = &Error{Kind: KindRoundEnded}
	ErrNoRounds           = &Error{Kind: KindNoRounds}
	ErrNoCategories       = &Error{Kind: KindNoCategories}
	ErrNotEnoughTracks    = &Error{Kind: KindNotEnoughTracks}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrConfig             = &Error{Kind: KindConfig}
)

// New returns an error whose code equals its kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Newf is New with a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// NotFound returns a NOT_FOUND error with a specific code such as
// GAME_NOT_FOUND.
func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
