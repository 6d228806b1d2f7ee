package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a game session has not been initialized.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrGameNotFound indicates the game could not be loaded.
	ErrGameNotFound = errors.New("game not found")
	// ErrTeamNotFound indicates an unknown team id.
	ErrTeamNotFound = errors.New("team not found")
	// ErrQuestionNotFound indicates a question id that is not on the board.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrUnauthorized is returned when the caller may not mutate this game.
	ErrUnauthorized = errors.New("not authorized for this game")
	// ErrSessionClosed is returned by actions on a session that has been shut down.
	ErrSessionClosed = errors.New("game session closed")
)

// ValidationError is a recoverable, user-facing rejection. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientError wraps failures that may succeed on retry (network, timeouts).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrTeamNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}
