package domain

import (
	"context"
	"errors"
)

// Domain errors
var (
	ErrInvalidGameMode = errors.New("invalid game mode")
	ErrInvalidScore    = errors.New("invalid score value")
	ErrInvalidName     = errors.New("invalid display name")
	ErrNameTaken       = errors.New("display name already taken")
	ErrNoIdentity      = errors.New("no identity established")
	ErrRemoteDisabled  = errors.New("remote ledger not configured")
	ErrScoreNotFound   = errors.New("score not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInternalError   = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrScoreNotFound)
}

// IsValidationError reports errors caused by bad input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidGameMode) ||
		errors.Is(err, ErrInvalidScore) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsRetryable reports whether repeating the operation could succeed
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsValidationError(err) ||
		errors.Is(err, ErrNameTaken) ||
		errors.Is(err, ErrRemoteDisabled) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
