package utils

import (
	"errors"
	"fmt"
)

// ValidationError represents an error occurring during submission validation.
// Rejected at ingestion with a reason; never reaches the engine.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
//
// Parameters:
//   - message: The validation error message.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
//
// Parameters:
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InsufficientHistoryError marks a forecaster lacking the trailing-window
// history a trainable strategy needs. The forecaster is excluded from the
// current run only; the session continues.
type InsufficientHistoryError struct {
	ForecasterID string
	Message      string
}

// Error returns the error message string.
func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for forecaster %s: %s", e.ForecasterID, e.Message)
}

// NewInsufficientHistoryError creates an InsufficientHistoryError for one forecaster.
func NewInsufficientHistoryError(forecasterID, message string) error {
	return &InsufficientHistoryError{ForecasterID: forecasterID, Message: message}
}

// EnsembleUnavailableError is the per-(challenge, variable) terminal state
// when no valid input exists. It never aborts the owning session; the pair's
// result is stored unavailable and processing moves on.
type EnsembleUnavailableError struct {
	ChallengeID string
	Variable    string
	Reason      string
}

// Error returns the error message string.
func (e *EnsembleUnavailableError) Error() string {
	return fmt.Sprintf("ensemble unavailable for challenge %s variable %s: %s", e.ChallengeID, e.Variable, e.Reason)
}

// NewEnsembleUnavailableError creates an EnsembleUnavailableError for one pair.
func NewEnsembleUnavailableError(challengeID, variable, reason string) error {
	return &EnsembleUnavailableError{ChallengeID: challengeID, Variable: variable, Reason: reason}
}

// IsEnsembleUnavailable reports whether err is (or wraps) an EnsembleUnavailableError.
func IsEnsembleUnavailable(err error) bool {
	var ue *EnsembleUnavailableError
	return errors.As(err, &ue)
}

// ErrGroundTruthUnavailable defers scoring until the measurement feed has
// data for the challenge period. Callers retry later instead of failing.
var ErrGroundTruthUnavailable = errors.New("ground truth unavailable for challenge period")

// ErrUnknownStrategy is the one fatal configuration error: the requested
// strategy name is not in the registry. Surfaced immediately at startup.
var ErrUnknownStrategy = errors.New("unknown strategy name")
