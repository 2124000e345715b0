package wager

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wager service.
var (
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidStake         = errors.New("invalid stake")
	ErrStakeBelowMinimum    = errors.New("stake below minimum")
	ErrStakeAboveMaximum    = errors.New("stake above maximum")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidPolicy        = errors.New("invalid policy")
	ErrInvalidBalance       = errors.New("invalid balance")
	ErrAccountNotFound      = errors.New("account not found")
	ErrPolicyNotFound       = errors.New("policy not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrLockTimeout          = errors.New("lock not acquired")
	ErrPersistence          = errors.New("persistence failure")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// ErrorKind is the stable discriminant callers use to decide whether to retry.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindConcurrency ErrorKind = "concurrency"
	ErrorKindPersistence ErrorKind = "persistence"
)

// String returns the wire representation of the kind.
func (kind ErrorKind) String() string {
	return string(kind)
}

// Retryable reports whether the same request may succeed if repeated unchanged.
func (kind ErrorKind) Retryable() bool {
	return kind == ErrorKindConcurrency
}

var validationErrors = []error{
	ErrInvalidUserID,
	ErrInvalidStake,
	ErrStakeBelowMinimum,
	ErrStakeAboveMaximum,
	ErrInsufficientFunds,
	ErrInvalidPolicy,
	ErrInvalidBalance,
}

// KindOf classifies err. Errors that match no known sentinel are persistence failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	if errors.Is(err, ErrLockTimeout) {
		return ErrorKindConcurrency
	}
	if errors.Is(err, ErrPersistence) {
		return ErrorKindPersistence
	}
	for _, candidate := range validationErrors {
		if errors.Is(err, candidate) {
			return ErrorKindValidation
		}
	}
	if errors.Is(err, ErrAccountNotFound) {
		return ErrorKindNotFound
	}
	if errors.Is(err, ErrAccountExists) {
		return ErrorKindConflict
	}
	return ErrorKindPersistence
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// PersistenceError marks err as a storage failure and wraps it with store metadata.
func PersistenceError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(errorOperationStore, subject, code, fmt.Errorf("%w: %w", ErrPersistence, err))
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrLockTimeout, "lock_timeout"},
	{ErrPersistence, "persistence_failure"},
	{ErrInvalidUserID, "invalid_user_id"},
	{ErrInvalidStake, "invalid_stake"},
	{ErrStakeBelowMinimum, "stake_below_minimum"},
	{ErrStakeAboveMaximum, "stake_above_maximum"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInvalidPolicy, "invalid_policy"},
	{ErrInvalidBalance, "invalid_balance"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrAccountExists, "account_exists"},
}

// CodeOf returns a stable snake_case code naming the sentinel behind err.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}
	return "persistence_failure"
}
