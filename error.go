package kvprobe

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// SetupFailure covers an unreachable store, bad startup input and similar infrastructure faults.
	SetupFailure
	// AssertionFailure means the store's observed behavior diverged from its documented contract.
	AssertionFailure
	// ScriptRejected means the store refused to compile or load a server-side script.
	ScriptRejected
	// InvalidKey flags a zero-length key handed to an operation that requires one.
	InvalidKey
)

func (c ErrorCode) String() string {
	switch c {
	case SetupFailure:
		return "setup failure"
	case AssertionFailure:
		return "assertion failure"
	case ScriptRejected:
		return "script rejected"
	case InvalidKey:
		return "invalid key"
	}
	return "unknown"
}

// kvprobe custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData == nil {
		return fmt.Errorf("%s: %w", e.Code, e.Err).Error()
	}
	return fmt.Errorf("%s (%v): %w", e.Code, e.UserData, e.Err).Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

var (
	ErrBatchTooSmall = errors.New("batch needs at least 2 keys to be reordered")
	ErrDuplicateKey  = errors.New("generated key is not unique within the batch")
	ErrEmptyKey      = errors.New("key must not be empty")
)

// CodeOf returns the ErrorCode carried by err, or Unknown.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	var pe *Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Code
	}
	return Unknown
}

// IsAssertion reports whether err is a contract violation rather than a setup fault.
func IsAssertion(err error) bool {
	return CodeOf(err) == AssertionFailure
}

// Assertionf builds an AssertionFailure error tagged with the scenario name.
func Assertionf(scenario string, format string, args ...any) error {
	return Error{
		Code:     AssertionFailure,
		Err:      fmt.Errorf(format, args...),
		UserData: scenario,
	}
}

// Setup wraps err as a SetupFailure unless it already carries a code.
func Setup(err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != Unknown {
		return err
	}
	return Error{Code: SetupFailure, Err: err}
}
