package apperrors

import (
	"errors"
)

var (
	ErrShutdown = errors.New("shutdown error")

	// ErrInvalidInput: stdin was not one JSON object matching the notification schema.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDownstream: the handler's own action (HTTP call, child process, broker) failed.
	ErrDownstream = errors.New("downstream error")
	// ErrConfig: the handler was launched without what it needs to act.
	ErrConfig = errors.New("configuration error")

	ErrEmptyInput       = errors.New("empty input")
	ErrInputTooLarge    = errors.New("input exceeds size limit")
	ErrTrailingData     = errors.New("trailing data after JSON object")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidField     = errors.New("invalid field")
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	ErrDuplicate = errors.New("notification already delivered")

	ErrInvalidBunkerURI   = errors.New("invalid bunker uri")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Exit codes follow sysexits(3) so a shell wrapper can tell the kinds apart.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitInput      = 65
	ExitDownstream = 69
	ExitConfig     = 78
)

func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidInput):
		return ExitInput
	case errors.Is(err, ErrDownstream):
		return ExitDownstream
	case errors.Is(err, ErrConfig):
		return ExitConfig
	default:
		return ExitFailure
	}
}

// Input marks err as an input error while keeping its own chain.
func Input(err error) error {
	if err == nil || errors.Is(err, ErrInvalidInput) {
		return err
	}
	return &kindError{kind: ErrInvalidInput, err: err}
}

func Downstream(err error) error {
	if err == nil || errors.Is(err, ErrDownstream) {
		return err
	}
	return &kindError{kind: ErrDownstream, err: err}
}

func Config(err error) error {
	if err == nil || errors.Is(err, ErrConfig) {
		return err
	}
	return &kindError{kind: ErrConfig, err: err}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}
