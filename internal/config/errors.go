package config

import (
	"errors"
	"fmt"
)

var (
	// ErrProfileMismatch reports a rank count that differs from the one a
	// deployment profile was sized for.
	ErrProfileMismatch = errors.New("rank count does not match deployment profile")
	// ErrUnevenRows reports a global row count that the rank count does
	// not divide exactly.
	ErrUnevenRows = errors.New("global rows are not divisible by the rank count")
)

// FatalError is a configuration error that invalidates the whole
// partition scheme. It is never retried: the run is aborted on every
// rank.
type FatalError struct {
	Err    error
	Detail string
}

func (e *FatalError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("fatal configuration error: %v", e.Err)
	}
	return fmt.Sprintf("fatal configuration error: %s", e.Detail)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf builds a FatalError around a sentinel.
func Fatalf(sentinel error, format string, args ...interface{}) *FatalError {
	return &FatalError{Err: sentinel, Detail: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
