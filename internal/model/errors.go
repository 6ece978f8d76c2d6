package model

import "fmt"

// InvalidConfigError is user-visible and surfaced on source creation or
// edit; the caller must not create the Source row.
type InvalidConfigError struct {
	Message string
}

func (e *InvalidConfigError) Error() string { return e.Message }

// NewInvalidConfig builds an InvalidConfigError with a formatted message.
func NewInvalidConfig(format string, args ...any) error {
	return &InvalidConfigError{Message: fmt.Sprintf(format, args...)}
}

// KnownError is a user-visible, expected operational failure (e.g. upstream
// auth propagation delay). Surfaced with HTTP 501 and the literal message.
type KnownError struct {
	Message string
}

func (e *KnownError) Error() string { return e.Message }

// NewKnownError builds a KnownError with a formatted message.
func NewKnownError(format string, args ...any) error {
	return &KnownError{Message: fmt.Sprintf(format, args...)}
}

// TransientError wraps a network/429/5xx failure from an upstream source.
// Connectors retry these internally; if retries are exhausted the worker
// decrements attempts_remaining and re-queues the task.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a TransientError.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// FatalStoreError wraps any failure inside the indexer's store transactions.
// The batch that produced it is nacked in full; items re-deliver.
type FatalStoreError struct {
	Err error
}

func (e *FatalStoreError) Error() string { return fmt.Sprintf("fatal store error: %v", e.Err) }
func (e *FatalStoreError) Unwrap() error { return e.Err }

// NewFatalStoreError wraps err as a FatalStoreError.
func NewFatalStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalStoreError{Err: err}
}

// ProgrammerError marks an uncaught exception in a query handler: surfaced
// to the HTTP layer as a 500 with a generic message, logged with detail.
type ProgrammerError struct {
	Err error
}

func (e *ProgrammerError) Error() string { return fmt.Sprintf("programmer error: %v", e.Err) }
func (e *ProgrammerError) Unwrap() error { return e.Err }

// NewProgrammerError wraps err as a ProgrammerError.
func NewProgrammerError(err error) error {
	if err == nil {
		return nil
	}
	return &ProgrammerError{Err: err}
}
