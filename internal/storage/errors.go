package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("storage: not found")

	// ErrDisabled indicates storage is disabled in configuration.
	ErrDisabled = errors.New("storage: disabled")
)

// StoreError wraps storage failures with operation context.
type StoreError struct {
	Op    string // operation that failed, e.g. "Insert", "Ping"
	Table string // table involved, if applicable
	Err   error
}

func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
