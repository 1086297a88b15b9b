package domain

import "fmt"

// Error types for the extraction, cache and ledger pipeline.
// Callers match them with errors.As.

// ValidationError indicates a single raw record failed field rules.
// It is recoverable: the record is skipped and counted.
type ValidationError struct {
	OrderID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation error on '%s' (order %s): %s", e.Field, e.OrderID, e.Reason)
}

// CacheNotFoundError indicates the requested cached session does not exist.
type CacheNotFoundError struct {
	Key string
}

func (e *CacheNotFoundError) Error() string {
	if e.Key == "" {
		return "cache session not found"
	}
	return fmt.Sprintf("cache session not found: %s", e.Key)
}

// CacheCorruptError indicates a cached session is malformed or uses an
// unsupported schema.
type CacheCorruptError struct {
	Key string
	Err error
}

func (e *CacheCorruptError) Error() string {
	return fmt.Sprintf("cache session %s is corrupt: %v", e.Key, e.Err)
}

func (e *CacheCorruptError) Unwrap() error {
	return e.Err
}

// ProcessingError indicates a validated record could not be mapped onto the
// ledger schema.
type ProcessingError struct {
	OrderID string
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing order %s: %v", e.OrderID, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// WriteError indicates the ledger destination could not be written.
// No partial output is left behind when it is returned.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write ledger %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
