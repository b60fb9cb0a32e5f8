package model

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks across packages.
var (
	ErrValidation         = errors.New("validation failed")
	ErrCorruptData        = errors.New("corrupt data")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
)

// ValidationError represents a malformed turn or request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CorruptDataError represents a malformed token stream or import blob.
type CorruptDataError struct {
	Source string // "lzw", "base64", "archive"
	Offset int    // token or byte offset, -1 when unknown
	Reason string
	Err    error
}

func (e *CorruptDataError) Error() string {
	msg := fmt.Sprintf("corrupt data [%s]", e.Source)
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at %d", e.Offset)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *CorruptDataError) Is(target error) bool {
	return target == ErrCorruptData
}

func (e *CorruptDataError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure of the underlying durable store.
type StorageError struct {
	Op         string // "add", "get", "update", "delete", "replace"
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned by operations that require an existing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
