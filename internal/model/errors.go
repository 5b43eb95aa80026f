package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stage failure.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "configuration"
	KindIntentExtraction ErrorKind = "intent_extraction"
	KindSearch           ErrorKind = "search"
	KindStructuring      ErrorKind = "structuring"
	KindCancelled        ErrorKind = "cancelled"
)

// StageError is a typed pipeline failure. It halts the workflow.
type StageError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewStageError creates a StageError wrapping err (which may be nil).
func NewStageError(kind ErrorKind, msg string, err error) *StageError {
	return &StageError{Kind: kind, Msg: msg, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err (or any error in its chain) is a StageError of kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
