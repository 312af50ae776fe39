package services

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBusy         = errors.New("too many jobs in progress")
	ErrInvalidInput = errors.New("invalid input")
)

// SplitError means the source could not be opened as its declared format. It is fatal to the job.
type SplitError struct {
	Source string
	Err    error
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("failed to split %s: %v", e.Source, e.Err)
}

func (e *SplitError) Unwrap() error {
	return e.Err
}

// AnalysisError means a single page could not be analyzed. The page degrades to an empty result.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("page analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}
