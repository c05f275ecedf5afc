package fsops

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	// ErrRootPath is returned for directory operations on the root.
	ErrRootPath = errors.New("operation not allowed on the root directory")
	// ErrSamePath is returned when a move or rename targets its own source.
	ErrSamePath = errors.New("source and destination are the same")
	// ErrUploadNotStarted is returned when a chunk other than the first
	// arrives for an upload with no capability yet.
	ErrUploadNotStarted = errors.New("upload not started: chunk 0 must be sent first")
)

// EntryResult is the outcome of one sub-operation of a fan-out.
type EntryResult struct {
	Source string
	Target string
	Err    error
}

// FanoutError reports a directory operation in which some sub-operations
// failed. Results holds every entry, successful or not.
type FanoutError struct {
	Op      string
	Path    string
	Results []EntryResult
	err     error
}

func newFanoutError(op, path string, results []EntryResult) *FanoutError {
	var err error
	for _, r := range results {
		if r.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", r.Source, r.Err))
		}
	}
	if err == nil {
		return nil
	}
	return &FanoutError{Op: op, Path: path, Results: results, err: err}
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("%s %s: %d of %d entries failed: %v", e.Op, e.Path, len(e.Failed()), len(e.Results), e.err)
}

// Unwrap exposes every per-entry error to errors.Is and errors.As.
func (e *FanoutError) Unwrap() []error {
	return multierr.Errors(e.err)
}

// Failed returns the results that carry an error.
func (e *FanoutError) Failed() []EntryResult {
	var failed []EntryResult
	for _, r := range e.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
