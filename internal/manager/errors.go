package manager

import (
	"errors"
	"fmt"
)

// Admission rejection reasons
var (
	ErrEmptyFile          = errors.New("file is empty")
	ErrFileTooLarge       = errors.New("file exceeds the maximum size")
	ErrFileTypeNotAllowed = errors.New("file type is not allowed")
	ErrDuplicateFile      = errors.New("file is already in the upload list")
)

var (
	// ErrMultipleFiles is returned when single-file mode receives several files
	ErrMultipleFiles = errors.New("only one file can be uploaded at a time")
	// ErrNotFound is returned when no tracked task has the identifier
	ErrNotFound = errors.New("upload not found")
	// ErrNotFailed is returned when retrying a task that did not fail
	ErrNotFailed = errors.New("upload has not failed")
	// ErrStillQueued is returned when deleting an identifier whose task is still queued
	ErrStillQueued = errors.New("upload is still queued")
)

// RejectionError explains why a candidate file was not admitted
type RejectionError struct {
	Path   string
	Reason error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("cannot add %s: %v", e.Path, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}
