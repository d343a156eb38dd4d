package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned when a chunk or task is paused, cancelled or shut down
	ErrAborted = errors.New("transfer aborted")
	// ErrRetriesExhausted marks a chunk that failed permanently
	ErrRetriesExhausted = errors.New("chunk retries exhausted")
	// ErrMergeFailed marks a task whose chunks all succeeded but could not be merged
	ErrMergeFailed = errors.New("merge failed")
	// ErrInvalidTransition is returned for an operation not allowed in the current state
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Error describes a failed transfer operation
type Error struct {
	Op         string // "check", "upload" or "merge"
	Identifier string
	Chunk      int // 1-based chunk number, 0 when not chunk-specific
	Err        error
}

func (e *Error) Error() string {
	if e.Chunk > 0 {
		return fmt.Sprintf("%s %s chunk %d: %v", e.Op, e.Identifier, e.Chunk, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Identifier, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
