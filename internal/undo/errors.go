package undo

import (
	"errors"
	"fmt"
)

// Sentinel errors for history and grouping misuse.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrGroupOpen     = errors.New("undo group already open")
	ErrNoGroup       = errors.New("no undo group open")
	ErrEmptyCommand  = errors.New("command has no changes")
)

// ErrorCode categorizes command failures.
type ErrorCode string

const (
	// CodeRemoteRejected indicates the persistence collaborator refused a
	// write. The local effect was rolled back.
	CodeRemoteRejected ErrorCode = "REMOTE_REJECTED"

	// CodeRollbackFailed indicates a rejected multi-change command whose
	// already-persisted changes could not be compensated remotely. The local
	// effect was rolled back; the remote should be resynced.
	CodeRollbackFailed ErrorCode = "ROLLBACK_FAILED"

	// CodeLocalRejected indicates the block store refused a write, for
	// example a malformed block. Nothing was sent to the remote.
	CodeLocalRejected ErrorCode = "LOCAL_REJECTED"
)

// CommandError reports a failed execute, undo or redo.
type CommandError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Description is the user-facing description of the command.
	Description string

	// Op is "execute", "undo", "redo" or "abort".
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Description, e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsRemoteRejected reports whether err is a command the remote refused,
// including ones whose compensation also failed.
func IsRemoteRejected(err error) bool {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code == CodeRemoteRejected || ce.Code == CodeRollbackFailed
	}
	return false
}

// IsRollbackFailed reports whether err left the remote partially written.
func IsRollbackFailed(err error) bool {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code == CodeRollbackFailed
	}
	return false
}
