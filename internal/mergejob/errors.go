package mergejob

import "fmt"

// Visibility distinguishes whether a JobError is posted to the MR as a
// comment (CannotMerge) or handled silently (SkipMerge); the two differ
// only in this tag, per the single-sum-type design in the error handling
// notes, rather than being separate exception types.
type Visibility int

const (
	// Visible errors get a comment and an unassign.
	Visible Visibility = iota
	// Silent errors move on with no comment (embargo, unassigned, terminal state).
	Silent
)

// JobError is the merge job's error taxonomy: CannotMerge and SkipMerge
// share this type and differ only by Visibility.
type JobError struct {
	Visibility Visibility
	Reason     string
}

func (e *JobError) Error() string { return e.Reason }

// CannotMerge constructs a user-visible job failure.
func CannotMerge(format string, args ...any) *JobError {
	return &JobError{Visibility: Visible, Reason: fmt.Sprintf(format, args...)}
}

// SkipMerge constructs a silent job deferral.
func SkipMerge(format string, args ...any) *JobError {
	return &JobError{Visibility: Silent, Reason: fmt.Sprintf(format, args...)}
}

// GitLabRebaseResultMismatch reports that a remote (gitlab_rebase) rebase
// produced a different sha than the job expected; always CannotMerge.
func GitLabRebaseResultMismatch(expected, got string) *JobError {
	return CannotMerge("remote rebase produced %s, expected %s", got, expected)
}

// CannotBatch signals that C7 should abandon the batch and fall back to
// processing MRs individually. It is distinct from JobError because it
// names a batch-wide decision rather than a per-MR disposition.
type CannotBatchError struct {
	Reason string
}

func (e *CannotBatchError) Error() string { return e.Reason }

// CannotBatch constructs a CannotBatchError.
func CannotBatch(format string, args ...any) *CannotBatchError {
	return &CannotBatchError{Reason: fmt.Sprintf(format, args...)}
}
