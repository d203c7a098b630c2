package requirement

import (
	"errors"
	"fmt"
)

// ErrDuplicateClause is wrapped by MalformedRequirementError when a clause id
// appears more than once in a run.
var ErrDuplicateClause = errors.New("duplicate clause id")

// MalformedRequirementError reports a record that violates the requirement
// invariants. The record is excluded from evaluation.
type MalformedRequirementError struct {
	ClauseID string
	Reason   string
	Err      error
}

func (e *MalformedRequirementError) Error() string {
	id := e.ClauseID
	if id == "" {
		id = "<no clause id>"
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed requirement %s: %s: %v", id, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed requirement %s: %s", id, e.Reason)
}

func (e *MalformedRequirementError) Unwrap() error {
	return e.Err
}

func malformed(id, reason string, err error) error {
	return &MalformedRequirementError{ClauseID: id, Reason: reason, Err: err}
}
