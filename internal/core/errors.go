package core

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound     = errors.New("print job not found")
	ErrActiveJobExists = errors.New("person already has an active print job")
	ErrArtifactsGone   = errors.New("artifacts removed after quality check passed")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrInvalidOutcome  = errors.New("invalid quality check outcome")
)

// TransitionError reports exactly which guard blocked a state change so
// operators see the reason, not a generic failure.
type TransitionError struct {
	JobID  string
	Status string
	Guard  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s in status %s: %s", e.JobID, e.Status, e.Guard)
}

func transitionErr(jobID, status, guard string) *TransitionError {
	return &TransitionError{JobID: jobID, Status: status, Guard: guard}
}

// ValidationError covers rejected inputs such as too-short QA notes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
