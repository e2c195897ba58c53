package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSnapshotFailed       = errors.New("snapshot failed")
	ErrStagingFailed        = errors.New("staging failed")
	ErrTransportFailed      = errors.New("transport failed")
	ErrInvalidArtifact      = errors.New("invalid artifact")
	ErrCorruptPayload       = errors.New("corrupt payload")
	ErrSwapFailed           = errors.New("swap failed")
	ErrNoProviderConfigured = errors.New("no provider configured")
	// ErrRollbackFailed means the shadow copy could not be put back and the
	// live data file is in an unknown state.
	ErrRollbackFailed = errors.New("rollback failed")
)

// Outcome tells the caller what happened to the live system.
type Outcome string

const (
	OutcomeUntouched     Outcome = "untouched"
	OutcomeRolledBack    Outcome = "rolled_back"
	OutcomeUnrecoverable Outcome = "unrecoverable"
)

// OpError is the error type surfaced by the backup and sync operations.
type OpError struct {
	Kind    error
	Stage   string
	Outcome Outcome
	Err     error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	if e.Outcome != "" && e.Outcome != OutcomeUntouched {
		msg += " (" + string(e.Outcome) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewOpError(kind error, stage string, err error) *OpError {
	return &OpError{Kind: kind, Stage: stage, Outcome: OutcomeUntouched, Err: err}
}

// OutcomeOf reports the outcome carried by err, or untouched when err is not
// an *OpError.
func OutcomeOf(err error) Outcome {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Outcome
	}
	return OutcomeUntouched
}

// StageOf reports the stage carried by err, if any.
func StageOf(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Stage
	}
	return ""
}

// ErrNoArtifact is returned when a listing finds nothing to pull.
var ErrNoArtifact = errors.New("no artifact found")
