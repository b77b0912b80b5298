package acq

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyAcquiring is generated when a run is requested while another
	// is in progress
	ErrAlreadyAcquiring = errors.New("acq: already acquiring")

	// ErrCancelled is generated by blocking steps of a run that observe
	// cancellation
	ErrCancelled = errors.New("acq: acquisition cancelled")

	// ErrNoBackground is generated when the background frame is requested
	// before one was acquired
	ErrNoBackground = errors.New("acq: no background has been acquired")
)

// PreconditionError is generated synchronously when a device needed by a
// request is closed or unavailable.  No session is created.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string {
	return "acq: precondition failed: " + e.Reason
}

// ValidationError is generated when a request is malformed
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("acq: invalid %s: %s", e.Field, e.Reason)
}

// ShapeError is generated when the captured frames cannot be assembled into a
// dataset of the expected shape
type ShapeError struct {
	Want, Got int
	Detail    string
}

func (e ShapeError) Error() string {
	if e.Detail != "" {
		return "acq: shape mismatch: " + e.Detail
	}
	return fmt.Sprintf("acq: shape mismatch: expected %d frames, got %d", e.Want, e.Got)
}
