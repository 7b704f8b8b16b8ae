package pipeline

import (
	"errors"
	"fmt"
)

// Error markers used to classify failures
var (
	ErrValidation   = errors.New("validation error")
	ErrCollaborator = errors.New("collaborator error")
	ErrRender       = errors.New("render error")
	// ErrNoSegments is reported when selection yields no candidates
	ErrNoSegments = errors.New("no candidate segments found")
)

// Stage names a step of the pipeline
type Stage string

const (
	StageOpen       Stage = "open"
	StageSelect     Stage = "select"
	StageValidate   Stage = "validate"
	StageTrack      Stage = "track"
	StageTranscribe Stage = "transcribe"
	StageRender     Stage = "render"
)

// StageError records where a failure happened. Segment is the 1-based
// segment index, or 0 for failures that concern the whole input.
type StageError struct {
	Segment int
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	if e.Segment > 0 {
		return fmt.Sprintf("segment %d: %s: %v", e.Segment, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// wrap tags err with marker and its stage context
func wrap(marker error, segment int, stage Stage, err error) error {
	if errors.Is(err, marker) {
		return &StageError{Segment: segment, Stage: stage, Err: err}
	}
	return &StageError{Segment: segment, Stage: stage, Err: fmt.Errorf("%w: %w", marker, err)}
}

// Fatal reports whether err must abort the whole input rather than one segment
func Fatal(err error) bool {
	return errors.Is(err, ErrValidation) && segmentOf(err) == 0 ||
		errors.Is(err, ErrCollaborator)
}

func segmentOf(err error) int {
	var se *StageError
	if errors.As(err, &se) {
		return se.Segment
	}
	return 0
}
