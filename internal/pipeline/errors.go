package pipeline

import "fmt"

// Phase names the pipeline stage a failure occurred in.
type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseIdentify Phase = "identify"
	PhaseExtract  Phase = "extract"
	PhaseStore    Phase = "store"
)

// Error is a typed pipeline failure carrying the phase and, for extraction
// failures, the index of the candidate that failed. Candidate is -1 when not
// applicable.
type Error struct {
	Phase     Phase
	Candidate int
	Err       error
}

func (e *Error) Error() string {
	if e.Candidate >= 0 {
		return fmt.Sprintf("pipeline failed in phase %s (candidate %d): %v", e.Phase, e.Candidate, e.Err)
	}
	return fmt.Sprintf("pipeline failed in phase %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(phase Phase, err error) *Error {
	return &Error{Phase: phase, Candidate: -1, Err: err}
}

func newCandidateError(index int, err error) *Error {
	return &Error{Phase: PhaseExtract, Candidate: index, Err: err}
}
