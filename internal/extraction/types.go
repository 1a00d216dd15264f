// Package extraction runs the two-phase LLM decision extraction: phase 1
// identifies decision candidates across a full transcript, phase 2 extracts
// full reasoning detail for each candidate from a bounded context window.
package extraction

import (
	"github.com/fyrsmithlabs/decisiond/internal/conversation"
)

// Status is the lifecycle state of an extracted decision.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusTentative  Status = "tentative"
)

// DecisionCandidate is a phase-1 output: a decision spotted in the
// transcript, located by its appearances. TempID is ephemeral, unique only
// within one pipeline run, and never persisted.
type DecisionCandidate struct {
	TempID      string                    `json:"tempId" validate:"required"`
	Title       string                    `json:"title" validate:"required"`
	Appearances []conversation.Appearance `json:"appearances" validate:"required,min=1,dive"`
	Confidence  float64                   `json:"confidence" validate:"gte=0,lte=1"`
}

// Alternative is an option that was considered and rejected.
type Alternative struct {
	Description string `json:"description" validate:"required"`
	WhyRejected string `json:"whyRejected"`
}

// ExtractedDecision is a phase-2 output: one candidate with full reasoning
// detail. DependsOn entries are tempIds of other candidates from the same
// run; unresolvable entries are treated as cross-conversation references
// downstream.
type ExtractedDecision struct {
	Candidate    DecisionCandidate `json:"candidate"`
	Summary      string            `json:"summary" validate:"required"`
	Reasoning    string            `json:"reasoning"`
	Alternatives []Alternative     `json:"alternativesConsidered" validate:"dive"`
	Status       Status            `json:"status" validate:"oneof=active superseded tentative"`
	DependsOn    []string          `json:"dependsOn"`
	Confidence   float64           `json:"confidence" validate:"gte=0,lte=1"`
}
