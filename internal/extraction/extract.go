package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// extractResponse is the schema-validated shape of a phase-2 response.
type extractResponse struct {
	Summary      string        `json:"summary" validate:"required"`
	Reasoning    string        `json:"reasoning"`
	Alternatives []Alternative `json:"alternativesConsidered" validate:"dive"`
	Status       Status        `json:"status" validate:"oneof=active superseded tentative"`
	DependsOn    []string      `json:"dependsOn"`
	Confidence   float64       `json:"confidence" validate:"gte=0,lte=1"`
}

var extractSchema = Schema{
	Name:         "extract-decision",
	Instructions: extractSchemaInstructions,
}

// Extractor runs phase 2 for single candidates. Extractions of different
// candidates share no mutable state, so they can be retried or parallelized
// independently.
type Extractor struct {
	client Client
	logger *zap.Logger
}

// NewExtractor creates a phase-2 extractor.
func NewExtractor(client Client, logger *zap.Logger) *Extractor {
	return &Extractor{
		client: client,
		logger: logger.Named("extract"),
	}
}

// Extract produces full reasoning detail for one candidate. contextWindow is
// the rendered excerpt covering the candidate's own appearances;
// allCandidates is the complete phase-1 set, used to offer dependsOn targets.
func (e *Extractor) Extract(ctx context.Context, candidate DecisionCandidate, contextWindow string, allCandidates []DecisionCandidate) (ExtractedDecision, error) {
	prompt := buildExtractPrompt(candidate, contextWindow, allCandidates)

	var resp extractResponse
	if err := e.client.Generate(ctx, prompt, extractSchema, &resp); err != nil {
		return ExtractedDecision{}, fmt.Errorf("extracting decision %s: %w", candidate.TempID, err)
	}

	e.logger.Debug("extracted decision",
		zap.String("temp_id", candidate.TempID),
		zap.String("status", string(resp.Status)),
		zap.Int("dependencies", len(resp.DependsOn)))

	return ExtractedDecision{
		Candidate:    candidate,
		Summary:      resp.Summary,
		Reasoning:    resp.Reasoning,
		Alternatives: resp.Alternatives,
		Status:       resp.Status,
		DependsOn:    resp.DependsOn,
		Confidence:   resp.Confidence,
	}, nil
}
