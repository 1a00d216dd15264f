// Package workflows provides the Temporal workflow that runs decision
// extraction as a durable, resumable process. Each activity is a discrete
// retryable unit; Temporal's event history gives crash resume for free, so
// a worker restart after candidate 5 of 12 continues at candidate 5.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
	"github.com/fyrsmithlabs/decisiond/internal/pipeline"
)

// TaskQueue is the default task queue for extraction workflows.
const TaskQueue = "decisiond-extraction"

// ExtractionInput starts one extraction workflow.
type ExtractionInput struct {
	RunID       string              `json:"run_id"`
	OrgID       string              `json:"org_id"`
	WorkspaceID string              `json:"workspace_id"`
	Source      conversation.Source `json:"source"`
	SourcePath  string              `json:"source_path"`
	Content     []byte              `json:"content"`
}

// ExtractionWorkflow sequences parse, identify, per-candidate extraction,
// and the atomic store. Only the store activity mutates shared storage;
// retrying it never re-invokes the LLM because completed extraction
// activities replay from history.
func ExtractionWorkflow(ctx workflow.Context, input ExtractionInput) (*pipeline.Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting decision extraction",
		"run_id", input.RunID,
		"source", input.Source,
		"source_path", input.SourcePath)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities

	var parsed conversation.ParseResult
	err := workflow.ExecuteActivity(ctx, a.ParseContent, ParseContentInput{
		Source:     input.Source,
		SourcePath: input.SourcePath,
		Content:    input.Content,
	}).Get(ctx, &parsed)
	if err != nil {
		return nil, fmt.Errorf("parse-content: %w", err)
	}

	// Rendering is pure and deterministic, safe in workflow code.
	transcript := conversation.Render(parsed.Messages)

	var candidates []extraction.DecisionCandidate
	if len(parsed.Messages) > 0 {
		err = workflow.ExecuteActivity(ctx, a.IdentifyDecisions, IdentifyDecisionsInput{
			Transcript:   transcript,
			MessageCount: len(parsed.Messages),
		}).Get(ctx, &candidates)
		if err != nil {
			return nil, fmt.Errorf("identify-decisions: %w", err)
		}
		logger.Info("Identified decision candidates", "count", len(candidates))
	}

	extracted := make([]extraction.ExtractedDecision, len(candidates))
	for i, cand := range candidates {
		err = workflow.ExecuteActivity(ctx, a.ExtractDecision, ExtractDecisionInput{
			Candidate:     cand,
			AllCandidates: candidates,
			Messages:      parsed.Messages,
		}).Get(ctx, &extracted[i])
		if err != nil {
			return nil, fmt.Errorf("extract-decision-%d: %w", i, err)
		}
	}

	var result pipeline.Result
	err = workflow.ExecuteActivity(ctx, a.StoreResults, StoreResultsInput{
		OrgID:       input.OrgID,
		WorkspaceID: input.WorkspaceID,
		Source:      input.Source,
		SourcePath:  input.SourcePath,
		Parsed:      parsed,
		Extracted:   extracted,
	}).Get(ctx, &result)
	if err != nil {
		return nil, fmt.Errorf("store-results: %w", err)
	}

	logger.Info("Decision extraction complete",
		"conversation_id", result.ConversationID,
		"decisions", result.DecisionCount)
	return &result, nil
}
