package workflows

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
	"github.com/fyrsmithlabs/decisiond/internal/pipeline"
	"github.com/fyrsmithlabs/decisiond/internal/storage"
)

// Activities holds the collaborators the extraction activities need. One
// instance is registered per worker.
type Activities struct {
	registry     *conversation.Registry
	identifier   *extraction.Identifier
	extractor    *extraction.Extractor
	store        pipeline.Store
	windowBuffer int
	logger       *zap.Logger
}

// NewActivities wires the activity set.
func NewActivities(registry *conversation.Registry, identifier *extraction.Identifier, extractor *extraction.Extractor, store pipeline.Store, windowBuffer int, logger *zap.Logger) *Activities {
	if windowBuffer <= 0 {
		windowBuffer = conversation.DefaultWindowBuffer
	}
	return &Activities{
		registry:     registry,
		identifier:   identifier,
		extractor:    extractor,
		store:        store,
		windowBuffer: windowBuffer,
		logger:       logger.Named("activities"),
	}
}

// ParseContentInput carries the raw conversation bytes into parsing.
type ParseContentInput struct {
	Source     conversation.Source `json:"source"`
	SourcePath string              `json:"source_path"`
	Content    []byte              `json:"content"`
}

// ParseContent normalizes raw conversation content into ordered messages.
// Malformed lines are skipped, never fatal.
func (a *Activities) ParseContent(ctx context.Context, input ParseContentInput) (*conversation.ParseResult, error) {
	result, err := a.registry.ParseContent(input.Source, input.Content, input.SourcePath)
	if err != nil {
		return nil, err
	}
	if result.ErrorCount > 0 {
		a.logger.Warn("skipped malformed input lines",
			zap.String("source_path", input.SourcePath),
			zap.Int("count", result.ErrorCount))
	}
	return result, nil
}

// IdentifyDecisionsInput carries the rendered transcript plus the message
// count the returned appearance spans are checked against.
type IdentifyDecisionsInput struct {
	Transcript   string `json:"transcript"`
	MessageCount int    `json:"message_count"`
}

// IdentifyDecisions runs phase 1 over the rendered transcript. Candidate
// spans are sanitized against the message count so out-of-range appearances
// never reach extraction or storage.
func (a *Activities) IdentifyDecisions(ctx context.Context, input IdentifyDecisionsInput) ([]extraction.DecisionCandidate, error) {
	start := time.Now()
	candidates, err := a.identifier.Identify(ctx, input.Transcript)
	phaseDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(phaseAttr("identify")))
	if err != nil {
		phaseErrorCounter.Add(ctx, 1, metric.WithAttributes(phaseAttr("identify")))
		return nil, err
	}
	return extraction.SanitizeCandidates(candidates, input.MessageCount, a.logger), nil
}

// ExtractDecisionInput carries one candidate plus the context needed to
// build its window and cross-reference the other candidates.
type ExtractDecisionInput struct {
	Candidate     extraction.DecisionCandidate   `json:"candidate"`
	AllCandidates []extraction.DecisionCandidate `json:"all_candidates"`
	Messages      []conversation.Message         `json:"messages"`
}

// ExtractDecision runs phase 2 for a single candidate.
func (a *Activities) ExtractDecision(ctx context.Context, input ExtractDecisionInput) (extraction.ExtractedDecision, error) {
	window := conversation.RenderWindow(input.Messages, input.Candidate.Appearances, a.windowBuffer)

	start := time.Now()
	decision, err := a.extractor.Extract(ctx, input.Candidate, window, input.AllCandidates)
	phaseDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(phaseAttr("extract")))
	if err != nil {
		phaseErrorCounter.Add(ctx, 1, metric.WithAttributes(phaseAttr("extract")))
		return extraction.ExtractedDecision{}, err
	}
	return decision, nil
}

// StoreResultsInput carries everything needed for the atomic commit.
type StoreResultsInput struct {
	OrgID       string                         `json:"org_id"`
	WorkspaceID string                         `json:"workspace_id"`
	Source      conversation.Source            `json:"source"`
	SourcePath  string                         `json:"source_path"`
	Parsed      conversation.ParseResult       `json:"parsed"`
	Extracted   []extraction.ExtractedDecision `json:"extracted"`
}

// StoreResults resolves tempId references and commits the full conversation
// graph in one transaction. This is the only activity that mutates shared
// storage.
func (a *Activities) StoreResults(ctx context.Context, input StoreResultsInput) (*pipeline.Result, error) {
	decisions, edges := pipeline.Resolve(input.Extracted, a.logger)

	rec := &storage.ExtractionRecord{
		ConversationID: uuid.New(),
		OrgID:          input.OrgID,
		WorkspaceID:    input.WorkspaceID,
		Source:         input.Source,
		SourcePath:     input.SourcePath,
		ProjectPath:    input.Parsed.ProjectPath,
		SessionID:      input.Parsed.SessionID,
		CreatedAt:      input.Parsed.CreatedAt,
		ExtractedAt:    time.Now().UTC(),
		Messages:       input.Parsed.Messages,
		Decisions:      decisions,
		Edges:          edges,
	}

	if err := a.store.CommitExtraction(ctx, rec); err != nil {
		phaseErrorCounter.Add(ctx, 1, metric.WithAttributes(phaseAttr("store")))
		return nil, err
	}

	decisionsExtractedCounter.Add(ctx, int64(len(decisions)))
	return &pipeline.Result{
		ConversationID: rec.ConversationID,
		DecisionCount:  len(decisions),
	}, nil
}
