// Package pipeline orchestrates the extraction of decisions from one
// conversation as a durable, resumable sequence of checkpointed steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/decisiond/internal/config"
	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
	"github.com/fyrsmithlabs/decisiond/internal/storage"
)

// Store is the commit surface the pipeline needs from the storage layer.
type Store interface {
	CommitExtraction(ctx context.Context, rec *storage.ExtractionRecord) error
}

// Input triggers one pipeline run. RunID identifies the run for checkpoint
// caching: re-triggering with the same RunID resumes rather than restarts.
type Input struct {
	RunID       string              `json:"run_id"`
	OrgID       string              `json:"org_id"`
	WorkspaceID string              `json:"workspace_id"`
	Source      conversation.Source `json:"source"`
	SourcePath  string              `json:"source_path"`
	Content     []byte              `json:"content"`
}

// Result is returned on success.
type Result struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	DecisionCount  int       `json:"decision_count"`
}

// Runner executes the pipeline state machine. Steps run sequentially except
// per-candidate extraction, which may be parallelized up to the configured
// concurrency; only the final store step touches shared storage, and it
// commits atomically. Concurrent runs for different conversations are fully
// independent.
type Runner struct {
	registry   *conversation.Registry
	identifier *extraction.Identifier
	extractor  *extraction.Extractor
	store      Store
	cache      StepCache
	cfg        config.PipelineConfig
	logger     *zap.Logger
}

// NewRunner wires a pipeline runner from its collaborators.
func NewRunner(registry *conversation.Registry, identifier *extraction.Identifier, extractor *extraction.Extractor, store Store, cache StepCache, cfg config.PipelineConfig, logger *zap.Logger) *Runner {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ExtractConcurrency < 1 {
		cfg.ExtractConcurrency = 1
	}
	if cfg.WindowBuffer <= 0 {
		cfg.WindowBuffer = conversation.DefaultWindowBuffer
	}
	return &Runner{
		registry:   registry,
		identifier: identifier,
		extractor:  extractor,
		store:      store,
		cache:      cache,
		cfg:        cfg,
		logger:     logger.Named("pipeline"),
	}
}

// Run executes (or resumes) one extraction run. Completed steps are read
// back from the checkpoint cache and never re-executed, so a crash after
// candidate 5 of 12 resumes at candidate 5 and a store retry never
// re-invokes the LLM.
func (r *Runner) Run(ctx context.Context, input Input) (*Result, error) {
	if input.RunID == "" {
		return nil, newError(PhaseParse, errors.New("run id required"))
	}
	logger := r.logger.With(zap.String("run_id", input.RunID))

	parsed, err := runStep(ctx, r.cache, input.RunID, StepParseContent, func(ctx context.Context) (*conversation.ParseResult, error) {
		res, err := r.registry.ParseContent(input.Source, input.Content, input.SourcePath)
		if err != nil {
			return nil, err
		}
		if res.ErrorCount > 0 {
			logger.Warn("skipped malformed input lines", zap.Int("count", res.ErrorCount))
		}
		return res, nil
	})
	if err != nil {
		return nil, newError(PhaseParse, err)
	}

	transcript, err := runStep(ctx, r.cache, input.RunID, StepBuildTranscript, func(context.Context) (string, error) {
		return conversation.Render(parsed.Messages), nil
	})
	if err != nil {
		return nil, newError(PhaseParse, err)
	}

	var candidates []extraction.DecisionCandidate
	if len(parsed.Messages) > 0 {
		candidates, err = runStep(ctx, r.cache, input.RunID, StepIdentify, func(ctx context.Context) ([]extraction.DecisionCandidate, error) {
			cands, err := r.identifier.Identify(ctx, transcript)
			if err != nil {
				return nil, err
			}
			// Spans are checked against the real message count before
			// checkpointing, so out-of-range appearances never persist.
			return extraction.SanitizeCandidates(cands, len(parsed.Messages), logger), nil
		})
		if err != nil {
			return nil, newError(PhaseIdentify, err)
		}
		logger.Info("identified decision candidates", zap.Int("count", len(candidates)))
	}

	extracted, err := r.extractAll(ctx, input.RunID, parsed.Messages, candidates)
	if err != nil {
		return nil, err
	}

	result, err := runStep(ctx, r.cache, input.RunID, StepStoreResults, func(ctx context.Context) (*Result, error) {
		decisions, edges := Resolve(extracted, logger)
		rec := &storage.ExtractionRecord{
			ConversationID: uuid.New(),
			OrgID:          input.OrgID,
			WorkspaceID:    input.WorkspaceID,
			Source:         input.Source,
			SourcePath:     input.SourcePath,
			ProjectPath:    parsed.ProjectPath,
			SessionID:      parsed.SessionID,
			CreatedAt:      parsed.CreatedAt,
			ExtractedAt:    time.Now().UTC(),
			Messages:       parsed.Messages,
			Decisions:      decisions,
			Edges:          edges,
		}
		if err := r.withRetry(ctx, func(ctx context.Context) error {
			return r.store.CommitExtraction(ctx, rec)
		}); err != nil {
			return nil, err
		}
		return &Result{ConversationID: rec.ConversationID, DecisionCount: len(decisions)}, nil
	})
	if err != nil {
		return nil, newError(PhaseStore, err)
	}

	logger.Info("pipeline run complete",
		zap.String("conversation_id", result.ConversationID.String()),
		zap.Int("decisions", result.DecisionCount))
	return result, nil
}

// extractAll runs phase 2 for every candidate. Candidates have no data
// dependency between them, so extraction may run concurrently; each
// candidate's step checkpoints independently and failures carry the
// candidate index.
func (r *Runner) extractAll(ctx context.Context, runID string, messages []conversation.Message, candidates []extraction.DecisionCandidate) ([]extraction.ExtractedDecision, error) {
	extracted := make([]extraction.ExtractedDecision, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ExtractConcurrency)

	for i, cand := range candidates {
		g.Go(func() error {
			dec, err := runStep(gctx, r.cache, runID, ExtractStepName(i), func(ctx context.Context) (extraction.ExtractedDecision, error) {
				window := conversation.RenderWindow(messages, cand.Appearances, r.cfg.WindowBuffer)
				var out extraction.ExtractedDecision
				retryErr := r.withRetry(ctx, func(ctx context.Context) error {
					var extractErr error
					out, extractErr = r.extractor.Extract(ctx, cand, window, candidates)
					return extractErr
				})
				return out, retryErr
			})
			if err != nil {
				return newCandidateError(i, err)
			}
			extracted[i] = dec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, newError(PhaseExtract, err)
	}
	return extracted, nil
}

// withRetry runs fn up to MaxAttempts times with doubling backoff. Used for
// the orchestrator-level retry budget around extraction and store.
func (r *Runner) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := r.cfg.BaseBackoff.Duration() * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}
