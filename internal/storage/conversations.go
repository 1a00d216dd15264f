package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommitExtraction persists one conversation's full decision graph in a
// single transaction: the conversation row, every message, every decision
// with its appearances and alternatives, and every dependency edge. Nothing
// becomes visible unless everything commits.
func (db *DB) CommitExtraction(ctx context.Context, rec *ExtractionRecord) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, org_id, workspace_id, source, source_path, project_path, session_id, message_count, created_at, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ConversationID, rec.OrgID, rec.WorkspaceID, string(rec.Source), rec.SourcePath,
		rec.ProjectPath, rec.SessionID, len(rec.Messages), rec.CreatedAt, rec.ExtractedAt)
	if err != nil {
		return fmt.Errorf("storage: insert conversation: %w", err)
	}

	for _, m := range rec.Messages {
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, index, role, content, reasoning_trace, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), rec.ConversationID, m.Index, string(m.Role), m.Content, m.ReasoningTrace, m.Timestamp)
		if err != nil {
			return fmt.Errorf("storage: insert message %d: %w", m.Index, err)
		}
	}

	for _, d := range rec.Decisions {
		_, err = tx.Exec(ctx, `
			INSERT INTO decisions (id, conversation_id, org_id, workspace_id, title, summary, reasoning, status, confidence, extracted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			d.ID, rec.ConversationID, rec.OrgID, rec.WorkspaceID, d.Title, d.Summary,
			d.Reasoning, string(d.Status), d.Confidence, rec.ExtractedAt)
		if err != nil {
			return fmt.Errorf("storage: insert decision %s: %w", d.ID, err)
		}

		for _, a := range d.Appearances {
			_, err = tx.Exec(ctx, `
				INSERT INTO decision_appearances (id, decision_id, message_start, message_end, type)
				VALUES ($1, $2, $3, $4, $5)`,
				uuid.New(), d.ID, a.MessageStart, a.MessageEnd, string(a.Kind))
			if err != nil {
				return fmt.Errorf("storage: insert appearance for %s: %w", d.ID, err)
			}
		}

		for _, alt := range d.Alternatives {
			_, err = tx.Exec(ctx, `
				INSERT INTO alternatives (id, decision_id, description, why_rejected)
				VALUES ($1, $2, $3, $4)`,
				uuid.New(), d.ID, alt.Description, alt.WhyRejected)
			if err != nil {
				return fmt.Errorf("storage: insert alternative for %s: %w", d.ID, err)
			}
		}
	}

	for _, e := range rec.Edges {
		_, err = tx.Exec(ctx, `
			INSERT INTO decision_dependencies (id, from_decision_id, to_decision_ref)
			VALUES ($1, $2, $3)`,
			uuid.New(), e.FromDecisionID, e.ToDecisionRef)
		if err != nil {
			return fmt.Errorf("storage: insert dependency from %s: %w", e.FromDecisionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit extraction: %w", err)
	}

	db.logger.Info("extraction committed",
		zap.String("conversation_id", rec.ConversationID.String()),
		zap.Int("messages", len(rec.Messages)),
		zap.Int("decisions", len(rec.Decisions)),
		zap.Int("edges", len(rec.Edges)))
	return nil
}
