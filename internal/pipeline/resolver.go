package pipeline

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/decisiond/internal/extraction"
	"github.com/fyrsmithlabs/decisiond/internal/storage"
)

// Resolve translates ephemeral tempId references into durable identifiers.
//
// First pass assigns one fresh durable id per extracted decision, building
// the complete tempId map before any reference is resolved; this makes
// resolution order-independent and tolerant of forward references. Second
// pass turns every dependsOn entry into an edge: entries matching a tempId
// from this run become "decision:<uuid>", anything else passes through
// unchanged and is treated as an already-resolved cross-conversation
// reference. Resolve never fails; cycles are permitted and not detected.
func Resolve(extracted []extraction.ExtractedDecision, logger *zap.Logger) ([]storage.DecisionRecord, []storage.DependencyEdge) {
	ids := make(map[string]uuid.UUID, len(extracted))
	decisions := make([]storage.DecisionRecord, 0, len(extracted))

	for _, e := range extracted {
		id := uuid.New()
		ids[e.Candidate.TempID] = id
		decisions = append(decisions, storage.DecisionRecord{
			ID:           id,
			Title:        e.Candidate.Title,
			Summary:      e.Summary,
			Reasoning:    e.Reasoning,
			Status:       e.Status,
			Confidence:   e.Confidence,
			Appearances:  e.Candidate.Appearances,
			Alternatives: e.Alternatives,
		})
	}

	var edges []storage.DependencyEdge
	for i, e := range extracted {
		from := decisions[i].ID
		for _, ref := range e.DependsOn {
			target := ref
			if id, ok := ids[ref]; ok {
				target = "decision:" + id.String()
			} else {
				logger.Warn("dependency reference did not match any candidate in this run, passing through",
					zap.String("from_temp_id", e.Candidate.TempID),
					zap.String("reference", ref))
			}
			edges = append(edges, storage.DependencyEdge{
				FromDecisionID: from,
				ToDecisionRef:  target,
			})
		}
	}

	return decisions, edges
}
