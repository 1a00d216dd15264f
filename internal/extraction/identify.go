package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/decisiond/internal/conversation"
)

// identifyResponse is the schema-validated shape of a phase-1 response.
type identifyResponse struct {
	Decisions []DecisionCandidate `json:"decisions" validate:"dive"`
}

var identifySchema = Schema{
	Name:         "identify-decisions",
	Instructions: identifySchemaInstructions,
}

// Identifier runs phase 1 over a full rendered transcript.
type Identifier struct {
	client Client
	logger *zap.Logger
}

// NewIdentifier creates a phase-1 identifier.
func NewIdentifier(client Client, logger *zap.Logger) *Identifier {
	return &Identifier{
		client: client,
		logger: logger.Named("identify"),
	}
}

// Identify scans the transcript and returns the decision candidates it
// contains. Order carries no meaning. An empty candidate list is a valid
// result, not an error.
func (i *Identifier) Identify(ctx context.Context, transcript string) ([]DecisionCandidate, error) {
	var resp identifyResponse
	if err := i.client.Generate(ctx, buildIdentifyPrompt(transcript), identifySchema, &resp); err != nil {
		return nil, fmt.Errorf("identifying decisions: %w", err)
	}

	i.logger.Debug("identified decision candidates",
		zap.Int("count", len(resp.Decisions)))
	return resp.Decisions, nil
}

// SanitizeCandidates enforces that every appearance span lies within
// [0, messageCount-1]. Schema validation can only check span shape; the
// model sometimes returns spans past the end of the transcript. A span that
// starts in range has its end clamped to the last message, a span that
// starts past the last message is dropped, and a candidate left with no
// appearances is dropped with it. Logged and non-fatal.
func SanitizeCandidates(candidates []DecisionCandidate, messageCount int, logger *zap.Logger) []DecisionCandidate {
	kept := make([]DecisionCandidate, 0, len(candidates))
	for _, cand := range candidates {
		apps := make([]conversation.Appearance, 0, len(cand.Appearances))
		for _, app := range cand.Appearances {
			if app.MessageStart >= messageCount {
				logger.Warn("dropping out-of-range appearance",
					zap.String("temp_id", cand.TempID),
					zap.Int("message_start", app.MessageStart),
					zap.Int("message_end", app.MessageEnd),
					zap.Int("message_count", messageCount))
				continue
			}
			if app.MessageEnd >= messageCount {
				logger.Warn("clamping appearance end to last message",
					zap.String("temp_id", cand.TempID),
					zap.Int("message_end", app.MessageEnd),
					zap.Int("message_count", messageCount))
				app.MessageEnd = messageCount - 1
			}
			apps = append(apps, app)
		}
		if len(apps) == 0 {
			logger.Warn("dropping candidate with no in-range appearances",
				zap.String("temp_id", cand.TempID),
				zap.String("title", cand.Title))
			continue
		}
		cand.Appearances = apps
		kept = append(kept, cand)
	}
	return kept
}
