package workflows

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
)

// cannedLLM unmarshals the same payload for every call.
type cannedLLM struct {
	payload string
}

func (c cannedLLM) Generate(_ context.Context, _ string, _ extraction.Schema, out any) error {
	return json.Unmarshal([]byte(c.payload), out)
}

func TestIdentifyDecisionsSanitizesSpans(t *testing.T) {
	llm := cannedLLM{payload: `{"decisions":[
		{"tempId":"d1","title":"Use Postgres","appearances":[{"messageStart":0,"messageEnd":1,"kind":"introduced"}],"confidence":0.9},
		{"tempId":"d2","title":"Hallucinated","appearances":[{"messageStart":100,"messageEnd":120,"kind":"introduced"}],"confidence":0.8}
	]}`}

	logger := zap.NewNop()
	a := NewActivities(
		conversation.NewRegistry(),
		extraction.NewIdentifier(llm, logger),
		extraction.NewExtractor(llm, logger),
		nil,
		2,
		logger,
	)

	candidates, err := a.IdentifyDecisions(context.Background(), IdentifyDecisionsInput{
		Transcript:   "[0] USER: hi",
		MessageCount: 5,
	})
	require.NoError(t, err)

	require.Len(t, candidates, 1, "candidate with an out-of-range span is dropped")
	assert.Equal(t, "d1", candidates[0].TempID)
}
