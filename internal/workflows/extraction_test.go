package workflows

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
	"github.com/fyrsmithlabs/decisiond/internal/pipeline"

	"github.com/google/uuid"
)

func testMessages() []conversation.Message {
	return []conversation.Message{
		{Index: 0, Role: conversation.RoleUser, Content: "Should we use Postgres or SQLite?"},
		{Index: 1, Role: conversation.RoleAssistant, Content: "Postgres. We need concurrent writers."},
		{Index: 2, Role: conversation.RoleUser, Content: "And which driver?"},
		{Index: 3, Role: conversation.RoleAssistant, Content: "pgx, it speaks the native protocol."},
	}
}

func testCandidates() []extraction.DecisionCandidate {
	return []extraction.DecisionCandidate{
		{TempID: "d1", Title: "Use Postgres", Appearances: []conversation.Appearance{{MessageStart: 0, MessageEnd: 1, Kind: conversation.AppearanceIntroduced}}, Confidence: 0.9},
		{TempID: "d2", Title: "Use pgx", Appearances: []conversation.Appearance{{MessageStart: 2, MessageEnd: 3, Kind: conversation.AppearanceIntroduced}}, Confidence: 0.85},
	}
}

func testExtracted(c extraction.DecisionCandidate, dependsOn ...string) extraction.ExtractedDecision {
	return extraction.ExtractedDecision{
		Candidate:  c,
		Summary:    c.Title + " summary",
		Status:     extraction.StatusActive,
		DependsOn:  dependsOn,
		Confidence: c.Confidence,
	}
}

func testWorkflowInput() ExtractionInput {
	return ExtractionInput{
		RunID:       "run-1",
		OrgID:       "org-1",
		WorkspaceID: "ws-1",
		Source:      conversation.SourceClaudeCode,
		SourcePath:  "/tmp/session.jsonl",
		Content:     []byte("raw"),
	}
}

func TestExtractionWorkflow(t *testing.T) {
	t.Run("extracts and stores all decisions", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ExtractionWorkflow)

		var a *Activities
		candidates := testCandidates()

		env.OnActivity(a.ParseContent, mock.Anything, mock.Anything).
			Return(&conversation.ParseResult{Messages: testMessages(), SessionID: "session-1"}, nil)
		env.OnActivity(a.IdentifyDecisions, mock.Anything, mock.Anything).
			Return(candidates, nil)
		env.OnActivity(a.ExtractDecision, mock.Anything, mock.MatchedBy(func(in ExtractDecisionInput) bool {
			return in.Candidate.TempID == "d1"
		})).Return(testExtracted(candidates[0]), nil)
		env.OnActivity(a.ExtractDecision, mock.Anything, mock.MatchedBy(func(in ExtractDecisionInput) bool {
			return in.Candidate.TempID == "d2"
		})).Return(testExtracted(candidates[1], "d1"), nil)

		conversationID := uuid.New()
		env.OnActivity(a.StoreResults, mock.Anything, mock.MatchedBy(func(in StoreResultsInput) bool {
			return len(in.Extracted) == 2 && in.OrgID == "org-1"
		})).Return(&pipeline.Result{ConversationID: conversationID, DecisionCount: 2}, nil)

		env.ExecuteWorkflow(ExtractionWorkflow, testWorkflowInput())

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result pipeline.Result
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, conversationID, result.ConversationID)
		assert.Equal(t, 2, result.DecisionCount)
	})

	t.Run("identify failure aborts before extraction", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ExtractionWorkflow)

		var a *Activities
		env.OnActivity(a.ParseContent, mock.Anything, mock.Anything).
			Return(&conversation.ParseResult{Messages: testMessages()}, nil)
		env.OnActivity(a.IdentifyDecisions, mock.Anything, mock.Anything).
			Return(nil, errors.New("schema validation failed"))

		env.ExecuteWorkflow(ExtractionWorkflow, testWorkflowInput())

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "identify-decisions")
	})

	t.Run("extract failure carries the candidate index", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ExtractionWorkflow)

		var a *Activities
		candidates := testCandidates()

		env.OnActivity(a.ParseContent, mock.Anything, mock.Anything).
			Return(&conversation.ParseResult{Messages: testMessages()}, nil)
		env.OnActivity(a.IdentifyDecisions, mock.Anything, mock.Anything).
			Return(candidates, nil)
		env.OnActivity(a.ExtractDecision, mock.Anything, mock.MatchedBy(func(in ExtractDecisionInput) bool {
			return in.Candidate.TempID == "d1"
		})).Return(testExtracted(candidates[0]), nil)
		env.OnActivity(a.ExtractDecision, mock.Anything, mock.MatchedBy(func(in ExtractDecisionInput) bool {
			return in.Candidate.TempID == "d2"
		})).Return(extraction.ExtractedDecision{}, errors.New("rate limited"))

		env.ExecuteWorkflow(ExtractionWorkflow, testWorkflowInput())

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "extract-decision-1")
	})

	t.Run("store retry does not re-run extraction", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ExtractionWorkflow)

		var a *Activities
		candidates := testCandidates()

		env.OnActivity(a.ParseContent, mock.Anything, mock.Anything).
			Return(&conversation.ParseResult{Messages: testMessages()}, nil).Once()
		env.OnActivity(a.IdentifyDecisions, mock.Anything, mock.Anything).
			Return(candidates, nil).Once()
		env.OnActivity(a.ExtractDecision, mock.Anything, mock.Anything).
			Return(testExtracted(candidates[0]), nil).Times(2)

		// First store attempt fails, the retry succeeds. Extraction mocks
		// above are exhausted after one pass, so a re-run would fail the
		// test.
		env.OnActivity(a.StoreResults, mock.Anything, mock.Anything).
			Return(nil, errors.New("storage unavailable")).Once()
		env.OnActivity(a.StoreResults, mock.Anything, mock.Anything).
			Return(&pipeline.Result{ConversationID: uuid.New(), DecisionCount: 2}, nil).Once()

		env.ExecuteWorkflow(ExtractionWorkflow, testWorkflowInput())

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result pipeline.Result
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 2, result.DecisionCount)
		env.AssertExpectations(t)
	})

	t.Run("empty conversation skips identification", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ExtractionWorkflow)

		var a *Activities
		env.OnActivity(a.ParseContent, mock.Anything, mock.Anything).
			Return(&conversation.ParseResult{}, nil)
		env.OnActivity(a.StoreResults, mock.Anything, mock.MatchedBy(func(in StoreResultsInput) bool {
			return len(in.Extracted) == 0
		})).Return(&pipeline.Result{ConversationID: uuid.New(), DecisionCount: 0}, nil)

		env.ExecuteWorkflow(ExtractionWorkflow, testWorkflowInput())

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result pipeline.Result
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 0, result.DecisionCount)
	})
}
