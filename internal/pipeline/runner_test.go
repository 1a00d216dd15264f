package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/decisiond/internal/config"
	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
	"github.com/fyrsmithlabs/decisiond/internal/storage"
)

// fakeLLM scripts identify and extract responses by schema name. Extract
// responses are keyed by the candidate tempId found in the prompt.
type fakeLLM struct {
	mu            sync.Mutex
	identifyJSON  string
	extractJSON   map[string]string
	identifyCalls int
	extractCalls  map[string]int
	failIdentify  bool
	failExtract   map[string]int // remaining failures per tempId
}

var tempIDRe = regexp.MustCompile(`\(id ([^)]+)\)`)

func (f *fakeLLM) Generate(_ context.Context, prompt string, schema extraction.Schema, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extractCalls == nil {
		f.extractCalls = make(map[string]int)
	}

	switch schema.Name {
	case "identify-decisions":
		f.identifyCalls++
		if f.failIdentify {
			return errors.New("max retries exceeded: server error (500)")
		}
		return json.Unmarshal([]byte(f.identifyJSON), out)
	case "extract-decision":
		m := tempIDRe.FindStringSubmatch(prompt)
		if m == nil {
			return fmt.Errorf("no candidate id in prompt")
		}
		tempID := m[1]
		f.extractCalls[tempID]++
		if f.failExtract[tempID] > 0 {
			f.failExtract[tempID]--
			return errors.New("max retries exceeded: rate limited (429)")
		}
		raw, ok := f.extractJSON[tempID]
		if !ok {
			return fmt.Errorf("no scripted extraction for %s", tempID)
		}
		return json.Unmarshal([]byte(raw), out)
	default:
		return fmt.Errorf("unknown schema %q", schema.Name)
	}
}

func (f *fakeLLM) totalExtractCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.extractCalls {
		total += n
	}
	return total
}

// fakeStore records commits and can fail a set number of times first.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	commits  []*storage.ExtractionRecord
}

func (s *fakeStore) CommitExtraction(_ context.Context, rec *storage.ExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("storage unavailable")
	}
	s.commits = append(s.commits, rec)
	return nil
}

const testContent = `{"role":"user","content":"Should we use Postgres or SQLite?"}
{"role":"assistant","content":"Postgres. We need concurrent writers."}
{"role":"user","content":"And which driver?"}
{"role":"assistant","content":"pgx, it speaks the native protocol."}
{"role":"user","content":"Sounds good."}
`

const testIdentifyJSON = `{"decisions":[
	{"tempId":"d1","title":"Use Postgres","appearances":[{"messageStart":0,"messageEnd":1,"kind":"introduced"}],"confidence":0.9},
	{"tempId":"d2","title":"Use pgx","appearances":[{"messageStart":2,"messageEnd":3,"kind":"introduced"}],"confidence":0.85}
]}`

var testExtractJSON = map[string]string{
	"d1": `{"summary":"Use Postgres for storage","reasoning":"concurrent writers","alternativesConsidered":[{"description":"SQLite","whyRejected":"single writer"}],"status":"active","dependsOn":[],"confidence":0.9}`,
	"d2": `{"summary":"Use pgx as the Postgres driver","reasoning":"native protocol","alternativesConsidered":[],"status":"active","dependsOn":["d1"],"confidence":0.85}`,
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		WindowBuffer:       2,
		MaxAttempts:        3,
		BaseBackoff:        config.Duration(time.Millisecond),
		ExtractConcurrency: 1,
	}
}

func newTestRunner(llm *fakeLLM, store *fakeStore, cache StepCache) *Runner {
	logger := zap.NewNop()
	return NewRunner(
		conversation.NewRegistry(),
		extraction.NewIdentifier(llm, logger),
		extraction.NewExtractor(llm, logger),
		store,
		cache,
		testPipelineConfig(),
		logger,
	)
}

func testInput(runID string) Input {
	return Input{
		RunID:       runID,
		OrgID:       "org-1",
		WorkspaceID: "ws-1",
		Source:      conversation.SourceOther,
		SourcePath:  "/tmp/session.jsonl",
		Content:     []byte(testContent),
	}
}

func TestRunHappyPath(t *testing.T) {
	llm := &fakeLLM{identifyJSON: testIdentifyJSON, extractJSON: testExtractJSON}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, NewMemoryStepCache())

	result, err := runner.Run(context.Background(), testInput("run-1"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.DecisionCount)
	assert.Equal(t, 1, llm.identifyCalls)
	assert.Equal(t, 2, llm.totalExtractCalls())

	require.Len(t, store.commits, 1)
	rec := store.commits[0]
	assert.Equal(t, result.ConversationID, rec.ConversationID)
	assert.Equal(t, "org-1", rec.OrgID)
	assert.Len(t, rec.Messages, 5)
	assert.Len(t, rec.Decisions, 2)

	// d2 depends on d1, resolved to a durable reference.
	require.Len(t, rec.Edges, 1)
	assert.Equal(t, rec.Decisions[1].ID, rec.Edges[0].FromDecisionID)
	assert.Equal(t, "decision:"+rec.Decisions[0].ID.String(), rec.Edges[0].ToDecisionRef)
}

func TestRunEmptyConversationCommitsNoDecisions(t *testing.T) {
	llm := &fakeLLM{}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, NewMemoryStepCache())

	input := testInput("run-empty")
	input.Content = []byte("")

	result, err := runner.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 0, result.DecisionCount)
	assert.Equal(t, 0, llm.identifyCalls, "no LLM call for an empty conversation")
	require.Len(t, store.commits, 1)
	assert.Empty(t, store.commits[0].Decisions)
}

func TestRunNoDecisionsFound(t *testing.T) {
	llm := &fakeLLM{identifyJSON: `{"decisions":[]}`}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, NewMemoryStepCache())

	result, err := runner.Run(context.Background(), testInput("run-none"))
	require.NoError(t, err)

	assert.Equal(t, 0, result.DecisionCount)
	assert.Equal(t, 0, llm.totalExtractCalls())
	require.Len(t, store.commits, 1)
	assert.Len(t, store.commits[0].Messages, 5)
}

func TestRunIdentifyFailureAbortsBeforeExtraction(t *testing.T) {
	llm := &fakeLLM{failIdentify: true}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, NewMemoryStepCache())

	_, err := runner.Run(context.Background(), testInput("run-2"))
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseIdentify, perr.Phase)
	assert.Equal(t, -1, perr.Candidate)
	assert.Equal(t, 0, llm.totalExtractCalls(), "no extraction after identify failure")
	assert.Equal(t, 0, store.calls, "nothing stored on failure")
}

func TestRunExtractFailureCarriesCandidateIndex(t *testing.T) {
	llm := &fakeLLM{
		identifyJSON: testIdentifyJSON,
		extractJSON:  testExtractJSON,
		failExtract:  map[string]int{"d2": 10}, // more failures than the retry budget
	}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, NewMemoryStepCache())

	_, err := runner.Run(context.Background(), testInput("run-3"))
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseExtract, perr.Phase)
	assert.Equal(t, 1, perr.Candidate)
	assert.Equal(t, 0, store.calls, "no partial commit")
}

func TestRunResumeSkipsCompletedSteps(t *testing.T) {
	cache := NewMemoryStepCache()
	llm := &fakeLLM{
		identifyJSON: testIdentifyJSON,
		extractJSON:  testExtractJSON,
		failExtract:  map[string]int{"d2": 10},
	}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, cache)

	// First run fails on candidate 1 after candidate 0 was checkpointed.
	_, err := runner.Run(context.Background(), testInput("run-4"))
	require.Error(t, err)
	firstIdentifyCalls := llm.identifyCalls
	firstD1Calls := llm.extractCalls["d1"]
	assert.Equal(t, 1, firstIdentifyCalls)
	assert.Equal(t, 1, firstD1Calls)

	// The underlying cause clears; the same run id resumes.
	llm.mu.Lock()
	llm.failExtract = nil
	llm.mu.Unlock()

	result, err := runner.Run(context.Background(), testInput("run-4"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.DecisionCount)
	assert.Equal(t, firstIdentifyCalls, llm.identifyCalls, "identify must not re-run on resume")
	assert.Equal(t, firstD1Calls, llm.extractCalls["d1"], "completed extraction must not re-run on resume")
	require.Len(t, store.commits, 1)
}

func TestRunStoreRetryDoesNotReinvokeLLM(t *testing.T) {
	llm := &fakeLLM{identifyJSON: testIdentifyJSON, extractJSON: testExtractJSON}
	store := &fakeStore{failures: 2}
	runner := newTestRunner(llm, store, NewMemoryStepCache())

	result, err := runner.Run(context.Background(), testInput("run-5"))
	require.NoError(t, err)

	assert.Equal(t, 3, store.calls, "store retried until it succeeded")
	assert.Equal(t, 1, llm.identifyCalls)
	assert.Equal(t, 2, llm.totalExtractCalls())
	assert.Equal(t, 2, result.DecisionCount)
}

func TestRunStoreFailureThenRerunUsesCachedExtractions(t *testing.T) {
	cache := NewMemoryStepCache()
	llm := &fakeLLM{identifyJSON: testIdentifyJSON, extractJSON: testExtractJSON}
	store := &fakeStore{failures: 10} // exhausts the in-run retry budget
	runner := newTestRunner(llm, store, cache)

	_, err := runner.Run(context.Background(), testInput("run-6"))
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseStore, perr.Phase)

	llmCallsAfterFirst := llm.identifyCalls + llm.totalExtractCalls()

	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()

	result, err := runner.Run(context.Background(), testInput("run-6"))
	require.NoError(t, err)

	assert.Equal(t, llmCallsAfterFirst, llm.identifyCalls+llm.totalExtractCalls(),
		"store retry must not re-invoke the LLM")
	assert.Equal(t, 2, result.DecisionCount)
	require.Len(t, store.commits, 1)
}

func TestRunCompletedRunReturnsCachedResult(t *testing.T) {
	cache := NewMemoryStepCache()
	llm := &fakeLLM{identifyJSON: testIdentifyJSON, extractJSON: testExtractJSON}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, cache)

	first, err := runner.Run(context.Background(), testInput("run-7"))
	require.NoError(t, err)

	second, err := runner.Run(context.Background(), testInput("run-7"))
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	require.Len(t, store.commits, 1, "completed store step must not commit again")
}

func TestRunConcurrentExtraction(t *testing.T) {
	llm := &fakeLLM{identifyJSON: testIdentifyJSON, extractJSON: testExtractJSON}
	store := &fakeStore{}

	logger := zap.NewNop()
	cfg := testPipelineConfig()
	cfg.ExtractConcurrency = 4
	runner := NewRunner(
		conversation.NewRegistry(),
		extraction.NewIdentifier(llm, logger),
		extraction.NewExtractor(llm, logger),
		store,
		NewMemoryStepCache(),
		cfg,
		logger,
	)

	result, err := runner.Run(context.Background(), testInput("run-8"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.DecisionCount)
	require.Len(t, store.commits, 1)
	// Resolution is order-independent, so the edge set is the same as the
	// sequential run's.
	rec := store.commits[0]
	require.Len(t, rec.Edges, 1)
	assert.Equal(t, "decision:"+rec.Decisions[0].ID.String(), rec.Edges[0].ToDecisionRef)
}

func TestRunMissingRunID(t *testing.T) {
	runner := newTestRunner(&fakeLLM{}, &fakeStore{}, NewMemoryStepCache())
	input := testInput("")
	_, err := runner.Run(context.Background(), input)
	require.Error(t, err)
}

func TestRunDropsOutOfRangeSpansBeforeStore(t *testing.T) {
	// Phase 1 returns one hallucinated candidate (span far past the
	// 5-message conversation) and one span that only needs its end clamped.
	identifyJSON := `{"decisions":[
		{"tempId":"d1","title":"Use Postgres","appearances":[{"messageStart":0,"messageEnd":1,"kind":"introduced"}],"confidence":0.9},
		{"tempId":"d2","title":"Hallucinated","appearances":[{"messageStart":100,"messageEnd":120,"kind":"introduced"}],"confidence":0.8},
		{"tempId":"d3","title":"Use pgx","appearances":[{"messageStart":3,"messageEnd":9,"kind":"introduced"}],"confidence":0.85}
	]}`
	llm := &fakeLLM{
		identifyJSON: identifyJSON,
		extractJSON: map[string]string{
			"d1": testExtractJSON["d1"],
			"d3": `{"summary":"Use pgx as the Postgres driver","reasoning":"native protocol","alternativesConsidered":[],"status":"active","dependsOn":["d1"],"confidence":0.85}`,
		},
	}
	store := &fakeStore{}
	runner := newTestRunner(llm, store, NewMemoryStepCache())

	result, err := runner.Run(context.Background(), testInput("run-spans"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.DecisionCount)
	assert.Zero(t, llm.extractCalls["d2"], "dropped candidate must not reach extraction")

	require.Len(t, store.commits, 1)
	rec := store.commits[0]
	require.Len(t, rec.Decisions, 2)
	for _, dec := range rec.Decisions {
		for _, app := range dec.Appearances {
			assert.GreaterOrEqual(t, app.MessageStart, 0)
			assert.Less(t, app.MessageEnd, len(rec.Messages),
				"persisted appearance %d..%d exceeds the message range", app.MessageStart, app.MessageEnd)
		}
	}
	// The clamped span ends at the last message, not past it.
	assert.Equal(t, 4, rec.Decisions[1].Appearances[0].MessageEnd)
}
