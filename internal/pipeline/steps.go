package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Step names, also the checkpoint keys. Extraction steps append the
// candidate index.
const (
	StepParseContent    = "parse-content"
	StepBuildTranscript = "build-transcript"
	StepIdentify        = "identify-decisions"
	StepStoreResults    = "store-results"
)

// ExtractStepName returns the checkpoint key for one candidate's extraction.
func ExtractStepName(i int) string {
	return fmt.Sprintf("extract-decision-%d", i)
}

// StepCache persists completed step results keyed by (run id, step name).
// A populated entry means the step completed; resumed runs skip it.
type StepCache interface {
	StepGet(ctx context.Context, runID, step string) ([]byte, bool, error)
	StepPut(ctx context.Context, runID, step string, result []byte) error
}

// MemoryStepCache is an in-process StepCache. Used in tests and for
// one-shot runs where durability across process restarts is not needed.
type MemoryStepCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryStepCache creates an empty in-memory step cache.
func NewMemoryStepCache() *MemoryStepCache {
	return &MemoryStepCache{entries: make(map[string][]byte)}
}

func (c *MemoryStepCache) key(runID, step string) string {
	return runID + "\x00" + step
}

func (c *MemoryStepCache) StepGet(_ context.Context, runID, step string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[c.key(runID, step)]
	return data, ok, nil
}

func (c *MemoryStepCache) StepPut(_ context.Context, runID, step string, result []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(runID, step)] = result
	return nil
}

// runStep executes fn unless a cached result exists for (runID, name), in
// which case the cached result is returned and fn never runs. Results are
// stored as JSON; an unreadable cached entry falls back to recomputation.
func runStep[T any](ctx context.Context, cache StepCache, runID, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	data, ok, err := cache.StepGet(ctx, runID, name)
	if err != nil {
		return zero, fmt.Errorf("reading checkpoint %s: %w", name, err)
	}
	if ok {
		var cached T
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("encoding checkpoint %s: %w", name, err)
	}
	if err := cache.StepPut(ctx, runID, name, encoded); err != nil {
		return zero, fmt.Errorf("writing checkpoint %s: %w", name, err)
	}
	return out, nil
}
