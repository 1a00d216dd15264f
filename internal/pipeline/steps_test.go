package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStepCachesResult(t *testing.T) {
	cache := NewMemoryStepCache()
	ctx := context.Background()
	calls := 0

	fn := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	got, err := runStep(ctx, cache, "run", "step", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = runStep(ctx, cache, "run", "step", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls, "second call must hit the cache")
}

func TestRunStepKeyedByRunAndStep(t *testing.T) {
	cache := NewMemoryStepCache()
	ctx := context.Background()

	_, err := runStep(ctx, cache, "run-a", "step", func(context.Context) (string, error) { return "a", nil })
	require.NoError(t, err)

	got, err := runStep(ctx, cache, "run-b", "step", func(context.Context) (string, error) { return "b", nil })
	require.NoError(t, err)
	assert.Equal(t, "b", got, "different run ids must not share checkpoints")
}

func TestRunStepFailureIsNotCached(t *testing.T) {
	cache := NewMemoryStepCache()
	ctx := context.Background()
	calls := 0

	fn := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 7, nil
	}

	_, err := runStep(ctx, cache, "run", "step", fn)
	require.Error(t, err)

	got, err := runStep(ctx, cache, "run", "step", fn)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 2, calls)
}

func TestRunStepRecomputesCorruptEntry(t *testing.T) {
	cache := NewMemoryStepCache()
	ctx := context.Background()
	require.NoError(t, cache.StepPut(ctx, "run", "step", []byte("{not json")))

	got, err := runStep(ctx, cache, "run", "step", func(context.Context) (int, error) { return 9, nil })
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}

func TestExtractStepName(t *testing.T) {
	assert.Equal(t, "extract-decision-0", ExtractStepName(0))
	assert.Equal(t, "extract-decision-11", ExtractStepName(11))
}
