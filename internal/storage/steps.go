package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StepGet returns the cached result for (runID, step), if any. The second
// return value reports whether an entry exists.
func (db *DB) StepGet(ctx context.Context, runID, step string) ([]byte, bool, error) {
	var result []byte
	err := db.pool.QueryRow(ctx,
		`SELECT result FROM pipeline_steps WHERE run_id = $1 AND step_name = $2`,
		runID, step).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read step %s/%s: %w", runID, step, err)
	}
	return result, true, nil
}

// StepPut records a completed step's result. Re-running a completed step
// overwrites its entry, which keeps retried runs idempotent.
func (db *DB) StepPut(ctx context.Context, runID, step string, result []byte) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO pipeline_steps (run_id, step_name, result)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, step_name) DO UPDATE SET result = EXCLUDED.result`,
		runID, step, result)
	if err != nil {
		return fmt.Errorf("storage: write step %s/%s: %w", runID, step, err)
	}
	return nil
}

// StepPurge removes all cached steps for a run. The sync engine calls it
// when a session file's content changes: the old run is superseded and its
// checkpoints will never be resumed. Completed runs keep theirs, so
// re-triggering identical content returns the cached result.
func (db *DB) StepPurge(ctx context.Context, runID string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM pipeline_steps WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("storage: purge steps for %s: %w", runID, err)
	}
	return nil
}
