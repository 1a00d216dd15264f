package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetSyncState returns the sync bookkeeping for a file, or nil if the file
// has never been seen.
func (db *DB) GetSyncState(ctx context.Context, filePath string) (*SyncState, error) {
	var s SyncState
	err := db.pool.QueryRow(ctx, `
		SELECT file_path, content_hash, last_synced_at, last_modified_at, run_id, status
		FROM sync_state WHERE file_path = $1`, filePath).
		Scan(&s.FilePath, &s.ContentHash, &s.LastSyncedAt, &s.LastModifiedAt, &s.RunID, &s.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read sync state %s: %w", filePath, err)
	}
	return &s, nil
}

// UpsertSyncState records a file's latest observed content hash and status.
func (db *DB) UpsertSyncState(ctx context.Context, s *SyncState) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO sync_state (file_path, content_hash, last_synced_at, last_modified_at, run_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_path) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			last_synced_at = EXCLUDED.last_synced_at,
			last_modified_at = EXCLUDED.last_modified_at,
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status`,
		s.FilePath, s.ContentHash, s.LastSyncedAt, s.LastModifiedAt, s.RunID, string(s.Status))
	if err != nil {
		return fmt.Errorf("storage: upsert sync state %s: %w", s.FilePath, err)
	}
	return nil
}

// MarkSyncStatus updates only the status (and synced timestamp on
// completion) for a file already being tracked.
func (db *DB) MarkSyncStatus(ctx context.Context, filePath string, status SyncStatus) error {
	var syncedAt *time.Time
	if status == SyncComplete {
		now := time.Now().UTC()
		syncedAt = &now
	}
	_, err := db.pool.Exec(ctx, `
		UPDATE sync_state SET status = $2, last_synced_at = COALESCE($3, last_synced_at)
		WHERE file_path = $1`,
		filePath, string(status), syncedAt)
	if err != nil {
		return fmt.Errorf("storage: mark sync status %s: %w", filePath, err)
	}
	return nil
}
