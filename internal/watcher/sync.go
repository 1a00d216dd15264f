package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/pipeline"
	"github.com/fyrsmithlabs/decisiond/internal/storage"
)

// SyncStore is the sync bookkeeping surface the engine needs from storage.
type SyncStore interface {
	GetSyncState(ctx context.Context, filePath string) (*storage.SyncState, error)
	UpsertSyncState(ctx context.Context, s *storage.SyncState) error
	MarkSyncStatus(ctx context.Context, filePath string, status storage.SyncStatus) error
	StepPurge(ctx context.Context, runID string) error
}

// Trigger starts an extraction run for one conversation. Implementations
// either run the pipeline in-process or start a Temporal workflow.
type Trigger interface {
	StartRun(ctx context.Context, input pipeline.Input) error
}

// Engine decides whether a changed session file needs extraction. Content
// is hashed with SHA-256 and compared against the last synced hash, so
// files that merely got touched are skipped; interrupted syncs stay
// observable through the sync_state status column.
type Engine struct {
	store       SyncStore
	trigger     Trigger
	orgID       string
	workspaceID string
	logger      *zap.Logger
}

// NewEngine creates a sync engine.
func NewEngine(store SyncStore, trigger Trigger, orgID, workspaceID string, logger *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		trigger:     trigger,
		orgID:       orgID,
		workspaceID: workspaceID,
		logger:      logger.Named("sync"),
	}
}

// Run drains watcher events until the context ends. Sync failures for one
// file never stop the loop.
func (e *Engine) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.SyncFile(ctx, ev.Path, ev.ModTime); err != nil {
				e.logger.Error("sync failed", zap.String("path", ev.Path), zap.Error(err))
			}
		}
	}
}

// SyncFile hashes the file and, when its content changed since the last
// completed sync, triggers an extraction run. The run id is derived from
// the session and the content hash, so re-triggering the same content
// resumes checkpointed work instead of repeating it.
func (e *Engine) SyncFile(ctx context.Context, path string, modTime time.Time) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading session file: %w", err)
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	state, err := e.store.GetSyncState(ctx, path)
	if err != nil {
		return err
	}
	if state != nil && state.ContentHash == hash && state.Status == storage.SyncComplete {
		e.logger.Debug("content unchanged, skipping", zap.String("path", path))
		return nil
	}

	runID := fmt.Sprintf("%s-%s", conversation.SessionIDFromPath(path), hash[:12])

	// Changed content supersedes the previous run; its checkpoints will
	// never be resumed, so drop them.
	if state != nil && state.RunID != "" && state.RunID != runID {
		if err := e.store.StepPurge(ctx, state.RunID); err != nil {
			e.logger.Warn("failed to purge superseded run checkpoints",
				zap.String("run_id", state.RunID), zap.Error(err))
		}
	}

	if err := e.store.UpsertSyncState(ctx, &storage.SyncState{
		FilePath:       path,
		ContentHash:    hash,
		LastModifiedAt: modTime,
		RunID:          runID,
		Status:         storage.SyncSyncing,
	}); err != nil {
		return err
	}

	input := pipeline.Input{
		RunID:       runID,
		OrgID:       e.orgID,
		WorkspaceID: e.workspaceID,
		Source:      conversation.SourceClaudeCode,
		SourcePath:  path,
		Content:     content,
	}
	if err := e.trigger.StartRun(ctx, input); err != nil {
		if markErr := e.store.MarkSyncStatus(ctx, path, storage.SyncError); markErr != nil {
			e.logger.Warn("failed to record sync error", zap.String("path", path), zap.Error(markErr))
		}
		return fmt.Errorf("starting extraction run: %w", err)
	}

	if err := e.store.MarkSyncStatus(ctx, path, storage.SyncComplete); err != nil {
		return err
	}
	e.logger.Info("session synced",
		zap.String("path", path),
		zap.String("run_id", runID))
	return nil
}
