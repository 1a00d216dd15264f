// Package storage persists extracted conversation graphs to PostgreSQL.
// One conversation's messages, decisions, appearances, alternatives, and
// dependencies commit in a single transaction or not at all.
package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
)

// DependencyEdge links a decision to another decision it depends on.
// ToDecisionRef is either "decision:<uuid>" for a decision in the same
// commit batch or a cross-conversation URI that was passed through the
// resolver unchanged.
type DependencyEdge struct {
	FromDecisionID uuid.UUID `json:"from_decision_id"`
	ToDecisionRef  string    `json:"to_decision_ref"`
}

// DecisionRecord is one fully resolved decision ready to persist.
type DecisionRecord struct {
	ID           uuid.UUID                 `json:"id"`
	Title        string                    `json:"title"`
	Summary      string                    `json:"summary"`
	Reasoning    string                    `json:"reasoning"`
	Status       extraction.Status         `json:"status"`
	Confidence   float64                   `json:"confidence"`
	Appearances  []conversation.Appearance `json:"appearances"`
	Alternatives []extraction.Alternative  `json:"alternatives"`
}

// ExtractionRecord is the full graph committed for one conversation.
type ExtractionRecord struct {
	ConversationID uuid.UUID              `json:"conversation_id"`
	OrgID          string                 `json:"org_id"`
	WorkspaceID    string                 `json:"workspace_id"`
	Source         conversation.Source    `json:"source"`
	SourcePath     string                 `json:"source_path"`
	ProjectPath    string                 `json:"project_path"`
	SessionID      string                 `json:"session_id"`
	CreatedAt      *time.Time             `json:"created_at,omitempty"`
	ExtractedAt    time.Time              `json:"extracted_at"`
	Messages       []conversation.Message `json:"messages"`
	Decisions      []DecisionRecord       `json:"decisions"`
	Edges          []DependencyEdge       `json:"edges"`
}

// SyncStatus tracks a watched session file through the sync lifecycle.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSyncing  SyncStatus = "syncing"
	SyncComplete SyncStatus = "complete"
	SyncError    SyncStatus = "error"
)

// SyncState is the per-file sync bookkeeping row used by the watcher.
type SyncState struct {
	FilePath       string
	ContentHash    string
	LastSyncedAt   *time.Time
	LastModifiedAt time.Time
	RunID          string
	Status         SyncStatus
}
