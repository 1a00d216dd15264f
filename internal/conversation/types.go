// Package conversation normalizes AI coding-assistant conversation logs into
// an ordered message model and renders transcripts for downstream extraction.
package conversation

import "time"

// Source identifies the tool that produced a conversation log. It selects
// the parser used for the raw content.
type Source string

const (
	SourceClaudeCode Source = "claude-code"
	SourceClaudeWeb  Source = "claude-web"
	SourceCursor     Source = "cursor"
	SourceOther      Source = "other"
)

// Role is the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one normalized conversation message. Index is the position in
// the conversation: dense, 0-based, assigned in source order by the parser.
type Message struct {
	Index          int        `json:"index"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	ReasoningTrace string     `json:"reasoning_trace,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// AppearanceKind classifies how a decision surfaces at a point in the
// conversation.
type AppearanceKind string

const (
	AppearanceIntroduced AppearanceKind = "introduced"
	AppearanceElaborated AppearanceKind = "elaborated"
	AppearanceModified   AppearanceKind = "modified"
	AppearanceReaffirmed AppearanceKind = "reaffirmed"
)

// Appearance is a contiguous message-index span where a decision is
// discussed. A decision may have several, non-contiguous appearances.
type Appearance struct {
	MessageStart int            `json:"messageStart" validate:"min=0"`
	MessageEnd   int            `json:"messageEnd" validate:"min=0,gtefield=MessageStart"`
	Kind         AppearanceKind `json:"kind" validate:"oneof=introduced elaborated modified reaffirmed"`
}

// ParseError records a malformed line that the parser skipped.
type ParseError struct {
	Line  int
	Error string
}

// ParseResult holds the normalized messages plus a record of skipped lines.
// Parsers return partial results rather than failing on bad lines. SessionID
// and ProjectPath are best-effort; empty when undeterminable.
type ParseResult struct {
	Messages    []Message
	SessionID   string
	ProjectPath string
	CreatedAt   *time.Time
	ErrorCount  int
	Errors      []ParseError
}
