package conversation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Parser turns raw conversation content into normalized messages.
type Parser interface {
	Source() Source
	Parse(content []byte) (*ParseResult, error)
}

// Registry dispatches parsing by source. Sources without a dedicated parser
// fall back to the generic JSONL parser.
type Registry struct {
	parsers  map[Source]Parser
	fallback Parser
}

// NewRegistry creates a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{
		parsers:  make(map[Source]Parser),
		fallback: &GenericParser{},
	}
	r.Register(&ClaudeCodeParser{})
	return r
}

// Register adds a parser for its source, replacing any existing one.
func (r *Registry) Register(p Parser) {
	r.parsers[p.Source()] = p
}

// Parse parses content with the parser registered for source.
func (r *Registry) Parse(source Source, content []byte) (*ParseResult, error) {
	p, ok := r.parsers[source]
	if !ok {
		p = r.fallback
	}
	return p.Parse(content)
}

// ParseContent parses content and fills in session and project metadata from
// sourcePath where the content itself did not provide them. ProjectPath
// derivation is best-effort; it stays empty when the path gives no signal.
func (r *Registry) ParseContent(source Source, content []byte, sourcePath string) (*ParseResult, error) {
	result, err := r.Parse(source, content)
	if err != nil {
		return nil, err
	}

	if result.SessionID == "" && sourcePath != "" {
		result.SessionID = SessionIDFromPath(sourcePath)
	}
	if result.ProjectPath == "" && sourcePath != "" {
		if dir := filepath.Base(filepath.Dir(sourcePath)); strings.HasPrefix(dir, "-") {
			result.ProjectPath = DecodeProjectPath(dir)
		}
	}
	if result.CreatedAt == nil && len(result.Messages) > 0 {
		result.CreatedAt = result.Messages[0].Timestamp
	}
	return result, nil
}

const (
	// maxScanTokenSize bounds a single JSONL line. Assistant messages with
	// large tool results routinely exceed bufio's default.
	maxScanTokenSize = 10 * 1024 * 1024
	// maxStoredErrors caps the per-file error detail kept in a ParseResult.
	maxStoredErrors = 10
)

// ClaudeCodeParser parses Claude Code session JSONL files. Each line is an
// event with a nested message of content blocks; thinking blocks become the
// message's reasoning trace.
type ClaudeCodeParser struct{}

func (p *ClaudeCodeParser) Source() Source { return SourceClaudeCode }

// claudeEvent is the raw structure of one Claude Code JSONL line.
type claudeEvent struct {
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid,omitempty"`
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
}

// claudeMessage is the nested message payload.
type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is one block of a structured message content array.
type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Parse reads Claude Code JSONL content and extracts user and assistant
// messages. Malformed lines are counted and skipped; indexes are assigned
// densely from 0 in line order.
func (p *ClaudeCodeParser) Parse(content []byte) (*ParseResult, error) {
	result := &ParseResult{
		Messages: make([]Message, 0),
		Errors:   make([]ParseError, 0),
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var ev claudeEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			result.recordError(lineNum, fmt.Sprintf("JSON parse error: %v", err))
			continue
		}

		if ev.Type != "user" && ev.Type != "assistant" {
			continue
		}
		if result.SessionID == "" && ev.SessionID != "" {
			result.SessionID = ev.SessionID
		}

		msg, err := p.parseEvent(ev)
		if err != nil {
			result.recordError(lineNum, fmt.Sprintf("message parse error: %v", err))
			continue
		}
		if msg == nil {
			continue
		}

		msg.Index = len(result.Messages)
		result.Messages = append(result.Messages, *msg)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning content: %w", err)
	}

	return result, nil
}

// parseEvent converts one JSONL event into a Message. Returns nil for events
// with no textual content, such as pure tool_use turns.
func (p *ClaudeCodeParser) parseEvent(ev claudeEvent) (*Message, error) {
	role := RoleUser
	if ev.Type == "assistant" {
		role = RoleAssistant
	}

	var cm claudeMessage
	if err := json.Unmarshal(ev.Message, &cm); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %w", err)
	}

	content, trace := extractContent(cm.Content)
	if content == "" && trace == "" {
		return nil, nil
	}

	msg := &Message{
		Role:           role,
		Content:        content,
		ReasoningTrace: trace,
	}
	if ts := parseTimestamp(ev.Timestamp); ts != nil {
		msg.Timestamp = ts
	}
	return msg, nil
}

// extractContent flattens a message content payload into text and a
// reasoning trace. Content is either a plain string or an array of blocks.
func extractContent(raw json.RawMessage) (content, trace string) {
	if len(raw) == 0 {
		return "", ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, ""
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", ""
	}

	var textParts, thinkingParts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "thinking":
			if block.Thinking != "" {
				thinkingParts = append(thinkingParts, block.Thinking)
			}
		}
	}
	return strings.Join(textParts, "\n"), strings.Join(thinkingParts, "\n")
}

func parseTimestamp(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &ts
}

// GenericParser handles flat JSONL exports where each line is a
// {role, content, timestamp} object. Used for claude-web, cursor, and
// unrecognized sources.
type GenericParser struct{}

func (p *GenericParser) Source() Source { return SourceOther }

type genericLine struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Thinking  string `json:"thinking,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (p *GenericParser) Parse(content []byte) (*ParseResult, error) {
	result := &ParseResult{
		Messages: make([]Message, 0),
		Errors:   make([]ParseError, 0),
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var gl genericLine
		if err := json.Unmarshal([]byte(line), &gl); err != nil {
			result.recordError(lineNum, fmt.Sprintf("JSON parse error: %v", err))
			continue
		}

		var role Role
		switch gl.Role {
		case "user":
			role = RoleUser
		case "assistant":
			role = RoleAssistant
		case "system":
			role = RoleSystem
		default:
			result.recordError(lineNum, fmt.Sprintf("unknown role: %q", gl.Role))
			continue
		}
		if gl.Content == "" && gl.Thinking == "" {
			continue
		}

		msg := Message{
			Index:          len(result.Messages),
			Role:           role,
			Content:        gl.Content,
			ReasoningTrace: gl.Thinking,
		}
		if ts := parseTimestamp(gl.Timestamp); ts != nil {
			msg.Timestamp = ts
		}
		result.Messages = append(result.Messages, msg)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning content: %w", err)
	}

	return result, nil
}

func (r *ParseResult) recordError(line int, msg string) {
	r.ErrorCount++
	if len(r.Errors) < maxStoredErrors {
		r.Errors = append(r.Errors, ParseError{Line: line, Error: msg})
	}
}

// SessionIDFromPath derives the session id from a Claude Code session file
// path. Session files are named <uuid>.jsonl.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// DecodeProjectPath decodes the project directory name Claude Code uses
// under ~/.claude/projects, where path separators are replaced with dashes:
// "-Users-jane-src-app" becomes "/Users/jane/src/app".
func DecodeProjectPath(encoded string) string {
	if !strings.HasPrefix(encoded, "-") {
		return encoded
	}
	return strings.ReplaceAll(encoded, "-", "/")
}
