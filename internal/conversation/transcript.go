package conversation

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultWindowBuffer is the number of messages included before and after
// each appearance span when rendering a context window.
const DefaultWindowBuffer = 2

// Render formats messages as LLM-ready text. Each message becomes one block:
//
//	[<index>] <ROLE>: <content>
//	[<index>] THINKING: <reasoning trace>      (only when a trace is present)
//
// Blocks join with a blank line. Input order is trusted, not re-sorted; the
// caller supplies indices ascending when global context is wanted.
func Render(messages []Message) string {
	blocks := make([]string, 0, len(messages))
	for _, m := range messages {
		block := fmt.Sprintf("[%d] %s: %s", m.Index, strings.ToUpper(string(m.Role)), m.Content)
		if m.ReasoningTrace != "" {
			block += fmt.Sprintf("\n[%d] THINKING: %s", m.Index, m.ReasoningTrace)
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

// RenderWindow renders the subset of messages within buffer positions of any
// appearance span. Window indices are clamped to [0, len-1], deduplicated
// across overlapping appearances, and rendered ascending. messages must be
// the full conversation in index order.
func RenderWindow(messages []Message, appearances []Appearance, buffer int) string {
	return Render(WindowMessages(messages, appearances, buffer))
}

// WindowMessages computes the deduplicated, ascending message subset covered
// by the appearances' spans expanded by buffer on each side.
func WindowMessages(messages []Message, appearances []Appearance, buffer int) []Message {
	if len(messages) == 0 || len(appearances) == 0 {
		return nil
	}
	if buffer < 0 {
		buffer = 0
	}

	include := make(map[int]struct{})
	for _, a := range appearances {
		start := a.MessageStart - buffer
		if start < 0 {
			start = 0
		}
		end := a.MessageEnd + buffer
		if end > len(messages)-1 {
			end = len(messages) - 1
		}
		for i := start; i <= end; i++ {
			include[i] = struct{}{}
		}
	}

	indices := make([]int, 0, len(include))
	for i := range include {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	window := make([]Message, 0, len(indices))
	for _, i := range indices {
		window = append(window, messages[i])
	}
	return window
}
