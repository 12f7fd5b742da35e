// Package entry defines the tool-agnostic timeline entry model every
// protocol parser emits into.
//
// A NormalizedEntry is the unit of output the rest of the application
// consumes: UI panels render it, the timeline store persists it. Parsers
// produce at most one entry per input message; fan-out for messages that
// carry several sub-items is the executor's job.
package entry

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a timeline entry.
type Type string

// Entry types.
const (
	TypeAssistantMessage Type = "assistant_message"
	TypeThinking         Type = "thinking"
	TypeToolUse          Type = "tool_use"
	TypeToolResult       Type = "tool_result"
	TypeSystemMessage    Type = "system_message"
	TypeErrorMessage     Type = "error_message"
)

// ToolStatus tracks the lifecycle of a tool invocation.
type ToolStatus string

// Tool statuses.
const (
	ToolPending ToolStatus = "pending"
	ToolSuccess ToolStatus = "success"
	ToolFailed  ToolStatus = "failed"
)

// ActionKind discriminates the Action variant.
type ActionKind string

// Action kinds.
const (
	ActionFileRead   ActionKind = "file_read"
	ActionFileEdit   ActionKind = "file_edit"
	ActionCommandRun ActionKind = "command_run"
	ActionWebFetch   ActionKind = "web_fetch"
	ActionOther      ActionKind = "other"
)

// Action carries the action-specific fields of a tool entry.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Path    string     `json:"path,omitempty"`
	Command string     `json:"command,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// Entry is one normalized timeline entry.
//
// ID is a stable identity for a logical message: streaming deltas of the
// same message reuse it, while each new message or tool call gets a fresh
// one. Timestamp is set at parse time, not at original event emission time.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       Type           `json:"entryType"`
	Content    string         `json:"content"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolUseID  string         `json:"toolUseId,omitempty"`
	ToolStatus ToolStatus     `json:"toolStatus,omitempty"`
	Action     *Action        `json:"actionType,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// New returns an entry with a fresh id and a parse-time timestamp.
func New(t Type, content string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      t,
		Content:   content,
	}
}

// NewWithID returns an entry reusing an existing identity.
func NewWithID(id string, t Type, content string) Entry {
	e := New(t, content)
	e.ID = id

	return e
}

// SetMeta sets a metadata key, allocating the map on first use.
func (e *Entry) SetMeta(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}

	e.Metadata[key] = value
}

// Streaming reports whether the entry is a partial streaming delta.
// Terminal re-emissions of the same id clear the flag (or omit it).
func (e *Entry) Streaming() bool {
	v, ok := e.Metadata["streaming"].(bool)
	return ok && v
}

// Internal reports whether the entry is an internal diagnostic note rather
// than agent-produced content.
func (e *Entry) Internal() bool {
	v, ok := e.Metadata["internal"].(bool)
	return ok && v
}
