package claudecode

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dockhand-dev/dockhand/internal/entry"
)

// Parser converts decoded messages into normalized entries. It keeps just
// enough state to give streaming assistant frames a stable entry identity
// across deltas of the same API message.
type Parser struct {
	ids map[string]string
}

// NewParser returns a parser with empty streaming state.
func NewParser() *Parser {
	return &Parser{ids: make(map[string]string)}
}

// Reset clears all streaming state. A message that previously produced a
// streaming update will start a fresh entry afterwards.
func (p *Parser) Reset() {
	p.ids = make(map[string]string)
}

// ParseMessage converts one expanded message into at most one entry.
// Unrecognized message types return nil.
func (p *Parser) ParseMessage(msg *Message) *entry.Entry {
	switch msg.Type {
	case "assistant":
		return p.parseAssistant(msg)
	case "tool_use":
		return p.parseToolUse(msg)
	case "tool_result":
		return p.parseToolResult(msg)
	case "system":
		return p.parseSystem(msg)
	case "result":
		return p.parseResult(msg)
	default:
		return nil
	}
}

func (p *Parser) parseAssistant(msg *Message) *entry.Entry {
	if msg.Message == nil {
		return nil
	}

	var text strings.Builder
	for _, block := range msg.Message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	// Pure-streaming frames carry no text yet. They must not surface as
	// empty bubbles.
	if text.Len() == 0 {
		return nil
	}

	e := entry.New(entry.TypeAssistantMessage, text.String())
	if msgID := msg.Message.ID; msgID != "" {
		if prior, ok := p.ids[msgID]; ok {
			e.ID = prior
		} else {
			p.ids[msgID] = e.ID
		}
	}

	if msg.Message.Model != "" {
		e.SetMeta("model", msg.Message.Model)
	}

	if msg.Message.StopReason == nil {
		e.SetMeta("streaming", true)
	} else if msg.Message.ID != "" {
		delete(p.ids, msg.Message.ID)
	}

	return &e
}

func (p *Parser) parseToolUse(msg *Message) *entry.Entry {
	block := singleBlock(msg)
	if block == nil {
		return nil
	}

	var input map[string]any
	if len(block.Input) > 0 {
		_ = json.Unmarshal(block.Input, &input)
	}

	e := entry.New(entry.TypeToolUse, toolLabel(block.Name, input))
	if block.ID != "" {
		e.ID = block.ID
		e.ToolUseID = block.ID
	}
	e.ToolName = block.Name
	e.ToolStatus = entry.ToolPending
	e.Action = actionFor(block.Name, input)

	return &e
}

func (p *Parser) parseToolResult(msg *Message) *entry.Entry {
	block := singleBlock(msg)
	if block == nil {
		return nil
	}

	e := entry.New(entry.TypeToolResult, renderResult(block.Content))
	e.ToolUseID = block.ToolUseID
	if block.IsError {
		e.ToolStatus = entry.ToolFailed
	} else {
		e.ToolStatus = entry.ToolSuccess
	}

	return &e
}

func (p *Parser) parseSystem(msg *Message) *entry.Entry {
	if msg.Subtype != "init" {
		return nil
	}

	e := entry.New(entry.TypeSystemMessage, "Session initialized")
	if msg.SessionID != "" {
		e.SetMeta("sessionId", msg.SessionID)
	}
	if msg.Model != "" {
		e.SetMeta("model", msg.Model)
	}
	if msg.CWD != "" {
		e.SetMeta("cwd", msg.CWD)
	}
	if len(msg.Tools) > 0 {
		e.SetMeta("tools", len(msg.Tools))
	}

	return &e
}

func (p *Parser) parseResult(msg *Message) *entry.Entry {
	if msg.IsError {
		content := msg.Result
		if content == "" {
			content = "Unknown error"
		}

		e := entry.New(entry.TypeErrorMessage, content)
		e.SetMeta("durationMs", msg.DurationMS)

		return &e
	}

	e := entry.New(entry.TypeSystemMessage, fmt.Sprintf("Completed in %d ms", msg.DurationMS))
	e.SetMeta("durationMs", msg.DurationMS)

	return &e
}

func singleBlock(msg *Message) *ContentBlock {
	if msg.Message == nil || len(msg.Message.Content) == 0 {
		return nil
	}

	return &msg.Message.Content[0]
}

func actionFor(tool string, input map[string]any) *entry.Action {
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}

	switch tool {
	case "Read", "Glob", "Grep":
		return &entry.Action{Kind: entry.ActionFileRead, Path: str("file_path")}
	case "Bash":
		return &entry.Action{Kind: entry.ActionCommandRun, Command: str("command")}
	case "Edit", "Write", "MultiEdit", "NotebookEdit":
		return &entry.Action{Kind: entry.ActionFileEdit, Path: str("file_path")}
	case "WebFetch", "WebSearch":
		return &entry.Action{Kind: entry.ActionWebFetch, URL: str("url")}
	default:
		return &entry.Action{Kind: entry.ActionOther}
	}
}

func toolLabel(tool string, input map[string]any) string {
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}

	switch tool {
	case "Read":
		if path := str("file_path"); path != "" {
			return "Read " + path
		}
	case "Bash":
		if cmd := str("command"); cmd != "" {
			return "Run: " + truncate(cmd, 80)
		}
	case "Edit", "MultiEdit":
		if path := str("file_path"); path != "" {
			return "Edit " + path
		}
	case "Write":
		if path := str("file_path"); path != "" {
			return "Write " + path
		}
	case "WebFetch":
		if url := str("url"); url != "" {
			return "Fetch " + url
		}
	case "WebSearch":
		if q := str("query"); q != "" {
			return "Search: " + truncate(q, 80)
		}
	case "Grep":
		if pat := str("pattern"); pat != "" {
			return "Grep: " + truncate(pat, 80)
		}
	}

	if tool == "" {
		return "Tool call"
	}

	return tool
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}

// renderResult flattens a tool_result body into display text. Bodies arrive
// as plain strings, block lists, or arbitrary JSON structures; nested member
// text must stay scannable in the output.
func renderResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil && len(blocks) > 0 && blocks[0].Type != "" {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}

	return strings.TrimSpace(renderValue(v, 0))
}

func renderValue(v any, depth int) string {
	indent := strings.Repeat("  ", depth)

	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []any:
		lines := make([]string, 0, len(val))
		for _, item := range val {
			lines = append(lines, indent+"- "+strings.TrimSpace(renderValue(item, depth+1)))
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			rendered := renderValue(val[k], depth+1)
			if strings.Contains(rendered, "\n") {
				lines = append(lines, indent+k+":\n"+rendered)
			} else {
				lines = append(lines, indent+k+": "+rendered)
			}
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("%v", val)
	}
}
