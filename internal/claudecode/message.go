// Package claudecode parses the stream-json wire format emitted by the
// Claude Code CLI and converts it into normalized timeline entries.
//
// The CLI writes newline-delimited JSON objects on stdout. Each object is
// independently parseable and discriminated by a top-level "type" field,
// with message payloads carrying a list of typed content blocks.
package claudecode

import "encoding/json"

// Message is one decoded line of CLI output.
type Message struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype,omitempty"`
	Message    *MessagePayload `json:"message,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	CWD        string          `json:"cwd,omitempty"`
	Model      string          `json:"model,omitempty"`
	Tools      []string        `json:"tools,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Result     string          `json:"result,omitempty"`
}

// MessagePayload is the nested API-shaped message inside assistant and user
// frames.
type MessagePayload struct {
	ID         string         `json:"id,omitempty"`
	Role       string         `json:"role,omitempty"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
	StopReason *string        `json:"stop_reason,omitempty"`
}

// ContentBlock is a single typed member of a message's content list.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ParseLine decodes one stdout line. Lines that are not JSON objects, or
// that lack a type discriminant, return an error so the caller can surface
// them as plain output instead.
func ParseLine(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// Expand splits a decoded message into per-block messages so that the
// parser's one-entry-per-call contract holds. Assistant text blocks collapse
// into a single assistant message; every tool_use and tool_result block
// becomes its own synthetic message. Non-message frames pass through
// unchanged.
func Expand(msg *Message) []*Message {
	if msg.Message == nil || len(msg.Message.Content) == 0 {
		return []*Message{msg}
	}

	var (
		out  []*Message
		text []ContentBlock
	)

	for _, block := range msg.Message.Content {
		switch block.Type {
		case "tool_use":
			out = append(out, blockMessage(msg, "tool_use", block))
		case "tool_result":
			out = append(out, blockMessage(msg, "tool_result", block))
		default:
			text = append(text, block)
		}
	}

	if msg.Type == "assistant" {
		// Always keep the assistant frame, even with no text blocks: the
		// parser uses the empty-text case to swallow pure-streaming frames.
		assistant := *msg
		payload := *msg.Message
		payload.Content = text
		assistant.Message = &payload
		out = append([]*Message{&assistant}, out...)
	}

	if len(out) == 0 {
		return []*Message{msg}
	}

	return out
}

func blockMessage(parent *Message, typ string, block ContentBlock) *Message {
	return &Message{
		Type:      typ,
		SessionID: parent.SessionID,
		Message: &MessagePayload{
			ID:      parent.Message.ID,
			Role:    parent.Message.Role,
			Model:   parent.Message.Model,
			Content: []ContentBlock{block},
		},
	}
}

// StreamInput is the stdin framing for delivering a user message to a
// running CLI process started with stream-json input.
type StreamInput struct {
	Type    string             `json:"type"`
	Message StreamInputContent `json:"message"`
}

// StreamInputContent carries the role and text of one stdin message.
type StreamInputContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserInput frames text as a user message ready for stdin delivery.
func NewUserInput(text string) StreamInput {
	return StreamInput{
		Type: "user",
		Message: StreamInputContent{
			Role:    "user",
			Content: text,
		},
	}
}
