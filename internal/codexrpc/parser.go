package codexrpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dockhand-dev/dockhand/internal/entry"
)

// Item is the payload of item/started and item/completed notifications.
type Item struct {
	ID               string       `json:"id"`
	Type             string       `json:"itemType"`
	Text             string       `json:"text,omitempty"`
	Command          string       `json:"command,omitempty"`
	AggregatedOutput string       `json:"aggregatedOutput,omitempty"`
	ExitCode         *int         `json:"exitCode,omitempty"`
	Status           string       `json:"status,omitempty"`
	Changes          []FileChange `json:"changes,omitempty"`
	Server           string       `json:"server,omitempty"`
	Tool             string       `json:"tool,omitempty"`
	Query            string       `json:"query,omitempty"`
}

// FileChange is one file touched by a fileChange item.
type FileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

// PlanStep is one step of a turn/plan/updated notification.
type PlanStep struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// rolling is the per-panel coalesced reasoning entry for the current turn.
// dirty means it holds text that has not yet been emitted in final form.
type rolling struct {
	id    string
	text  string
	dirty bool
}

// NotificationParser converts server notifications into normalized entries.
// It carries streamed-text accumulators keyed by item id and one rolling
// short-reasoning entry per panel.
type NotificationParser struct {
	limit     int
	accum     map[string]string
	coalesced map[string]*rolling
}

// NewNotificationParser returns a parser whose coalescing threshold is
// limit normalized runes. A non-positive limit selects the default.
func NewNotificationParser(limit int) *NotificationParser {
	if limit <= 0 {
		limit = DefaultCoalesceLimit
	}

	return &NotificationParser{
		limit:     limit,
		accum:     make(map[string]string),
		coalesced: make(map[string]*rolling),
	}
}

// Reset drops all accumulated streaming state for every panel.
func (p *NotificationParser) Reset() {
	p.accum = make(map[string]string)
	p.coalesced = make(map[string]*rolling)
}

// Parse handles one notification and returns at most one entry. Unknown and
// suppressed methods return nil.
func (p *NotificationParser) Parse(method Method, params json.RawMessage, panelID string) *entry.Entry {
	switch method {
	case MethodThreadStarted:
		e := entry.New(entry.TypeSystemMessage, "Thread started")
		return &e

	case MethodTurnStarted:
		// New turn means a fresh identity for the coalesced thinking entry.
		delete(p.coalesced, panelID)
		e := entry.New(entry.TypeSystemMessage, "Turn started")
		return &e

	case MethodTurnCompleted:
		return p.flushCoalesced(panelID)

	case MethodTurnFailed:
		return parseError(params, "Turn failed")

	case MethodTurnPlanUpdated:
		return parsePlan(params)

	case MethodAgentMessageDelta:
		return p.parseAgentDelta(params)

	case MethodReasoningTextDelta, MethodReasoningSummaryDelta:
		return p.parseReasoningDelta(params, panelID)

	case MethodItemStarted:
		return p.parseItemStarted(params)

	case MethodItemCompleted:
		return p.parseItemCompleted(params, panelID)

	case MethodError:
		return parseError(params, "Unknown error")

	default:
		return nil
	}
}

func (p *NotificationParser) flushCoalesced(panelID string) *entry.Entry {
	r := p.coalesced[panelID]
	if r == nil || r.text == "" || !r.dirty {
		return nil
	}

	r.dirty = false
	e := entry.NewWithID(r.id, entry.TypeThinking, r.text)

	return &e
}

type deltaParams struct {
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

func (p *NotificationParser) parseAgentDelta(params json.RawMessage) *entry.Entry {
	var d deltaParams
	if err := json.Unmarshal(params, &d); err != nil || d.ItemID == "" {
		return nil
	}

	p.accum[d.ItemID] += d.Delta

	e := entry.NewWithID(d.ItemID, entry.TypeAssistantMessage, p.accum[d.ItemID])
	e.SetMeta("streaming", true)

	return &e
}

func (p *NotificationParser) parseReasoningDelta(params json.RawMessage, panelID string) *entry.Entry {
	var d deltaParams
	if err := json.Unmarshal(params, &d); err != nil || d.ItemID == "" {
		return nil
	}

	p.accum[d.ItemID] += d.Delta
	full := p.accum[d.ItemID]

	if !Coalescible(full, p.limit) {
		e := entry.NewWithID(d.ItemID, entry.TypeThinking, full)
		e.SetMeta("streaming", true)

		return &e
	}

	r := p.ensureRolling(panelID)
	r.text = NormalizeMarker(full)
	r.dirty = true

	e := entry.NewWithID(r.id, entry.TypeThinking, r.text)
	e.SetMeta("streaming", true)

	return &e
}

func (p *NotificationParser) ensureRolling(panelID string) *rolling {
	if r := p.coalesced[panelID]; r != nil {
		return r
	}

	r := &rolling{id: uuid.NewString()}
	p.coalesced[panelID] = r

	return r
}

type itemParams struct {
	Item Item `json:"item"`
}

func (p *NotificationParser) parseItemStarted(params json.RawMessage) *entry.Entry {
	var ip itemParams
	if err := json.Unmarshal(params, &ip); err != nil {
		return nil
	}
	item := ip.Item

	// Only items representing an action get a pending entry. Message and
	// reasoning starts carry nothing worth showing.
	switch item.Type {
	case "commandExecution":
		e := entry.NewWithID(item.ID, entry.TypeToolUse, "Run: "+item.Command)
		e.ToolUseID = item.ID
		e.ToolName = "shell"
		e.ToolStatus = entry.ToolPending
		e.Action = &entry.Action{Kind: entry.ActionCommandRun, Command: item.Command}

		return &e

	case "fileChange":
		e := entry.NewWithID(item.ID, entry.TypeToolUse, changeLabel(item.Changes))
		e.ToolUseID = item.ID
		e.ToolName = "applyPatch"
		e.ToolStatus = entry.ToolPending
		if len(item.Changes) > 0 {
			e.Action = &entry.Action{Kind: entry.ActionFileEdit, Path: item.Changes[0].Path}
		} else {
			e.Action = &entry.Action{Kind: entry.ActionFileEdit}
		}

		return &e

	default:
		return nil
	}
}

func (p *NotificationParser) parseItemCompleted(params json.RawMessage, panelID string) *entry.Entry {
	var ip itemParams
	if err := json.Unmarshal(params, &ip); err != nil {
		return nil
	}
	item := ip.Item

	switch item.Type {
	case "agentMessage":
		// Streamed text is authoritative for ordering over the completion
		// payload's own text.
		text := item.Text
		if streamed, ok := p.accum[item.ID]; ok {
			text = streamed
			delete(p.accum, item.ID)
		}

		e := entry.NewWithID(item.ID, entry.TypeAssistantMessage, text)
		return &e

	case "reasoning":
		text := item.Text
		if streamed, ok := p.accum[item.ID]; ok {
			text = streamed
			delete(p.accum, item.ID)
		}

		if !Coalescible(text, p.limit) {
			e := entry.NewWithID(item.ID, entry.TypeThinking, text)
			return &e
		}

		r := p.ensureRolling(panelID)
		r.text = NormalizeMarker(text)
		r.dirty = false

		e := entry.NewWithID(r.id, entry.TypeThinking, r.text)
		return &e

	case "commandExecution":
		e := entry.NewWithID(item.ID, entry.TypeToolResult, item.AggregatedOutput)
		e.ToolUseID = item.ID
		e.ToolName = "shell"
		e.ToolStatus = completionStatus(item.Status)
		if item.ExitCode != nil {
			e.SetMeta("exitCode", *item.ExitCode)
		}

		return &e

	case "fileChange":
		e := entry.NewWithID(item.ID, entry.TypeToolResult, changeLabel(item.Changes))
		e.ToolUseID = item.ID
		e.ToolName = "applyPatch"
		e.ToolStatus = completionStatus(item.Status)

		return &e

	case "mcpToolCall":
		label := item.Tool
		if item.Server != "" {
			label = item.Server + "." + item.Tool
		}

		e := entry.NewWithID(item.ID, entry.TypeToolResult, label)
		e.ToolUseID = item.ID
		e.ToolName = item.Tool
		e.ToolStatus = completionStatus(item.Status)

		return &e

	case "webSearch":
		e := entry.NewWithID(item.ID, entry.TypeToolResult, "Searched: "+item.Query)
		e.ToolUseID = item.ID
		e.ToolName = "webSearch"
		e.ToolStatus = completionStatus(item.Status)
		e.Action = &entry.Action{Kind: entry.ActionWebFetch, URL: item.Query}

		return &e

	default:
		return nil
	}
}

func completionStatus(status string) entry.ToolStatus {
	if status == "completed" {
		return entry.ToolSuccess
	}

	return entry.ToolFailed
}

func changeLabel(changes []FileChange) string {
	if len(changes) == 0 {
		return "Apply changes"
	}

	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		paths = append(paths, c.Path)
	}

	if len(paths) == 1 {
		return "Edit " + paths[0]
	}

	return fmt.Sprintf("Edit %d files: %s", len(paths), strings.Join(paths, ", "))
}

type planParams struct {
	Explanation string     `json:"explanation"`
	Plan        []PlanStep `json:"plan"`
}

func parsePlan(params json.RawMessage) *entry.Entry {
	var pp planParams
	if err := json.Unmarshal(params, &pp); err != nil {
		return nil
	}

	var lines []string
	if pp.Explanation != "" {
		lines = append(lines, pp.Explanation)
	}
	for _, step := range pp.Plan {
		lines = append(lines, step.Status+": "+step.Step)
	}

	if len(lines) == 0 {
		return nil
	}

	e := entry.New(entry.TypeSystemMessage, strings.Join(lines, "\n"))

	return &e
}

type errorParams struct {
	Error   *errorBody `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
}

// WillRetry reports whether a turn/failed payload announces an automatic
// retry. The field has appeared under both camelCase and snake_case names
// across CLI releases, so both spellings are honored.
func WillRetry(params json.RawMessage) bool {
	var p struct {
		Camel bool `json:"willRetry"`
		Snake bool `json:"will_retry"`
		Error *struct {
			Camel bool `json:"willRetry"`
			Snake bool `json:"will_retry"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false
	}

	if p.Error != nil && (p.Error.Camel || p.Error.Snake) {
		return true
	}

	return p.Camel || p.Snake
}

type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

func parseError(params json.RawMessage, fallback string) *entry.Entry {
	var ep errorParams
	_ = json.Unmarshal(params, &ep)

	msg := ep.Message
	if ep.Error != nil && ep.Error.Message != "" {
		msg = ep.Error.Message
	}
	if msg == "" {
		msg = fallback
	}

	e := entry.New(entry.TypeErrorMessage, msg)
	if ep.Error != nil && ep.Error.Code != 0 {
		e.SetMeta("code", ep.Error.Code)
	}

	return &e
}
