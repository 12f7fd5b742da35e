// Package executor drives coding-agent CLI processes and normalizes their
// native protocols into timeline entries.
//
// Two protocol families are covered: line-oriented JSON on stdout (Claude
// Code, Gemini) and JSON-RPC 2.0 framed over a pseudo-terminal (Codex).
// Executors own all per-panel protocol state; the session layer observes
// them through the Sink interface.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/dockhand-dev/dockhand/internal/config"
	"github.com/dockhand-dev/dockhand/internal/entry"
	"github.com/dockhand-dev/dockhand/internal/session"
)

// OutputType classifies raw passthrough output.
type OutputType string

const (
	// OutputStdout is plain text that was not part of any protocol frame.
	OutputStdout OutputType = "stdout"

	// OutputJSON is a well-formed JSON object that produced no entry.
	OutputJSON OutputType = "json"
)

// Output is one raw passthrough event.
type Output struct {
	Type      OutputType `json:"type"`
	Data      string     `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
}

// Sink receives everything an executor emits. Implementations must be safe
// for calls from the executor's reader goroutine.
type Sink interface {
	// Entry delivers one normalized entry for a panel.
	Entry(panelID, sessionID string, e entry.Entry)

	// Output delivers raw passthrough output.
	Output(panelID, sessionID string, out Output)

	// AgentSessionID delivers a resumable token to persist for future
	// relaunches of the same logical conversation.
	AgentSessionID(panelID, sessionID, agentSessionID string)
}

// SpawnOptions configures one agent process launch.
type SpawnOptions struct {
	PanelID   string
	SessionID string
	WorkDir   string

	// Prompt, when set, is delivered as the first user turn after spawn.
	Prompt string

	// ResumeToken resumes a prior conversation instead of starting fresh.
	ResumeToken string

	Model          string
	SandboxPolicy  string
	ApprovalPolicy string

	// PlanMode forces a read-only sandbox regardless of SandboxPolicy.
	PlanMode bool

	// Env is appended to the inherited environment.
	Env []string
}

// Executor is the contract each agent tool implements.
type Executor interface {
	// Spawn starts the agent process for a panel.
	Spawn(ctx context.Context, opts *SpawnOptions) error

	// SendInput delivers a user message to a running panel.
	SendInput(ctx context.Context, panelID, text string) error

	// Interrupt asks the agent to stop its current turn. It does not
	// resolve pending RPCs; those time out or complete normally.
	Interrupt(ctx context.Context, panelID string) error

	// ParseOutput consumes one chunk of raw process output for a panel.
	// Chunks for a panel must arrive in order.
	ParseOutput(panelID string, chunk []byte)

	// CleanupResources force-fails all in-flight work for a panel and
	// stops its process. Conversation bindings survive so the panel can
	// be resumed.
	CleanupResources(panelID string)

	// Tool returns the agent type name.
	Tool() string
}

// Deps carries the collaborators every executor needs.
type Deps struct {
	Sink     Sink
	Sessions session.Manager
	Config   *config.Config
	Logger   *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}

	return slog.Default()
}
