//go:build unix

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dockhand-dev/dockhand/internal/claudecode"
	"github.com/dockhand-dev/dockhand/internal/errors"
	"github.com/dockhand-dev/dockhand/internal/observability"
	"github.com/dockhand-dev/dockhand/internal/session"
)

// linePanel is the per-panel process state for a line-JSON agent.
type linePanel struct {
	sessionID string

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	pgid       int
	waitDoneCh chan struct{}

	parser *claudecode.Parser

	// partial buffers an incomplete trailing line between chunks.
	partial string

	agentSessionSent bool
}

// LineExecutor drives agents that speak newline-delimited JSON on stdio.
// Claude Code and Gemini share the framing and message shapes, so one
// executor covers both; the provider spec supplies the binary and flags.
type LineExecutor struct {
	deps Deps
	tool string

	mu     sync.Mutex
	panels map[string]*linePanel

	// startProcess is swapped in tests to avoid spawning real binaries.
	startProcess func(cmd *exec.Cmd) error
}

func init() {
	for _, tool := range []string{"claude", "gemini"} {
		tool := tool
		Register(Info{
			Name:      tool,
			Available: AvailableFunc(tool),
			New:       func(deps Deps) Executor { return NewLineExecutor(deps, tool) },
		})
	}
}

// NewLineExecutor creates an executor for one line-JSON agent type.
func NewLineExecutor(deps Deps, tool string) *LineExecutor {
	return &LineExecutor{
		deps:         deps,
		tool:         tool,
		panels:       make(map[string]*linePanel),
		startProcess: func(cmd *exec.Cmd) error { return cmd.Start() },
	}
}

func (e *LineExecutor) Tool() string { return e.tool }

// Spawn starts the agent in streaming mode and wires its stdout into the
// protocol parser.
func (e *LineExecutor) Spawn(ctx context.Context, opts *SpawnOptions) error {
	spec := mustGetProvider(e.tool)

	if _, err := exec.LookPath(spec.Binary); err != nil {
		return errors.AgentNotAvailable(e.tool)
	}

	ctx, span := observability.StartAgentSpan(ctx, e.tool+".spawn", e.tool, opts.PanelID)
	defer span.End()

	args := append([]string{}, spec.SpawnArgs...)
	if opts.ResumeToken != "" && spec.ResumeFlag != "" {
		args = append(args, spec.ResumeFlag, opts.ResumeToken)
	}
	if opts.Model != "" && spec.ModelFlag != "" {
		args = append(args, spec.ModelFlag, opts.Model)
	}

	cmd := exec.CommandContext(ctx, spec.Binary, args...) //nolint:gosec // G204: args come from the embedded provider spec
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.SpawnFailed(e.tool, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.SpawnFailed(e.tool, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.SpawnFailed(e.tool, err)
	}

	if err := e.startProcess(cmd); err != nil {
		return errors.SpawnFailed(e.tool, err)
	}

	p := &linePanel{
		sessionID:  opts.SessionID,
		cmd:        cmd,
		stdin:      stdin,
		pgid:       processGroup(cmd),
		waitDoneCh: make(chan struct{}),
		parser:     claudecode.NewParser(),
	}

	e.mu.Lock()
	if _, dup := e.panels[opts.PanelID]; dup {
		e.mu.Unlock()
		_ = stdin.Close()
		terminate(cmd, p.pgid, nil)

		return fmt.Errorf("panel %s already has a %s process", opts.PanelID, e.tool)
	}
	e.panels[opts.PanelID] = p
	e.mu.Unlock()

	panelID := opts.PanelID
	go e.copyOutput(panelID, stdout)
	go e.copyStderr(panelID, opts.SessionID, stderr)

	go func() {
		_ = cmd.Wait()
		close(p.waitDoneCh)
	}()

	e.setStatus(opts.SessionID, session.StatusRunning, "")

	if opts.Prompt != "" {
		if err := e.SendInput(ctx, opts.PanelID, opts.Prompt); err != nil {
			return err
		}
	}

	return nil
}

func (e *LineExecutor) copyOutput(panelID string, r io.Reader) {
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			e.ParseOutput(panelID, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// copyStderr forwards diagnostic output without parsing it. The protocol
// lives entirely on stdout.
func (e *LineExecutor) copyStderr(panelID, sessionID string, r io.Reader) {
	buf := make([]byte, 16*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			text := strings.TrimSpace(string(buf[:n]))
			if text != "" {
				e.deps.Sink.Output(panelID, sessionID, Output{Type: OutputStdout, Data: text, Timestamp: time.Now()})
			}
		}
		if err != nil {
			return
		}
	}
}

// SendInput writes one user message frame to the agent's stdin.
func (e *LineExecutor) SendInput(ctx context.Context, panelID, text string) error {
	p := e.panel(panelID)
	if p == nil {
		return errors.SessionNotFound(panelID)
	}

	frame, err := json.Marshal(claudecode.NewUserInput(text))
	if err != nil {
		return fmt.Errorf("marshal user input: %w", err)
	}

	if _, err := p.stdin.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("write to %s stdin: %w", e.tool, err)
	}

	e.setStatus(p.sessionID, session.StatusRunning, "")

	return nil
}

// Interrupt sends SIGINT, which these CLIs treat as "stop the current
// turn" rather than "exit".
func (e *LineExecutor) Interrupt(_ context.Context, panelID string) error {
	p := e.panel(panelID)
	if p == nil {
		return errors.SessionNotFound(panelID)
	}

	if p.cmd.Process == nil {
		return fmt.Errorf("panel %s has no running process", panelID)
	}

	sendSignal(p.cmd.Process.Pid, p.pgid, unix.SIGINT)

	return nil
}

// ParseOutput splits a chunk into protocol lines, buffering any incomplete
// trailing line until the next chunk.
func (e *LineExecutor) ParseOutput(panelID string, chunk []byte) {
	p := e.panel(panelID)
	if p == nil {
		return
	}

	e.mu.Lock()
	data := p.partial + string(chunk)
	lines := strings.Split(data, "\n")
	p.partial = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	// A trailing line beyond the fragment limit is not a frame waiting for
	// its newline. Flush it as plain output instead of growing forever.
	var flushed string
	if len(p.partial) > e.deps.Config.FragmentLimit() {
		flushed = p.partial
		p.partial = ""
	}
	sessionID := p.sessionID
	e.mu.Unlock()

	for _, line := range lines {
		e.consumeLine(panelID, p, line)
	}

	if flushed != "" {
		e.deps.logger().Warn("flushed oversized partial line",
			slog.String("component", "executor.line"),
			slog.String("event.type", "output.partial_overflow"),
			slog.String("panel.id", panelID),
			slog.Int("bytes", len(flushed)))
		e.deps.Sink.Output(panelID, sessionID, Output{Type: OutputStdout, Data: flushed, Timestamp: time.Now()})
	}
}

func (e *LineExecutor) consumeLine(panelID string, p *linePanel, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	msg, err := claudecode.ParseLine([]byte(line))
	if err != nil {
		// Not a protocol frame; pass it through untouched.
		e.deps.Sink.Output(panelID, p.sessionID, Output{Type: OutputStdout, Data: line, Timestamp: time.Now()})
		return
	}

	if msg.SessionID != "" && !p.agentSessionSent {
		p.agentSessionSent = true
		e.deps.Sink.AgentSessionID(panelID, p.sessionID, msg.SessionID)
	}

	for _, m := range claudecode.Expand(msg) {
		if ent := p.parser.ParseMessage(m); ent != nil {
			e.deps.Sink.Entry(panelID, p.sessionID, *ent)
		}
	}

	// A result frame closes the turn; the agent sits idle until the next
	// user message.
	if msg.Type == "result" {
		if msg.IsError {
			e.setStatus(p.sessionID, session.StatusError, msg.Result)
		} else {
			e.setStatus(p.sessionID, session.StatusWaiting, "")
		}
	}
}

// CleanupResources stops the process and drops all panel state. The agent
// session id was already surfaced through the sink, so the panel can be
// respawned with it as a resume token.
func (e *LineExecutor) CleanupResources(panelID string) {
	e.mu.Lock()
	p, ok := e.panels[panelID]
	if ok {
		delete(e.panels, panelID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	terminate(p.cmd, p.pgid, p.waitDoneCh)

	e.setStatus(p.sessionID, session.StatusStopped, "")
}

func (e *LineExecutor) panel(panelID string) *linePanel {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.panels[panelID]
}

func (e *LineExecutor) setStatus(sessionID string, status session.Status, detail string) {
	if e.deps.Sessions == nil || sessionID == "" {
		return
	}

	if err := e.deps.Sessions.UpdateSessionStatus(sessionID, status, detail); err != nil {
		e.deps.logger().Debug("status update skipped",
			slog.String("component", "executor.line"),
			slog.String("session.id", sessionID),
			slog.String("error", err.Error()))
	}
}

var _ Executor = (*LineExecutor)(nil)
