//go:build unix

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/dockhand-dev/dockhand/internal/ansi"
	"github.com/dockhand-dev/dockhand/internal/codexrpc"
	"github.com/dockhand-dev/dockhand/internal/entry"
	"github.com/dockhand-dev/dockhand/internal/errors"
	"github.com/dockhand-dev/dockhand/internal/jsonstream"
	"github.com/dockhand-dev/dockhand/internal/observability"
	"github.com/dockhand-dev/dockhand/internal/session"
)

const (
	ptyRows = 40
	ptyCols = 120
)

// startPTYFunc is swapped in tests to avoid spawning a real process.
var startPTYFunc = func(cmd *exec.Cmd, ws *pty.Winsize) (*os.File, error) {
	return pty.StartWithSize(cmd, ws)
}

// conversationBinding ties a panel to its server-side conversation. It
// survives CleanupResources so the panel can resume where it left off.
type conversationBinding struct {
	ConversationID string
	RolloutPath    string
}

// codexPanel is the per-panel process and protocol state.
type codexPanel struct {
	sessionID string

	cmd        *exec.Cmd
	ptmx       *os.File
	pgid       int
	waitDoneCh chan struct{}

	table  *Table
	parser *codexrpc.NotificationParser
	write  func([]byte) error

	// fragment buffers a partial JSON object split across PTY reads.
	fragment       string
	fragmentSince  time.Time
	fragmentWarned bool
}

// CodexExecutor drives the Codex CLI app-server over a pseudo-terminal.
// Codex insists on a tty, so protocol frames arrive interleaved with
// terminal noise and have to be recovered rather than read line by line.
type CodexExecutor struct {
	deps  Deps
	turns *Tracker

	mu     sync.Mutex
	panels map[string]*codexPanel
	convs  map[string]conversationBinding

	diagMu   sync.Mutex
	diagLast map[string]time.Time
}

func init() {
	Register(Info{
		Name:      "codex",
		Available: AvailableFunc("codex"),
		New:       func(deps Deps) Executor { return NewCodexExecutor(deps) },
	})
}

// NewCodexExecutor creates the executor and its turn tracker.
func NewCodexExecutor(deps Deps) *CodexExecutor {
	e := &CodexExecutor{
		deps:     deps,
		panels:   make(map[string]*codexPanel),
		convs:    make(map[string]conversationBinding),
		diagLast: make(map[string]time.Time),
	}

	e.turns = NewTracker(deps.Config.IdleDebounce(), deps.Config.TurnWatchdog(), deps.Sessions, deps.logger())
	e.turns.SetStallHandler(e.onStall)

	return e
}

func (e *CodexExecutor) Tool() string { return "codex" }

// newPanel wires the protocol state for one panel: the correlation table
// writing through the PTY and the notification parser. Pending turns are
// queued under their RPC id as sendUserMessage requests are issued.
func (e *CodexExecutor) newPanel(sessionID string, write func([]byte) error) *codexPanel {
	p := &codexPanel{
		sessionID:  sessionID,
		waitDoneCh: make(chan struct{}),
		parser:     codexrpc.NewNotificationParser(e.deps.Config.CoalesceLimit()),
		write:      write,
	}

	p.table = NewTable(write, e.deps.Config.RPCTimeout(), e.deps.Sessions, e.deps.logger())
	p.table.OnIssue = func(method codexrpc.Method, panelID, sessionID, id string) {
		if method == codexrpc.MethodSendUserMessage {
			e.turns.TurnStarted(panelID, sessionID, id)
		}
	}

	return p
}

// Spawn starts the app-server, performs the protocol handshake, and binds
// the panel to a new or resumed conversation.
func (e *CodexExecutor) Spawn(ctx context.Context, opts *SpawnOptions) error {
	spec := mustGetProvider("codex")

	if _, err := exec.LookPath(spec.Binary); err != nil {
		return errors.AgentNotAvailable("codex")
	}

	ctx, span := observability.StartAgentSpan(ctx, "codex.spawn", "codex", opts.PanelID)
	defer span.End()

	cmd := exec.Command(spec.Binary, spec.SpawnArgs...) //nolint:gosec // G204: args come from the embedded provider spec
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, opts.Env...)

	// NOTE: cmd.Stdin/Stdout/Stderr must remain nil here.
	// creack/pty.StartWithSize assigns the PTY tty to all three;
	// pre-setting Stdin to a non-tty would break Setctty (fd 0 must be the tty).
	ptmx, err := startPTYFunc(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return errors.SpawnFailed("codex", err)
	}

	p := e.newPanel(opts.SessionID, func(data []byte) error {
		_, werr := ptmx.Write(data)
		if werr != nil {
			return fmt.Errorf("write to codex pty: %w", werr)
		}
		return nil
	})
	p.cmd = cmd
	p.ptmx = ptmx
	p.pgid = processGroup(cmd)

	e.mu.Lock()
	if _, dup := e.panels[opts.PanelID]; dup {
		e.mu.Unlock()
		_ = ptmx.Close()
		terminate(cmd, p.pgid, nil)

		return fmt.Errorf("panel %s already has a codex process", opts.PanelID)
	}
	e.panels[opts.PanelID] = p
	e.mu.Unlock()

	panelID := opts.PanelID
	go func() {
		buf := make([]byte, 4096)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				e.ParseOutput(panelID, buf[:n])
			}
			if readErr != nil {
				return
			}
		}
	}()

	go func() {
		_ = cmd.Wait()
		close(p.waitDoneCh)
	}()

	if err := e.handshake(ctx, opts, p); err != nil {
		e.CleanupResources(opts.PanelID)
		return err
	}

	if opts.Prompt != "" {
		if err := e.SendInput(ctx, opts.PanelID, opts.Prompt); err != nil {
			return err
		}
	}

	return nil
}

// handshake runs initialize/initialized and establishes the conversation.
func (e *CodexExecutor) handshake(ctx context.Context, opts *SpawnOptions, p *codexPanel) error {
	// Give the CLI a moment to finish its terminal setup; frames written
	// before it listens are echoed back as garbage.
	select {
	case <-time.After(e.deps.Config.SettleDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	initParams := map[string]any{
		"clientInfo": map[string]string{
			"name":    "dockhand",
			"version": "1.0",
		},
	}
	if _, err := p.table.Send(ctx, opts.PanelID, opts.SessionID, codexrpc.MethodInitialize, initParams); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if err := p.table.Notify(codexrpc.MethodInitialized, nil); err != nil {
		return err
	}

	binding, err := e.establishConversation(ctx, opts, p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.convs[opts.PanelID] = binding
	e.mu.Unlock()

	if binding.RolloutPath != "" {
		e.deps.Sink.AgentSessionID(opts.PanelID, opts.SessionID, binding.RolloutPath)
	}

	listenParams := map[string]any{"conversationId": binding.ConversationID}
	if _, err := p.table.Send(ctx, opts.PanelID, opts.SessionID, codexrpc.MethodAddConversationListener, listenParams); err != nil {
		return fmt.Errorf("addConversationListener: %w", err)
	}

	return nil
}

func (e *CodexExecutor) establishConversation(ctx context.Context, opts *SpawnOptions, p *codexPanel) (conversationBinding, error) {
	profile, err := codexrpc.LoadProfile("")
	if err != nil {
		e.deps.logger().Warn("codex profile unreadable, using defaults",
			slog.String("component", "executor.codex"),
			slog.String("error", err.Error()))
	}

	method := codexrpc.MethodNewConversation
	params := map[string]any{"cwd": opts.WorkDir}

	if model := firstNonEmpty(opts.Model, profile.Model); model != "" {
		params["model"] = model
	}
	if profile.ModelReasoningEffort != "" {
		params["modelReasoningEffort"] = profile.ModelReasoningEffort
	}

	sandbox := firstNonEmpty(opts.SandboxPolicy, profile.SandboxMode)
	if opts.PlanMode {
		// Plan mode must not mutate the workspace, whatever the profile says.
		sandbox = "read-only"
	}
	if sandbox != "" {
		params["sandbox"] = sandbox
	}
	if approval := firstNonEmpty(opts.ApprovalPolicy, profile.ApprovalPolicy); approval != "" {
		params["approvalPolicy"] = approval
	}

	resume := opts.ResumeToken
	if resume == "" {
		e.mu.Lock()
		if binding, ok := e.convs[opts.PanelID]; ok {
			resume = binding.RolloutPath
		}
		e.mu.Unlock()
	}
	if resume != "" {
		method = codexrpc.MethodResumeConversation
		params["path"] = resume
	}

	result, err := p.table.Send(ctx, opts.PanelID, opts.SessionID, method, params)
	if err != nil {
		return conversationBinding{}, fmt.Errorf("%s: %w", method, err)
	}

	var conv struct {
		ConversationID string `json:"conversationId"`
		RolloutPath    string `json:"rolloutPath"`
	}
	if err := json.Unmarshal(result, &conv); err != nil {
		return conversationBinding{}, fmt.Errorf("decode %s result: %w", method, err)
	}
	if conv.ConversationID == "" {
		return conversationBinding{}, fmt.Errorf("%s returned no conversation id", method)
	}

	return conversationBinding{ConversationID: conv.ConversationID, RolloutPath: conv.RolloutPath}, nil
}

// SendInput queues one user turn on the panel's conversation.
func (e *CodexExecutor) SendInput(ctx context.Context, panelID, text string) error {
	p := e.panel(panelID)
	if p == nil {
		return errors.SessionNotFound(panelID)
	}

	e.mu.Lock()
	binding, bound := e.convs[panelID]
	e.mu.Unlock()

	if !bound {
		return fmt.Errorf("panel %s has no conversation", panelID)
	}

	ctx, span := observability.StartAgentSpan(ctx, "codex.send_user_message", "codex", panelID)
	defer span.End()

	params := map[string]any{
		"conversationId": binding.ConversationID,
		"items": []map[string]any{
			{"type": "text", "text": text},
		},
	}

	// An ack timeout resolves with a nil result; the turn itself is
	// tracked by lifecycle notifications.
	if _, err := p.table.Send(ctx, panelID, p.sessionID, codexrpc.MethodSendUserMessage, params); err != nil {
		return fmt.Errorf("sendUserMessage: %w", err)
	}

	return nil
}

// Interrupt asks the server to stop the current turn.
func (e *CodexExecutor) Interrupt(_ context.Context, panelID string) error {
	p := e.panel(panelID)
	if p == nil {
		return errors.SessionNotFound(panelID)
	}

	// ETX, as if ctrl+c were pressed at the agent's own terminal. Pending
	// RPCs are left alone; the turn resolves through notifications or its
	// own timeout.
	if err := p.write([]byte{0x03}); err != nil {
		return fmt.Errorf("write interrupt: %w", err)
	}

	return nil
}

// ParseOutput recovers JSON-RPC frames from one chunk of PTY output and
// dispatches them. Non-protocol text passes through as stdout output.
func (e *CodexExecutor) ParseOutput(panelID string, chunk []byte) {
	p := e.panel(panelID)
	if p == nil {
		return
	}

	stripped := ansi.Strip(string(chunk))

	e.mu.Lock()
	data := p.fragment + stripped
	ex := jsonstream.Extract(data)
	p.fragment = ex.Partial

	var overflow, stale bool
	switch {
	case p.fragment == "":
		p.fragmentSince = time.Time{}
		p.fragmentWarned = false

	case len(p.fragment) > e.deps.Config.FragmentLimit():
		// A fragment this large is not a frame split across reads, it is
		// runaway non-protocol output. Drop it rather than grow forever.
		p.fragment = ""
		p.fragmentSince = time.Time{}
		p.fragmentWarned = false
		overflow = true

	default:
		if p.fragmentSince.IsZero() {
			p.fragmentSince = time.Now()
		} else if !p.fragmentWarned && time.Since(p.fragmentSince) > e.deps.Config.FragmentWarnAge() {
			p.fragmentWarned = true
			stale = true
		}
	}
	sessionID := p.sessionID
	e.mu.Unlock()

	if overflow {
		e.diagnostic(panelID, sessionID, "fragment_overflow", "Dropped oversized partial frame from agent output")
	}
	if stale {
		e.diagnostic(panelID, sessionID, "fragment_stale", "Partial frame from agent output has not completed; output may be corrupted")
	}

	if noise := strings.TrimSpace(ex.Noise); noise != "" {
		e.deps.Sink.Output(panelID, sessionID, Output{Type: OutputStdout, Data: noise, Timestamp: time.Now()})
	}

	for _, obj := range ex.Objects {
		e.dispatchFrame(panelID, sessionID, p, obj)
	}
}

type rpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (e *CodexExecutor) dispatchFrame(panelID, sessionID string, p *codexPanel, obj string) {
	var frame rpcFrame
	if err := json.Unmarshal([]byte(obj), &frame); err != nil {
		// Corrupted echoes of our own requests carry no information; other
		// unparseable frame-shaped text means the stream itself is damaged.
		if looksLikeClientEcho(obj) {
			return
		}
		e.diagnostic(panelID, sessionID, "frame_corrupt", "Dropped unparseable frame from agent output")
		return
	}

	hasID := len(frame.ID) > 0 && string(frame.ID) != "null"

	switch {
	case hasID && frame.Method == "":
		// Response.
		if !p.table.HandleResponse(frame.ID, frame.Result, frame.Error) {
			e.deps.logger().Warn("dropping response with no pending request",
				slog.String("component", "executor.codex"),
				slog.String("event.type", "rpc.unmatched_response"),
				slog.String("panel.id", panelID),
				slog.String("rpc.id", CanonicalID(frame.ID)))
		}

	case hasID:
		e.handleRequest(panelID, p, frame)

	case frame.Method != "":
		e.handleNotification(panelID, sessionID, p, frame)

	default:
		// Well-formed JSON that is not a JSON-RPC frame.
		e.deps.Sink.Output(panelID, sessionID, Output{Type: OutputJSON, Data: obj, Timestamp: time.Now()})
	}
}

// handleRequest answers server-initiated requests. Echoes of our own
// outbound frames come back through the PTY and must not be answered.
func (e *CodexExecutor) handleRequest(panelID string, p *codexPanel, frame rpcFrame) {
	method := codexrpc.Method(frame.Method)

	if method.ClientOriginated() || p.table.IsPending(frame.ID) {
		e.deps.logger().Debug("ignoring echoed request frame",
			slog.String("component", "executor.codex"),
			slog.String("panel.id", panelID),
			slog.String("method", frame.Method))
		return
	}

	switch method {
	case codexrpc.MethodExecCommandApproval:
		e.respondApproval(panelID, p, frame, map[string]string{"decision": "approved"})

	case codexrpc.MethodApplyPatchApproval:
		e.respondApproval(panelID, p, frame, map[string]string{"decision": "accept"})

	default:
		e.deps.logger().Warn("ignoring unknown server request",
			slog.String("component", "executor.codex"),
			slog.String("event.type", "rpc.unknown_request"),
			slog.String("panel.id", panelID),
			slog.String("method", frame.Method))
	}
}

func (e *CodexExecutor) respondApproval(panelID string, p *codexPanel, frame rpcFrame, result map[string]string) {
	if err := p.table.Respond(frame.ID, result); err != nil {
		e.deps.logger().Warn("approval response write failed",
			slog.String("component", "executor.codex"),
			slog.String("panel.id", panelID),
			slog.String("method", frame.Method),
			slog.String("error", err.Error()))
	}
}

func (e *CodexExecutor) handleNotification(panelID, sessionID string, p *codexPanel, frame rpcFrame) {
	method := codexrpc.Method(frame.Method)

	e.turns.Activity(panelID, frame.Method)

	if method.Suppressed() {
		return
	}

	switch method {
	case codexrpc.MethodTurnCompleted:
		e.turns.TurnCompleted(panelID)

	case codexrpc.MethodTurnFailed, codexrpc.MethodError:
		e.turns.TurnFailed(panelID, failureMessage(frame.Params), codexrpc.WillRetry(frame.Params))
	}

	if ent := p.parser.Parse(method, frame.Params, panelID); ent != nil {
		e.deps.Sink.Entry(panelID, sessionID, *ent)
	}
}

func failureMessage(params json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(params, &body); err == nil {
		if body.Error.Message != "" {
			return body.Error.Message
		}
		if body.Message != "" {
			return body.Message
		}
	}

	return "turn failed"
}

// CleanupResources tears down the panel's process and protocol state. The
// conversation binding stays so a later Spawn can resume the conversation.
func (e *CodexExecutor) CleanupResources(panelID string) {
	e.mu.Lock()
	p, ok := e.panels[panelID]
	if ok {
		delete(e.panels, panelID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	p.table.FailAllForPanel(panelID, errors.ProcessTerminated("codex", -1))
	e.turns.Cleanup(panelID)
	p.parser.Reset()

	if p.ptmx != nil {
		_ = p.ptmx.Close()
	}
	terminate(p.cmd, p.pgid, p.waitDoneCh)

	if e.deps.Sessions != nil && p.sessionID != "" {
		_ = e.deps.Sessions.UpdateSessionStatus(p.sessionID, session.StatusStopped, "")
	}
}

func (e *CodexExecutor) panel(panelID string) *codexPanel {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.panels[panelID]
}

// onStall surfaces a watchdog trigger as an internal thinking entry so it
// lands in the timeline next to the turn it describes.
func (e *CodexExecutor) onStall(panelID, sessionID string, recent []string) {
	msg := "Agent has produced no lifecycle events recently"
	if len(recent) > 0 {
		msg += "; last activity: " + strings.Join(recent, ", ")
	}

	e.diagnostic(panelID, sessionID, "turn_stalled", msg)
}

// diagnostic emits an internal thinking entry, rate limited per
// (panel, code) so a repeating condition does not flood the timeline.
func (e *CodexExecutor) diagnostic(panelID, sessionID, code, message string) {
	interval := e.deps.Config.DiagInterval()
	key := panelID + "|" + code

	e.diagMu.Lock()
	last, seen := e.diagLast[key]
	if seen && time.Since(last) < interval {
		e.diagMu.Unlock()
		return
	}
	e.diagLast[key] = time.Now()
	e.diagMu.Unlock()

	e.deps.logger().Warn("executor diagnostic",
		slog.String("component", "executor.codex"),
		slog.String("event.type", "executor.diagnostic"),
		slog.String("panel.id", panelID),
		slog.String("diag.code", code),
		slog.String("message", message))

	ent := entry.New(entry.TypeThinking, message)
	ent.SetMeta("internal", true)
	ent.SetMeta("code", code)
	e.deps.Sink.Entry(panelID, sessionID, ent)
}

// looksLikeClientEcho reports whether corrupt frame text appears to be a
// PTY echo of one of this client's own request frames.
func looksLikeClientEcho(obj string) bool {
	for _, m := range codexrpc.ClientMethods() {
		if strings.Contains(obj, `"`+string(m)+`"`) {
			return true
		}
	}

	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

var _ Executor = (*CodexExecutor)(nil)
