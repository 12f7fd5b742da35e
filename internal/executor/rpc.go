package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dockhand-dev/dockhand/internal/codexrpc"
	"github.com/dockhand-dev/dockhand/internal/errors"
	"github.com/dockhand-dev/dockhand/internal/session"
)

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	id        string
	method    codexrpc.Method
	panelID   string
	sessionID string
	ch        chan rpcResult
	timer     *time.Timer
	startedAt time.Time
}

// Table correlates outbound JSON-RPC requests with inbound responses over
// one executor's PTY channel. Ids are process-local monotonically
// increasing integers rendered as strings; inbound ids are normalized to
// the same canonical form before lookup because the PTY can echo numeric
// ids back as quoted strings or vice versa.
type Table struct {
	mu      sync.Mutex
	nextID  int64
	pending map[string]*pendingRequest

	write    func([]byte) error
	timeout  time.Duration
	sessions session.Manager
	logger   *slog.Logger

	// OnIssue, when set, observes every request id as it is assigned,
	// before the frame hits the wire. Used to enqueue pending turns under
	// their RPC id.
	OnIssue func(method codexrpc.Method, panelID, sessionID, id string)
}

// NewTable creates a correlation table that frames requests through write.
func NewTable(write func([]byte) error, timeout time.Duration, sessions session.Manager, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}

	return &Table{
		pending:  make(map[string]*pendingRequest),
		write:    write,
		timeout:  timeout,
		sessions: sessions,
		logger:   logger,
	}
}

// CanonicalID normalizes a raw JSON-RPC id to its string form.
func CanonicalID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}

	return s
}

// Send writes one request and blocks until its response, timeout, or ctx
// cancellation. The sendUserMessage ack timeout resolves successfully
// instead of failing: completion of that logical turn is tracked by
// lifecycle notifications, not by the RPC ack.
func (t *Table) Send(ctx context.Context, panelID, sessionID string, method codexrpc.Method, params any) (json.RawMessage, error) {
	frame := map[string]any{
		"jsonrpc": "2.0",
		"method":  string(method),
	}
	if params != nil {
		frame["params"] = params
	}

	t.mu.Lock()
	t.nextID++
	id := strconv.FormatInt(t.nextID, 10)
	frame["id"] = id

	req := &pendingRequest{
		id:        id,
		method:    method,
		panelID:   panelID,
		sessionID: sessionID,
		ch:        make(chan rpcResult, 1),
		startedAt: time.Now(),
	}
	t.pending[id] = req
	// Arm the timeout before releasing the lock. The reader goroutine can
	// retire this id the instant the frame hits the wire, and retire must
	// observe a fully built request.
	req.timer = time.AfterFunc(t.timeout, func() { t.expire(id) })
	onIssue := t.OnIssue
	t.mu.Unlock()

	if onIssue != nil {
		onIssue(method, panelID, sessionID, id)
	}

	t.recordTimeline(req, session.TimelineStarted, 0, nil)

	data, err := json.Marshal(frame)
	if err != nil {
		t.retire(id)
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	if err := t.write(append(data, '\n')); err != nil {
		t.retire(id)
		t.recordTimeline(req, session.TimelineFailed, t.sinceMS(req), map[string]any{"reason": "write failed"})

		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		t.retire(id)
		t.recordTimeline(req, session.TimelineFailed, t.sinceMS(req), map[string]any{"reason": "canceled"})

		return nil, ctx.Err()

	case res := <-req.ch:
		return res.result, res.err
	}
}

// Notify writes one notification frame. Notifications carry no id and
// expect no response.
func (t *Table) Notify(method codexrpc.Method, params any) error {
	frame := map[string]any{
		"jsonrpc": "2.0",
		"method":  string(method),
	}
	if params != nil {
		frame["params"] = params
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}

	if err := t.write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s notification: %w", method, err)
	}

	return nil
}

// Respond writes a response frame for a server-initiated request, echoing
// the server's id verbatim.
func (t *Table) Respond(rawID json.RawMessage, result any) error {
	frame := map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(rawID),
		"result":  result,
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	if err := t.write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	return nil
}

// HandleResponse delivers an inbound response to its pending request.
// It returns false when no request matches; such responses are echoes of
// our own earlier acks and must be dropped, not treated as errors.
func (t *Table) HandleResponse(rawID json.RawMessage, result json.RawMessage, rpcErr *RPCError) bool {
	req := t.retire(CanonicalID(rawID))
	if req == nil {
		return false
	}

	duration := t.sinceMS(req)

	if rpcErr != nil {
		t.recordTimeline(req, session.TimelineFailed, duration, map[string]any{"error": rpcErr.Message})
		req.ch <- rpcResult{err: rpcErr}

		return true
	}

	t.recordTimeline(req, session.TimelineFinished, duration, nil)
	req.ch <- rpcResult{result: result}

	return true
}

// IsPending reports whether a raw id matches an in-flight request. Used to
// recognize echoed copies of our own outbound frames.
func (t *Table) IsPending(rawID json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.pending[CanonicalID(rawID)]

	return ok
}

// FailAllForPanel force-fails every pending request for a panel. Called on
// cleanup so nothing is left awaiting a dead process.
func (t *Table) FailAllForPanel(panelID string, cause error) {
	t.mu.Lock()
	var victims []*pendingRequest
	for id, req := range t.pending {
		if req.panelID == panelID {
			delete(t.pending, id)
			victims = append(victims, req)
		}
	}
	t.mu.Unlock()

	for _, req := range victims {
		if req.timer != nil {
			req.timer.Stop()
		}

		t.recordTimeline(req, session.TimelineFailed, t.sinceMS(req), map[string]any{"reason": cause.Error()})
		req.ch <- rpcResult{err: cause}
	}
}

func (t *Table) expire(id string) {
	req := t.retire(id)
	if req == nil {
		return
	}

	duration := t.sinceMS(req)

	if req.method == codexrpc.MethodSendUserMessage {
		// The ack is advisory; the turn is still in flight and its
		// lifecycle notifications retire the pending-turn queue entry.
		t.logger.Debug("rpc ack timeout treated as success",
			slog.String("component", "executor.rpc"),
			slog.String("event.type", "rpc.ack_timeout"),
			slog.String("method", string(req.method)),
			slog.String("panel.id", req.panelID))
		t.recordTimeline(req, session.TimelineFinished, duration, map[string]any{"ackTimeout": true})
		req.ch <- rpcResult{}

		return
	}

	t.logger.Warn("rpc request timed out",
		slog.String("component", "executor.rpc"),
		slog.String("event.type", "rpc.timeout"),
		slog.String("method", string(req.method)),
		slog.String("panel.id", req.panelID),
		slog.Duration("timeout", t.timeout))
	t.recordTimeline(req, session.TimelineFailed, duration, map[string]any{"reason": "timeout"})
	req.ch <- rpcResult{err: errors.RPCTimeout(string(req.method), t.timeout.String())}
}

// retire removes and returns a pending request, stopping its timer.
func (t *Table) retire(id string) *pendingRequest {
	t.mu.Lock()
	req, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}

	if req.timer != nil {
		req.timer.Stop()
	}

	return req
}

func (t *Table) sinceMS(req *pendingRequest) int64 {
	return time.Since(req.startedAt).Milliseconds()
}

func (t *Table) recordTimeline(req *pendingRequest, status session.TimelineStatus, durationMS int64, meta map[string]any) {
	if t.sessions == nil {
		return
	}

	if meta == nil {
		meta = map[string]any{}
	}
	meta["rpcId"] = req.id

	_ = t.sessions.AddTimelineEvent(session.TimelineEvent{
		SessionID:  req.sessionID,
		PanelID:    req.panelID,
		Kind:       "cli.command",
		Status:     status,
		Command:    string(req.method),
		Tool:       "codex",
		DurationMS: durationMS,
		Meta:       meta,
	})
}
