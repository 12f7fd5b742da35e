package executor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dockhand-dev/dockhand/internal/session"
)

const recentActivityRing = 8

type panelTurns struct {
	sessionID    string
	queue        []string
	recent       []string
	lastActivity time.Time
	idleTimer    *time.Timer
	watchdog     *time.Timer
}

// Tracker follows turn liveness per panel. A panel is running while turns
// are pending, transitions to waiting only after the pending queue drains
// and a short debounce passes without new activity, and triggers a stall
// diagnostic when a running panel goes quiet for the watchdog interval.
type Tracker struct {
	mu     sync.Mutex
	panels map[string]*panelTurns

	debounce time.Duration
	watchdog time.Duration
	sessions session.Manager
	logger   *slog.Logger
	onStall  func(panelID, sessionID string, recent []string)
}

// NewTracker creates a tracker with the given debounce and watchdog
// intervals. The debounce must be much shorter than the watchdog so a
// healthy idle panel settles to waiting long before a stall fires.
func NewTracker(debounce, watchdog time.Duration, sessions session.Manager, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		panels:   make(map[string]*panelTurns),
		debounce: debounce,
		watchdog: watchdog,
		sessions: sessions,
		logger:   logger,
	}
}

// SetStallHandler installs the callback invoked when a running panel's
// watchdog fires. The callback receives a snapshot of recent activity.
func (t *Tracker) SetStallHandler(fn func(panelID, sessionID string, recent []string)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onStall = fn
}

// TurnStarted queues a pending turn and marks the panel running.
func (t *Tracker) TurnStarted(panelID, sessionID, turnID string) {
	t.mu.Lock()
	p := t.panel(panelID, sessionID)
	p.queue = append(p.queue, turnID)
	p.lastActivity = time.Now()
	t.stopIdle(p)
	t.armWatchdog(panelID, p)
	t.mu.Unlock()

	t.setStatus(sessionID, session.StatusRunning, "")
	t.timeline(p.sessionID, panelID, session.TimelineStarted, 0, map[string]any{"turnId": turnID})
}

// Activity records a liveness signal. It cancels a pending waiting
// transition and pushes back the stall watchdog, but never changes status
// on its own.
func (t *Tracker) Activity(panelID, desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.panels[panelID]
	if !ok {
		return
	}

	p.lastActivity = time.Now()
	p.recent = append(p.recent, desc)
	if len(p.recent) > recentActivityRing {
		p.recent = p.recent[len(p.recent)-recentActivityRing:]
	}

	t.stopIdle(p)
	if len(p.queue) > 0 {
		t.armWatchdog(panelID, p)
	} else {
		// Quiet-period debounce: the waiting transition happens only
		// after the debounce elapses with no further activity.
		t.armIdle(panelID, p)
	}
}

// TurnCompleted retires the oldest pending turn. When the queue drains the
// panel settles to waiting after the debounce, provided nothing new
// arrives in between.
func (t *Tracker) TurnCompleted(panelID string) {
	t.mu.Lock()
	p, ok := t.panels[panelID]
	if !ok {
		t.mu.Unlock()
		return
	}

	var turnID string
	if len(p.queue) > 0 {
		turnID = p.queue[0]
		p.queue = p.queue[1:]
	}

	sessionID := p.sessionID
	if len(p.queue) == 0 {
		t.stopWatchdog(p)
		t.armIdle(panelID, p)
	}
	t.mu.Unlock()

	if turnID == "" {
		t.logger.Debug("turn completed with empty pending queue",
			slog.String("component", "executor.turns"),
			slog.String("panel.id", panelID))
		return
	}

	t.timeline(sessionID, panelID, session.TimelineFinished, 0, map[string]any{"turnId": turnID})
}

// TurnFailed retires the oldest pending turn as failed, and marks the
// session errored once no further turns are queued. Failures flagged as
// retryable keep the turn queued; the agent will run it again and report
// a fresh outcome.
func (t *Tracker) TurnFailed(panelID, message string, willRetry bool) {
	if willRetry {
		t.Activity(panelID, "turn retrying: "+message)
		return
	}

	t.mu.Lock()
	p, ok := t.panels[panelID]
	if !ok {
		t.mu.Unlock()
		return
	}

	var turnID string
	if len(p.queue) > 0 {
		turnID = p.queue[0]
		p.queue = p.queue[1:]
	}

	sessionID := p.sessionID
	drained := len(p.queue) == 0
	if drained {
		t.stopWatchdog(p)
		t.stopIdle(p)
	}
	t.mu.Unlock()

	// Later turns are still in flight when the queue is non-empty, so the
	// session keeps working; only a drained queue flips it to error.
	if drained {
		t.setStatus(sessionID, session.StatusError, message)
	}
	t.timeline(sessionID, panelID, session.TimelineFailed, 0, map[string]any{
		"turnId": turnID,
		"error":  message,
	})
}

// Cleanup drops all tracking state for a panel, failing any turns still
// queued. Conversation bindings are owned by the executor and survive.
func (t *Tracker) Cleanup(panelID string) {
	t.mu.Lock()
	p, ok := t.panels[panelID]
	if !ok {
		t.mu.Unlock()
		return
	}

	t.stopIdle(p)
	t.stopWatchdog(p)
	orphans := p.queue
	sessionID := p.sessionID
	delete(t.panels, panelID)
	t.mu.Unlock()

	for _, turnID := range orphans {
		t.timeline(sessionID, panelID, session.TimelineFailed, 0, map[string]any{
			"turnId": turnID,
			"error":  "panel cleaned up",
		})
	}
}

// PendingTurns returns a snapshot of the panel's pending turn ids.
func (t *Tracker) PendingTurns(panelID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.panels[panelID]
	if !ok {
		return nil
	}

	out := make([]string, len(p.queue))
	copy(out, p.queue)

	return out
}

func (t *Tracker) panel(panelID, sessionID string) *panelTurns {
	p, ok := t.panels[panelID]
	if !ok {
		p = &panelTurns{sessionID: sessionID}
		t.panels[panelID] = p
	}
	if sessionID != "" {
		p.sessionID = sessionID
	}

	return p
}

// armIdle schedules the waiting transition. Held under t.mu.
func (t *Tracker) armIdle(panelID string, p *panelTurns) {
	t.stopIdle(p)
	p.idleTimer = time.AfterFunc(t.debounce, func() { t.settle(panelID) })
}

func (t *Tracker) stopIdle(p *panelTurns) {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}

// armWatchdog schedules the stall diagnostic. Held under t.mu.
func (t *Tracker) armWatchdog(panelID string, p *panelTurns) {
	t.stopWatchdog(p)
	p.watchdog = time.AfterFunc(t.watchdog, func() { t.stalled(panelID) })
}

func (t *Tracker) stopWatchdog(p *panelTurns) {
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
}

func (t *Tracker) settle(panelID string) {
	t.mu.Lock()
	p, ok := t.panels[panelID]
	if !ok || len(p.queue) > 0 {
		t.mu.Unlock()
		return
	}

	sessionID := p.sessionID
	p.idleTimer = nil
	t.mu.Unlock()

	t.setStatus(sessionID, session.StatusWaiting, "")
}

func (t *Tracker) stalled(panelID string) {
	t.mu.Lock()
	p, ok := t.panels[panelID]
	if !ok || len(p.queue) == 0 {
		t.mu.Unlock()
		return
	}

	sessionID := p.sessionID
	recent := make([]string, len(p.recent))
	copy(recent, p.recent)
	quiet := time.Since(p.lastActivity)
	onStall := t.onStall

	// Re-arm so a persistently stalled panel keeps surfacing, but at
	// watchdog cadence rather than once.
	t.armWatchdog(panelID, p)
	t.mu.Unlock()

	t.logger.Warn("no turn activity within watchdog interval",
		slog.String("component", "executor.turns"),
		slog.String("event.type", "turn.stalled"),
		slog.String("panel.id", panelID),
		slog.Duration("quiet", quiet))

	if onStall != nil {
		onStall(panelID, sessionID, recent)
	}
}

func (t *Tracker) setStatus(sessionID string, status session.Status, detail string) {
	if t.sessions == nil || sessionID == "" {
		return
	}

	if err := t.sessions.UpdateSessionStatus(sessionID, status, detail); err != nil {
		t.logger.Debug("status update skipped",
			slog.String("component", "executor.turns"),
			slog.String("session.id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (t *Tracker) timeline(sessionID, panelID string, status session.TimelineStatus, durationMS int64, meta map[string]any) {
	if t.sessions == nil {
		return
	}

	_ = t.sessions.AddTimelineEvent(session.TimelineEvent{
		SessionID:  sessionID,
		PanelID:    panelID,
		Kind:       "agent.turn",
		Status:     status,
		Tool:       "codex",
		DurationMS: durationMS,
		Meta:       meta,
	})
}
