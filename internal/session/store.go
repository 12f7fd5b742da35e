package session

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dockhand-dev/dockhand/internal/entry"
	"github.com/dockhand-dev/dockhand/internal/paths"
)

const (
	defaultRingLines      = 10000
	defaultRetentionHours = 24 * 30
	recordsFileName       = "timeline.jsonl.gz"
	recordsLiveFileName   = "timeline.live.jsonl"
	metaFileName          = "meta.json"
)

// Record is one persisted timeline entry with its session envelope.
type Record struct {
	SessionID string      `json:"sessionId"`
	PanelID   string      `json:"panelId"`
	Seq       uint64      `json:"seq"`
	TS        time.Time   `json:"ts"`
	Entry     entry.Entry `json:"entry"`
}

// Meta stores session metadata for discovery and pruning.
type Meta struct {
	SessionID string     `json:"sessionId"`
	Tool      string     `json:"tool,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// StoreOptions controls timeline persistence for one session.
type StoreOptions struct {
	SessionID string
	Tool      string
	Dir       string
	RingLines int
}

// Store writes timeline records to compressed and live JSONL files and
// keeps an in-memory ring of rendered lines for the tail view. Streaming
// entries are held back until their terminal re-emit so the files contain
// one record per logical entry.
type Store struct {
	mu sync.Mutex

	sessionID string
	tool      string
	dir       string
	ringLines int
	seq       uint64
	startedAt time.Time

	file     *os.File
	gz       *gzip.Writer
	bw       *bufio.Writer
	liveFile *os.File
	liveBW   *bufio.Writer

	lines     []string
	lineStart int
	lineCount int
	closed    bool
}

// NewStore creates a timeline store for one session.
func NewStore(opts StoreOptions) (*Store, error) {
	if err := validateSessionID(opts.SessionID); err != nil {
		return nil, err
	}

	dir := opts.Dir
	if dir == "" {
		var err error

		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}

	ringLines := opts.RingLines
	if ringLines <= 0 {
		ringLines = defaultRingLines
	}

	sessionDir := filepath.Join(dir, opts.SessionID)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create timeline dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(sessionDir, recordsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // sessionDir/sessionID are validated and controlled
	if err != nil {
		return nil, fmt.Errorf("open timeline records: %w", err)
	}

	liveFile, err := os.OpenFile(filepath.Join(sessionDir, recordsLiveFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // sessionDir/sessionID are validated and controlled
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open live timeline records: %w", err)
	}

	gz := gzip.NewWriter(f)

	s := &Store{
		sessionID: opts.SessionID,
		tool:      opts.Tool,
		dir:       sessionDir,
		ringLines: ringLines,
		startedAt: time.Now().UTC(),
		file:      f,
		gz:        gz,
		bw:        bufio.NewWriterSize(gz, 64*1024),
		liveFile:  liveFile,
		liveBW:    bufio.NewWriterSize(liveFile, 64*1024),
		lines:     make([]string, ringLines),
	}

	if err := s.writeMeta(&Meta{
		SessionID: opts.SessionID,
		Tool:      opts.Tool,
		StartedAt: s.startedAt,
	}); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) writeMeta(meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal timeline meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, metaFileName), data, 0o600); err != nil {
		return fmt.Errorf("write timeline meta: %w", err)
	}

	return nil
}

// SessionID returns the store's session id.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Append persists one entry. Streaming entries are skipped; their terminal
// re-emit carries the full accumulated content under the same id, so
// persisting deltas would duplicate every message.
func (s *Store) Append(panelID string, e entry.Entry) error {
	if e.Streaming() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("timeline store is closed")
	}

	s.seq++
	rec := Record{
		SessionID: s.sessionID,
		PanelID:   panelID,
		Seq:       s.seq,
		TS:        time.Now().UTC(),
		Entry:     e,
	}

	line, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal timeline record: %w", err)
	}

	line = append(line, '\n')
	if _, err := s.bw.Write(line); err != nil {
		return fmt.Errorf("encode timeline record: %w", err)
	}

	if _, err := s.liveBW.Write(line); err != nil {
		return fmt.Errorf("encode live timeline record: %w", err)
	}

	if err := s.liveBW.Flush(); err != nil {
		return fmt.Errorf("flush live timeline record: %w", err)
	}

	for _, rendered := range renderLines(e) {
		s.pushLineLocked(rendered)
	}

	return nil
}

// renderLines flattens one entry into display lines for the tail ring.
func renderLines(e entry.Entry) []string {
	prefix := linePrefix(e)

	raw := strings.Split(strings.TrimRight(e.Content, "\n"), "\n")
	out := make([]string, 0, len(raw))
	for i, line := range raw {
		if i == 0 {
			out = append(out, prefix+strings.TrimRight(line, "\r"))
			continue
		}

		out = append(out, "  "+strings.TrimRight(line, "\r"))
	}

	return out
}

func linePrefix(e entry.Entry) string {
	switch e.Type {
	case entry.TypeThinking:
		return "[thinking] "
	case entry.TypeToolUse:
		return "[tool] "
	case entry.TypeToolResult:
		if e.ToolStatus == entry.ToolFailed {
			return "[tool:failed] "
		}
		return "[tool:done] "
	case entry.TypeSystemMessage:
		return "[system] "
	case entry.TypeErrorMessage:
		return "[error] "
	default:
		return ""
	}
}

func (s *Store) pushLineLocked(line string) {
	if s.ringLines <= 0 {
		return
	}

	if s.lineCount < s.ringLines {
		idx := (s.lineStart + s.lineCount) % s.ringLines
		s.lines[idx] = line
		s.lineCount++

		return
	}

	s.lines[s.lineStart] = line
	s.lineStart = (s.lineStart + 1) % s.ringLines
}

// SnapshotLines returns the in-memory ring in chronological order.
func (s *Store) SnapshotLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, s.lineCount)
	for i := 0; i < s.lineCount; i++ {
		idx := (s.lineStart + i) % s.ringLines
		out = append(out, s.lines[idx])
	}

	return out
}

// Close flushes and closes the timeline files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	now := time.Now().UTC()

	var errs []error
	if err := s.writeMeta(&Meta{
		SessionID: s.sessionID,
		Tool:      s.tool,
		StartedAt: s.startedAt,
		ClosedAt:  &now,
	}); err != nil {
		errs = append(errs, err)
	}

	if s.bw != nil {
		if err := s.bw.Flush(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.liveBW != nil {
		if err := s.liveBW.Flush(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.liveFile != nil {
		if err := s.liveFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DefaultDir returns the default timeline directory.
func DefaultDir() (string, error) {
	return paths.TimelineDir()
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	if sessionID != filepath.Base(sessionID) || strings.Contains(sessionID, "..") || strings.ContainsAny(sessionID, `/\`) {
		return errors.New("invalid session id")
	}

	return nil
}
