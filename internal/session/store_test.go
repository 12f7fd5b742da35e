package session

import (
	"strings"
	"testing"
	"time"

	"github.com/dockhand-dev/dockhand/internal/entry"
)

func newTestStore(t *testing.T, dir, sessionID string) *Store {
	t.Helper()

	s, err := NewStore(StoreOptions{SessionID: sessionID, Tool: "codex", Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	return s
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, "sess-1")

	first := entry.New(entry.TypeAssistantMessage, "hello")
	second := entry.New(entry.TypeToolResult, "PASS")
	second.ToolStatus = entry.ToolSuccess

	if err := s.Append("panel-1", first); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("panel-1", second); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := ReadRecords(dir, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Seq != 1 || records[1].Seq != 2 {
		t.Errorf("seq = %d, %d", records[0].Seq, records[1].Seq)
	}
	if records[0].Entry.Content != "hello" {
		t.Errorf("Content = %q", records[0].Entry.Content)
	}
	if records[1].Entry.ToolStatus != entry.ToolSuccess {
		t.Errorf("ToolStatus = %q", records[1].Entry.ToolStatus)
	}
}

func TestStoreSkipsStreamingEntries(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, "sess-1")

	delta := entry.NewWithID("item_1", entry.TypeAssistantMessage, "partial")
	delta.SetMeta("streaming", true)
	final := entry.NewWithID("item_1", entry.TypeAssistantMessage, "partial and complete")

	if err := s.Append("panel-1", delta); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("panel-1", final); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := ReadRecords(dir, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Entry.Content != "partial and complete" {
		t.Errorf("Content = %q", records[0].Entry.Content)
	}
}

func TestStoreRecoversFromLiveFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, "sess-1")

	if err := s.Append("panel-1", entry.New(entry.TypeSystemMessage, "Session initialized")); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash: the gzip stream is never finalized, but the live
	// file was flushed on every append.
	_ = s.liveBW.Flush()

	records, err := readLiveRecords(dir, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Entry.Content != "Session initialized" {
		t.Fatalf("records = %+v", records)
	}

	_ = s.Close()
}

func TestReadLiveRecordsFrom(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, "sess-1")

	if err := s.Append("panel-1", entry.New(entry.TypeSystemMessage, "first")); err != nil {
		t.Fatal(err)
	}

	records, offset, err := ReadLiveRecordsFrom(dir, "sess-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if offset <= 0 {
		t.Fatalf("offset = %d", offset)
	}

	if err := s.Append("panel-1", entry.New(entry.TypeSystemMessage, "second")); err != nil {
		t.Fatal(err)
	}

	more, next, err := ReadLiveRecordsFrom(dir, "sess-1", offset)
	if err != nil {
		t.Fatal(err)
	}
	if len(more) != 1 || more[0].Entry.Content != "second" {
		t.Fatalf("records = %+v", more)
	}
	if next <= offset {
		t.Errorf("offset did not advance: %d -> %d", offset, next)
	}

	_ = s.Close()
}

func TestSnapshotLinesRendering(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, "sess-1")

	tool := entry.New(entry.TypeToolUse, "Run: go test ./...")
	tool.ToolStatus = entry.ToolPending
	if err := s.Append("panel-1", tool); err != nil {
		t.Fatal(err)
	}

	multi := entry.New(entry.TypeAssistantMessage, "line one\nline two")
	if err := s.Append("panel-1", multi); err != nil {
		t.Fatal(err)
	}

	lines := s.SnapshotLines()
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "[tool] ") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "line one" || lines[2] != "  line two" {
		t.Errorf("continuation rendering = %q", lines[1:])
	}

	_ = s.Close()
}

func TestValidateSessionID(t *testing.T) {
	for _, bad := range []string{"", "../etc", "a/b", `a\b`, ".."} {
		if _, err := NewStore(StoreOptions{SessionID: bad, Dir: t.TempDir()}); err == nil {
			t.Errorf("session id %q accepted", bad)
		}
	}
}

func TestListAndPruneSessions(t *testing.T) {
	dir := t.TempDir()

	old := newTestStore(t, dir, "sess-old")
	_ = old.Close()

	recent := newTestStore(t, dir, "sess-new")
	_ = recent.Close()

	sessions, err := ListSessions(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions", len(sessions))
	}

	// Everything closed just now survives a cutoff in the past.
	removed, err := PruneOlderThan(dir, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("removed = %d", removed)
	}

	// A future cutoff removes both.
	removed, err = PruneOlderThan(dir, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d", removed)
	}
}

func TestMemoryManager(t *testing.T) {
	m := NewMemoryManager()
	m.CreateSession("sess-1", "panel-1", "codex", "/work")

	s, err := m.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusInitializing {
		t.Errorf("Status = %q", s.Status)
	}

	if err := m.UpdateSessionStatus("sess-1", StatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.SetAgentSessionID("sess-1", "/tmp/rollout.jsonl"); err != nil {
		t.Fatal(err)
	}

	s, _ = m.GetSession("sess-1")
	if s.Status != StatusRunning || s.AgentSessionID != "/tmp/rollout.jsonl" {
		t.Errorf("session = %+v", s)
	}

	if _, err := m.GetSession("missing"); err != ErrSessionNotFound {
		t.Errorf("err = %v", err)
	}

	_ = m.AddTimelineEvent(TimelineEvent{SessionID: "sess-1", Kind: "cli.command", Status: TimelineStarted})
	if got := m.Events(); len(got) != 1 || got[0].Status != TimelineStarted {
		t.Errorf("events = %+v", got)
	}
}
