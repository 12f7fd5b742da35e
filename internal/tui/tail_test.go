package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hinshun/vt10x"

	"github.com/dockhand-dev/dockhand/internal/entry"
	"github.com/dockhand-dev/dockhand/internal/session"
)

var errReadFailed = errors.New("read live timeline records: permission denied")

func testRecord(seq uint64, t entry.Type, content string) session.Record {
	e := entry.New(t, content)

	return session.Record{
		SessionID: "sess-1",
		PanelID:   "panel-1",
		Seq:       seq,
		TS:        time.Date(2026, 8, 30, 14, 3, 5, 0, time.UTC),
		Entry:     e,
	}
}

// sizedModel returns a model that is ready at the given terminal size.
func sizedModel(t *testing.T, width, height int) Model {
	t.Helper()

	m := NewModel("", "sess-1")
	m.readRecords = func(rootDir, sessionID string, offset int64) ([]session.Record, int64, error) {
		return nil, offset, nil
	}

	next, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: height})

	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}

	return model
}

func deliver(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()

	next, _ := m.Update(msg)

	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}

	return model
}

func TestTailAppendsRecordsAndAdvancesOffset(t *testing.T) {
	m := sizedModel(t, 80, 24)

	m = deliver(t, m, recordsMsg{
		records: []session.Record{
			testRecord(1, entry.TypeAssistantMessage, "hello from the agent"),
			testRecord(2, entry.TypeThinking, "planning the change"),
		},
		nextOffset: 512,
	})

	if m.offset != 512 {
		t.Fatalf("offset = %d, want 512", m.offset)
	}

	if m.count != 2 {
		t.Fatalf("count = %d, want 2", m.count)
	}

	view := m.View()
	if !strings.Contains(view, "hello from the agent") {
		t.Fatalf("view missing assistant content:\n%s", view)
	}

	if !strings.Contains(view, "planning the change") {
		t.Fatalf("view missing thinking content:\n%s", view)
	}
}

func TestTailReadErrorKeepsOffsetAndSurfacesInFooter(t *testing.T) {
	m := sizedModel(t, 80, 24)

	m = deliver(t, m, recordsMsg{nextOffset: 100})
	m = deliver(t, m, recordsMsg{nextOffset: 0, err: errReadFailed})

	if m.offset != 100 {
		t.Fatalf("offset = %d, want 100 after failed read", m.offset)
	}

	if !strings.Contains(m.View(), "read error") {
		t.Fatal("footer should surface the read error")
	}
}

func TestTailFollowToggle(t *testing.T) {
	m := sizedModel(t, 80, 24)

	if !m.follow {
		t.Fatal("viewer should start in follow mode")
	}

	m = deliver(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'f'}})
	if m.follow {
		t.Fatal("f should pause follow mode")
	}

	if !strings.Contains(m.View(), "paused") {
		t.Fatal("header should show paused state")
	}

	m = deliver(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'G'}})
	if !m.follow {
		t.Fatal("G should resume follow mode")
	}
}

func TestTailQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		t.Run(key, func(t *testing.T) {
			m := sizedModel(t, 80, 24)

			msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
			if key == "ctrl+c" {
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			}

			_, cmd := m.Update(msg)
			if cmd == nil {
				t.Fatal("quit key should produce a command")
			}

			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Fatalf("quit key produced %T, want tea.QuitMsg", cmd())
			}
		})
	}
}

// TestTailViewRendersOnTerminal replays the composed view through a real
// terminal emulator so styling sequences are verified to leave readable text
// on screen rather than asserted against raw escape bytes.
func TestTailViewRendersOnTerminal(t *testing.T) {
	m := sizedModel(t, 80, 24)

	m = deliver(t, m, recordsMsg{
		records: []session.Record{
			testRecord(1, entry.TypeToolUse, "reading main.go"),
			testRecord(2, entry.TypeErrorMessage, "process exited unexpectedly"),
		},
		nextOffset: 64,
	})

	term := vt10x.New(vt10x.WithSize(80, 24))

	// vt10x interprets a bare LF without an implicit CR (no ONLCR translation
	// like a real TTY driver), so replay the view with CRLF line endings.
	if _, err := term.Write([]byte(strings.ReplaceAll(m.View(), "\n", "\r\n"))); err != nil {
		t.Fatalf("write view to emulator: %v", err)
	}

	screen := term.String()

	for _, want := range []string{"dockhand tail sess-1", "reading main.go", "process exited unexpectedly", "[error]"} {
		if !strings.Contains(screen, want) {
			t.Fatalf("emulated screen missing %q:\n%s", want, screen)
		}
	}
}

func TestFormatRecordTruncatesAndStrips(t *testing.T) {
	rec := testRecord(1, entry.TypeAssistantMessage, "\x1b[31mcolored\x1b[0m "+strings.Repeat("x", 200))

	lines := formatRecord(rec, 40)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}

	if strings.Contains(lines[0], "\x1b[31m") {
		t.Fatal("agent-leaked ANSI should be stripped from content")
	}

	if !strings.Contains(lines[0], "colored") {
		t.Fatalf("stripped content missing text: %q", lines[0])
	}
}

func TestFormatRecordMultilineIndent(t *testing.T) {
	rec := testRecord(1, entry.TypeToolResult, "line one\nline two\nline three")

	lines := formatRecord(rec, 120)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	if !strings.Contains(lines[0], "[tool:done]") {
		t.Fatalf("first line missing label: %q", lines[0])
	}

	for _, cont := range lines[1:] {
		if !strings.HasPrefix(cont, " ") {
			t.Fatalf("continuation line not indented: %q", cont)
		}
	}
}

func TestFormatRecordInternalDiagnostic(t *testing.T) {
	e := entry.New(entry.TypeThinking, "No recent Codex output")
	e.SetMeta("internal", true)

	rec := session.Record{SessionID: "s", PanelID: "p", Seq: 1, TS: time.Now(), Entry: e}

	lines := formatRecord(rec, 120)
	if !strings.Contains(lines[0], "[diag]") {
		t.Fatalf("internal diagnostic should be tagged, got %q", lines[0])
	}
}
