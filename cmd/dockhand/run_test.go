package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dockhand-dev/dockhand/internal/entry"
	"github.com/dockhand-dev/dockhand/internal/executor"
	"github.com/dockhand-dev/dockhand/internal/session"
)

func TestRunSinkSkipsStreamingEntries(t *testing.T) {
	writer, raw := newCaptureWriter()

	sink := &runSink{out: writer, sessions: session.NewMemoryManager(), logger: slog.Default()}

	e := entry.New(entry.TypeThinking, "partial reasoning")
	e.SetMeta("streaming", true)

	sink.Entry("p1", "s1", e)

	if got := raw.String(); got != "" {
		t.Fatalf("streaming entry should not print, got %q", got)
	}

	final := entry.NewWithID(e.ID, entry.TypeThinking, "full reasoning")

	sink.Entry("p1", "s1", final)

	if !strings.Contains(raw.String(), "full reasoning") {
		t.Fatalf("terminal re-emit should print, got %q", raw.String())
	}
}

func TestRunSinkEntryLabels(t *testing.T) {
	tests := []struct {
		name  string
		build func() entry.Entry
		want  string
	}{
		{
			name: "internal diagnostic",
			build: func() entry.Entry {
				e := entry.New(entry.TypeThinking, "No recent Codex output")
				e.SetMeta("internal", true)
				return e
			},
			want: "[diag] No recent Codex output",
		},
		{
			name: "thinking",
			build: func() entry.Entry {
				return entry.New(entry.TypeThinking, "planning")
			},
			want: "[thinking] planning",
		},
		{
			name: "tool use",
			build: func() entry.Entry {
				e := entry.New(entry.TypeToolUse, "cat main.go")
				e.ToolName = "shell"
				return e
			},
			want: "[shell] cat main.go",
		},
		{
			name: "failed tool result",
			build: func() entry.Entry {
				e := entry.New(entry.TypeToolResult, "exit status 1")
				e.ToolStatus = entry.ToolFailed
				return e
			},
			want: "[tool:failed] exit status 1",
		},
		{
			name: "assistant message",
			build: func() entry.Entry {
				return entry.New(entry.TypeAssistantMessage, "done, tests pass")
			},
			want: "done, tests pass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer, raw := newCaptureWriter()
			sink := &runSink{out: writer, sessions: session.NewMemoryManager(), logger: slog.Default()}

			sink.Entry("p1", "s1", tt.build())

			if !strings.Contains(raw.String(), tt.want) {
				t.Errorf("output %q missing %q", raw.String(), tt.want)
			}
		})
	}
}

func TestRunSinkOutputTrimsAndDropsEmpty(t *testing.T) {
	writer, raw := newCaptureWriter()
	sink := &runSink{out: writer, sessions: session.NewMemoryManager(), logger: slog.Default()}

	sink.Output("p1", "s1", executor.Output{Type: executor.OutputStdout, Data: "\n", Timestamp: time.Now()})

	if raw.String() != "" {
		t.Fatalf("empty output should be dropped, got %q", raw.String())
	}

	sink.Output("p1", "s1", executor.Output{Type: executor.OutputStdout, Data: "warning: something\n", Timestamp: time.Now()})

	if !strings.Contains(raw.String(), "warning: something") {
		t.Fatalf("output not forwarded: %q", raw.String())
	}
}

func TestRunSinkAgentSessionID(t *testing.T) {
	writer, raw := newCaptureWriter()

	sessions := session.NewMemoryManager()
	sessions.CreateSession("s1", "p1", "codex", "/tmp")

	sink := &runSink{out: writer, sessions: sessions, logger: slog.Default()}

	sink.AgentSessionID("p1", "s1", "rollout-abc123")

	if !strings.Contains(raw.String(), "rollout-abc123") {
		t.Fatalf("resume token not surfaced: %q", raw.String())
	}

	sess, err := sessions.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}

	if sess.AgentSessionID != "rollout-abc123" {
		t.Fatalf("AgentSessionID = %q, want rollout-abc123", sess.AgentSessionID)
	}
}
