package codexrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dockhand-dev/dockhand/internal/entry"
)

const panel = "panel-1"

func TestNormalizeMarker(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**Searching**", "Searching"},
		{"## Checking dependencies", "Checking dependencies"},
		{"*Reading files*", "Reading files"},
		{"plain text", "plain text"},
		{"- keep bullet", "- keep bullet"},
		{"* keep star bullet", "* keep star bullet"},
		{"  **trimmed**  ", "trimmed"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeMarker(tt.in); got != tt.want {
			t.Errorf("NormalizeMarker(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCoalescible(t *testing.T) {
	if !Coalescible("**Searching**", 120) {
		t.Error("short phase marker should coalesce")
	}
	if Coalescible("line one\nline two", 120) {
		t.Error("multi-line reasoning must not coalesce")
	}
	if Coalescible(strings.Repeat("x", 200), 120) {
		t.Error("long reasoning must not coalesce")
	}
	if !Coalescible(strings.Repeat("é", 120), 120) {
		t.Error("limit counts runes, not bytes")
	}
}

func TestTurnStartedResetsCoalescedIdentity(t *testing.T) {
	p := NewNotificationParser(0)

	p.Parse(MethodTurnStarted, nil, panel)
	first := p.Parse(MethodReasoningTextDelta, []byte(`{"itemId":"item_1","delta":"**Sear"}`), panel)

	p.Parse(MethodTurnStarted, nil, panel)
	second := p.Parse(MethodReasoningTextDelta, []byte(`{"itemId":"item_2","delta":"**Plan"}`), panel)

	if first == nil || second == nil {
		t.Fatal("expected entries")
	}
	if first.ID == second.ID {
		t.Error("new turn must mint a new coalesced identity")
	}
}

func TestReasoningCoalescence(t *testing.T) {
	p := NewNotificationParser(0)
	p.Parse(MethodTurnStarted, nil, panel)

	first := p.Parse(MethodReasoningTextDelta, []byte(`{"itemId":"item_1","delta":"**Sear"}`), panel)
	second := p.Parse(MethodReasoningTextDelta, []byte(`{"itemId":"item_1","delta":"ching**"}`), panel)

	if first == nil || second == nil {
		t.Fatal("expected entries")
	}
	if first.ID != second.ID {
		t.Errorf("deltas got different ids: %q vs %q", first.ID, second.ID)
	}
	if second.Content != "Searching" {
		t.Errorf("Content = %q, want Searching", second.Content)
	}
	if !second.Streaming() {
		t.Error("delta entry should be streaming")
	}

	done := p.Parse(MethodItemCompleted, []byte(`{"item":{"id":"item_1","itemType":"reasoning","text":"**Searching**"}}`), panel)
	if done == nil {
		t.Fatal("expected completion entry")
	}
	if done.ID != second.ID {
		t.Errorf("completion id %q does not match streamed id %q", done.ID, second.ID)
	}
	if done.Content != "Searching" {
		t.Errorf("completion Content = %q", done.Content)
	}
	if done.Streaming() {
		t.Error("completion must not be streaming")
	}

	// The completion already emitted the final form, so turn/completed has
	// nothing left to flush.
	if flushed := p.Parse(MethodTurnCompleted, nil, panel); flushed != nil {
		t.Errorf("unexpected flush after completion: %+v", flushed)
	}
}

func TestTurnCompletedFlushesDanglingReasoning(t *testing.T) {
	p := NewNotificationParser(0)
	p.Parse(MethodTurnStarted, nil, panel)

	streamed := p.Parse(MethodReasoningTextDelta, []byte(`{"itemId":"item_1","delta":"**Thinking**"}`), panel)
	if streamed == nil {
		t.Fatal("expected streamed entry")
	}

	flushed := p.Parse(MethodTurnCompleted, nil, panel)
	if flushed == nil {
		t.Fatal("expected dangling reasoning flush")
	}
	if flushed.ID != streamed.ID {
		t.Errorf("flush id %q does not match streamed id %q", flushed.ID, streamed.ID)
	}
	if flushed.Content != "Thinking" || flushed.Streaming() {
		t.Errorf("flush = %+v", flushed)
	}

	// Second completion has nothing more to say.
	if again := p.Parse(MethodTurnCompleted, nil, panel); again != nil {
		t.Errorf("repeated flush: %+v", again)
	}
}

func TestLongReasoningBypassesCoalescing(t *testing.T) {
	p := NewNotificationParser(0)
	p.Parse(MethodTurnStarted, nil, panel)

	long := strings.Repeat("deliberation ", 20)
	e := p.Parse(MethodReasoningTextDelta, []byte(`{"itemId":"item_9","delta":`+mustJSON(long)+`}`), panel)
	if e == nil {
		t.Fatal("expected entry")
	}
	if e.ID != "item_9" {
		t.Errorf("long reasoning should keep item identity, got %q", e.ID)
	}
	if e.Content != long {
		t.Errorf("long reasoning must stay verbatim")
	}
}

func TestAgentMessageDeltaAccumulation(t *testing.T) {
	p := NewNotificationParser(0)

	first := p.Parse(MethodAgentMessageDelta, []byte(`{"itemId":"item_3","delta":"Hel"}`), panel)
	second := p.Parse(MethodAgentMessageDelta, []byte(`{"itemId":"item_3","delta":"lo"}`), panel)

	if first.Content != "Hel" || second.Content != "Hello" {
		t.Errorf("accumulation broken: %q then %q", first.Content, second.Content)
	}
	if first.ID != "item_3" || second.ID != "item_3" {
		t.Error("delta entries must keep the item id")
	}

	// Completion prefers the streamed text over its own payload text.
	done := p.Parse(MethodItemCompleted, []byte(`{"item":{"id":"item_3","itemType":"agentMessage","text":"stale"}}`), panel)
	if done.Content != "Hello" {
		t.Errorf("completion Content = %q, want streamed text", done.Content)
	}
	if done.Streaming() {
		t.Error("completion must not be streaming")
	}
}

func TestItemStarted(t *testing.T) {
	p := NewNotificationParser(0)

	cmd := p.Parse(MethodItemStarted, []byte(`{"item":{"id":"item_5","itemType":"commandExecution","command":"go test ./..."}}`), panel)
	if cmd == nil {
		t.Fatal("expected command entry")
	}
	if cmd.Type != entry.TypeToolUse || cmd.ToolStatus != entry.ToolPending {
		t.Errorf("entry = %+v", cmd)
	}
	if cmd.Action == nil || cmd.Action.Kind != entry.ActionCommandRun || cmd.Action.Command != "go test ./..." {
		t.Errorf("Action = %+v", cmd.Action)
	}

	fc := p.Parse(MethodItemStarted, []byte(`{"item":{"id":"item_6","itemType":"fileChange","changes":[{"path":"a.go","kind":"edit"}]}}`), panel)
	if fc == nil || fc.Action == nil || fc.Action.Kind != entry.ActionFileEdit || fc.Action.Path != "a.go" {
		t.Fatalf("fileChange entry = %+v", fc)
	}

	// Message and reasoning starts carry no content worth an entry.
	if e := p.Parse(MethodItemStarted, []byte(`{"item":{"id":"item_7","itemType":"agentMessage"}}`), panel); e != nil {
		t.Errorf("agentMessage start produced entry: %+v", e)
	}
}

func TestItemCompletedToolResults(t *testing.T) {
	p := NewNotificationParser(0)

	ok := p.Parse(MethodItemCompleted, []byte(`{"item":{"id":"item_5","itemType":"commandExecution","status":"completed","aggregatedOutput":"PASS","exitCode":0}}`), panel)
	if ok == nil || ok.Type != entry.TypeToolResult || ok.ToolStatus != entry.ToolSuccess {
		t.Fatalf("entry = %+v", ok)
	}
	if ok.ID != "item_5" || ok.ToolUseID != "item_5" {
		t.Errorf("identity must match the started item: %+v", ok)
	}
	if ok.Content != "PASS" {
		t.Errorf("Content = %q", ok.Content)
	}

	failed := p.Parse(MethodItemCompleted, []byte(`{"item":{"id":"item_8","itemType":"commandExecution","status":"failed","aggregatedOutput":"boom"}}`), panel)
	if failed.ToolStatus != entry.ToolFailed {
		t.Errorf("ToolStatus = %q", failed.ToolStatus)
	}

	mcp := p.Parse(MethodItemCompleted, []byte(`{"item":{"id":"item_9","itemType":"mcpToolCall","status":"completed","server":"github","tool":"search"}}`), panel)
	if mcp == nil || mcp.Content != "github.search" {
		t.Fatalf("mcp entry = %+v", mcp)
	}
}

func TestPlanUpdated(t *testing.T) {
	p := NewNotificationParser(0)

	e := p.Parse(MethodTurnPlanUpdated, []byte(`{"explanation":"Fix the bug","plan":[{"step":"read code","status":"completed"},{"step":"apply fix","status":"inProgress"}]}`), panel)
	if e == nil || e.Type != entry.TypeSystemMessage {
		t.Fatalf("entry = %+v", e)
	}

	want := "Fix the bug\ncompleted: read code\ninProgress: apply fix"
	if e.Content != want {
		t.Errorf("Content = %q, want %q", e.Content, want)
	}

	if empty := p.Parse(MethodTurnPlanUpdated, []byte(`{}`), panel); empty != nil {
		t.Errorf("empty plan produced entry: %+v", empty)
	}
}

func TestErrorNotification(t *testing.T) {
	p := NewNotificationParser(0)

	e := p.Parse(MethodError, []byte(`{"error":{"message":"stream disconnected","code":-32000}}`), panel)
	if e == nil || e.Type != entry.TypeErrorMessage || e.Content != "stream disconnected" {
		t.Fatalf("entry = %+v", e)
	}

	blank := p.Parse(MethodError, []byte(`{}`), panel)
	if blank == nil || blank.Content != "Unknown error" {
		t.Fatalf("entry = %+v", blank)
	}
}

func TestWillRetry(t *testing.T) {
	if !WillRetry([]byte(`{"willRetry":true}`)) {
		t.Error("camelCase willRetry not detected")
	}
	if !WillRetry([]byte(`{"will_retry":true}`)) {
		t.Error("snake_case will_retry not detected")
	}
	if !WillRetry([]byte(`{"error":{"message":"x","willRetry":true}}`)) {
		t.Error("nested willRetry not detected")
	}
	if WillRetry([]byte(`{"error":{"message":"x"}}`)) {
		t.Error("false positive")
	}
}

func TestUnknownAndSuppressedMethods(t *testing.T) {
	p := NewNotificationParser(0)

	if e := p.Parse(Method("item/commandExecution/outputDelta"), []byte(`{"delta":"x"}`), panel); e != nil {
		t.Errorf("suppressed method produced entry: %+v", e)
	}
	if e := p.Parse(Method("made/up"), nil, panel); e != nil {
		t.Errorf("unknown method produced entry: %+v", e)
	}

	if !Method("turn/diff/updated").Suppressed() {
		t.Error("turn/diff/updated should be suppressed")
	}
	if !MethodSendUserMessage.ClientOriginated() {
		t.Error("sendUserMessage is client originated")
	}
	if MethodExecCommandApproval.ClientOriginated() {
		t.Error("execCommandApproval is server originated")
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()

	config := `
model = "gpt-5-codex"
model_reasoning_effort = "high"
sandbox_mode = "workspace-write"
approval_policy = "never"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p.Model != "gpt-5-codex" || p.ModelReasoningEffort != "high" {
		t.Errorf("profile = %+v", p)
	}
	if p.SandboxMode != "workspace-write" || p.ApprovalPolicy != "never" {
		t.Errorf("profile = %+v", p)
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	p, err := LoadProfile(t.TempDir())
	if err != nil {
		t.Fatalf("missing config should not error: %v", err)
	}
	if p != (Profile{}) {
		t.Errorf("expected zero profile, got %+v", p)
	}
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
