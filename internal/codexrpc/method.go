// Package codexrpc implements the app-server side of the Codex CLI
// protocol: the JSON-RPC method vocabulary, notification-to-entry parsing
// with streaming coalescence, and local profile discovery.
package codexrpc

// Method is a JSON-RPC method name on the app-server channel.
type Method string

// Client-originated request methods. Inbound frames carrying one of these
// names are echoes of our own writes, never genuine server requests.
const (
	MethodInitialize              Method = "initialize"
	MethodInitialized             Method = "initialized"
	MethodNewConversation         Method = "newConversation"
	MethodResumeConversation      Method = "resumeConversation"
	MethodAddConversationListener Method = "addConversationListener"
	MethodSendUserMessage         Method = "sendUserMessage"
	MethodInterruptConversation   Method = "interruptConversation"
)

// Server-originated request methods that expect a response. Both are
// approval prompts and both are auto-approved.
const (
	MethodExecCommandApproval Method = "execCommandApproval"
	MethodApplyPatchApproval  Method = "applyPatchApproval"
)

// Notification methods that feed the timeline.
const (
	MethodThreadStarted         Method = "thread/started"
	MethodTurnStarted           Method = "turn/started"
	MethodTurnCompleted         Method = "turn/completed"
	MethodTurnFailed            Method = "turn/failed"
	MethodTurnPlanUpdated       Method = "turn/plan/updated"
	MethodItemStarted           Method = "item/started"
	MethodItemCompleted         Method = "item/completed"
	MethodAgentMessageDelta     Method = "item/agentMessage/delta"
	MethodReasoningTextDelta    Method = "item/reasoning/textDelta"
	MethodReasoningSummaryDelta Method = "item/reasoning/summaryTextDelta"
	MethodError                 Method = "error"
)

var clientOriginated = map[Method]struct{}{
	MethodInitialize:              {},
	MethodInitialized:             {},
	MethodNewConversation:         {},
	MethodResumeConversation:      {},
	MethodAddConversationListener: {},
	MethodSendUserMessage:         {},
	MethodInterruptConversation:   {},
}

// ClientOriginated reports whether m is a method only this client sends.
func (m Method) ClientOriginated() bool {
	_, ok := clientOriginated[m]
	return ok
}

// ClientMethods returns the methods only this client sends. Echo detection
// over corrupt frame text matches against these names.
func ClientMethods() []Method {
	out := make([]Method, 0, len(clientOriginated))
	for m := range clientOriginated {
		out = append(out, m)
	}

	return out
}

// Byte-level streaming telemetry the timeline intentionally ignores. The
// audit-facing timeline shows actions and messages, not output deltas.
var suppressed = map[Method]struct{}{
	"item/commandExecution/outputDelta": {},
	"turn/diff/updated":                 {},
	"thread/tokenUsage/updated":         {},
	"thread/compacted":                  {},
	"item/fileChange/progress":          {},
	"item/mcpToolCall/progress":         {},
	"item/webSearch/progress":           {},
	"loginChatGptComplete":              {},
	"authStatusChange":                  {},
}

// Suppressed reports whether m is deliberately dropped without an entry or
// an output event.
func (m Method) Suppressed() bool {
	_, ok := suppressed[m]
	return ok
}
