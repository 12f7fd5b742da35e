// Package errors provides structured CLI error types for Dockhand.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess   = 0  // Successful execution
	ExitGeneral   = 1  // General error
	ExitNetwork   = 3  // Network/RPC error
	ExitConfig    = 4  // Configuration error
	ExitTimeout   = 5  // Operation timeout
	ExitExecution = 6  // Agent process failure
	ExitUsage     = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// InvalidAgentType returns an error for an unsupported agent type.
func InvalidAgentType(agentType string, supported []string) *CLIError {
	hint := "No agent types registered"
	if len(supported) > 0 {
		hint = fmt.Sprintf("Supported agent types: %s", strings.Join(supported, ", "))
	}

	return &CLIError{
		Message: fmt.Sprintf("Invalid agent type: %s", agentType),
		Hint:    hint,
		Code:    ExitUsage,
	}
}

// AgentNotAvailable returns an error when an agent CLI is not installed.
func AgentNotAvailable(agentType string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s CLI not found", agentType),
		Hint:    fmt.Sprintf("Install the %s CLI to use this agent type, then run 'dockhand doctor'", agentType),
		Code:    ExitConfig,
	}
}

// AgentVersionTooOld returns an error when an installed CLI predates the
// minimum supported version.
func AgentVersionTooOld(agentType, installed, minimum string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s CLI version %s is too old", agentType, installed),
		Hint:    fmt.Sprintf("Upgrade to %s or newer", minimum),
		Code:    ExitConfig,
	}
}

// SpawnFailed returns an error when the agent process cannot be started.
func SpawnFailed(agentType string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to start %s process", agentType),
		Hint:    "Run 'dockhand doctor' to check your agent installations",
		Cause:   cause,
		Code:    ExitExecution,
	}
}

// SessionNotFound returns an error for an unknown session.
func SessionNotFound(sessionID string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Session not found: %s", sessionID),
		Hint:    "The session may have been stopped, or the ID is incorrect",
		Code:    ExitGeneral,
	}
}

// RPCTimeout returns an error for an unanswered request.
func RPCTimeout(method string, timeout string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("No response to %s after %s", method, timeout),
		Hint:    "The agent process may be hung; interrupt or stop the session",
		Code:    ExitTimeout,
	}
}

// ProcessTerminated returns an error when the agent process exited
// underneath a live session.
func ProcessTerminated(agentType string, exitCode int) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s process exited with code %d", agentType, exitCode),
		Hint:    "Check the session timeline for the last error message",
		Code:    ExitExecution,
	}
}

// NoInput returns an error when a prompt is required but absent.
func NoInput() *CLIError {
	return &CLIError{
		Message: "No prompt provided",
		Hint:    "Pass a prompt argument or pipe text on stdin",
		Code:    ExitUsage,
	}
}

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your Dockhand config directory or run 'dockhand doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// AgentExecutionFailed classifies an agent CLI failure from its exit code
// and stderr, providing a specific hint for common patterns.
func AgentExecutionFailed(agentType string, exitCode int, stderr string) *CLIError {
	msg := fmt.Sprintf("%s execution failed", agentType)
	hint := ""

	switch {
	case containsAny(stderr, "rate limit", "rate_limit", "429"):
		msg = fmt.Sprintf("%s API rate limit exceeded", agentType)
		hint = "Wait a moment and try again, or check your API usage limits"
	case containsAny(stderr, "authentication", "unauthorized", "401", "invalid_api_key"):
		msg = fmt.Sprintf("%s API authentication failed", agentType)
		hint = "Check your API credentials for this agent"
	case containsAny(stderr, "context length", "context_length", "max_tokens"):
		msg = "Context length exceeded"
		hint = "Simplify the prompt or break the task into smaller parts"
	case containsAny(stderr, "overloaded", "503", "service unavailable"):
		msg = fmt.Sprintf("%s API is temporarily overloaded", agentType)
		hint = "Wait a moment and try again"
	case containsAny(stderr, "connection", "network", "timeout"):
		msg = fmt.Sprintf("Network error connecting to %s API", agentType)
		hint = "Check your network connection"
	case exitCode == 1 && stderr == "":
		hint = "Run with --log-level=debug for more details"
	default:
		if stderr != "" {
			// Truncate long error messages
			if len(stderr) > 200 {
				stderr = stderr[:200] + "..."
			}

			hint = stderr
		}
	}

	return &CLIError{
		Message: msg,
		Hint:    hint,
		Code:    ExitExecution,
	}
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
