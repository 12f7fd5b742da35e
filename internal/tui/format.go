package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"

	"github.com/dockhand-dev/dockhand/internal/entry"
	"github.com/dockhand-dev/dockhand/internal/session"
)

var (
	styleTimestamp = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	styleThinking  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	styleTool      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleToolDone  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleToolFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleSystem    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleErr       = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// entryLabel returns the styled tag shown before an entry's content.
func entryLabel(e entry.Entry) string {
	switch e.Type {
	case entry.TypeThinking:
		if internal, ok := e.Metadata["internal"].(bool); ok && internal {
			return styleSystem.Render("[diag]")
		}

		return styleThinking.Render("[thinking]")
	case entry.TypeToolUse:
		name := e.ToolName
		if name == "" {
			name = "tool"
		}

		return styleTool.Render("[" + name + "]")
	case entry.TypeToolResult:
		if e.ToolStatus == entry.ToolFailed {
			return styleToolFail.Render("[tool:failed]")
		}

		return styleToolDone.Render("[tool:done]")
	case entry.TypeSystemMessage:
		return styleSystem.Render("[system]")
	case entry.TypeErrorMessage:
		return styleErr.Render("[error]")
	default:
		return ""
	}
}

func contentStyle(e entry.Entry) lipgloss.Style {
	switch e.Type {
	case entry.TypeThinking:
		return styleThinking
	case entry.TypeSystemMessage:
		return styleSystem
	case entry.TypeErrorMessage:
		return styleErr
	default:
		return styleAssistant
	}
}

// formatRecord renders one timeline record into display lines no wider than
// width cells. Entry content is stripped of any ANSI sequences the agent
// leaked into it before styling is applied.
func formatRecord(rec session.Record, width int) []string {
	stamp := styleTimestamp.Render(rec.TS.Format("15:04:05"))
	label := entryLabel(rec.Entry)
	style := contentStyle(rec.Entry)

	head := stamp
	if label != "" {
		head += " " + label
	}

	indent := strings.Repeat(" ", VisibleWidth(stamp)+1)

	body := strings.TrimRight(xansi.Strip(rec.Entry.Content), "\n")

	maxContent := width - VisibleWidth(head) - 1
	if maxContent < 8 {
		maxContent = 8
	}

	raw := strings.Split(body, "\n")
	out := make([]string, 0, len(raw))

	for i, line := range raw {
		line = strings.TrimRight(line, "\r")
		line = TruncateVisible(line, maxContent, "…")

		if i == 0 {
			out = append(out, head+" "+style.Render(line))
			continue
		}

		out = append(out, indent+style.Render(line))
	}

	return out
}
