package output

import (
	"encoding/json"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/dockhand-dev/dockhand/internal/entry"
)

// Entry renders one normalized timeline entry to the console. JSON mode
// emits the entry as a single line for scripting; otherwise each entry
// type gets its own tone so a session transcript reads at a glance.
func (w *Writer) Entry(e entry.Entry) {
	if w.JSON {
		if data, err := json.Marshal(e); err == nil {
			w.Print("%s\n", data)
		}

		return
	}

	switch e.Type {
	case entry.TypeThinking:
		if e.Internal() {
			w.Muted("[diag] %s", e.Content)
			return
		}

		w.Muted("[thinking] %s", e.Content)
	case entry.TypeToolUse:
		name := e.ToolName
		if name == "" {
			name = "tool"
		}

		w.Info("[%s] %s", name, w.preview(e.Content))
	case entry.TypeToolResult:
		if e.ToolStatus == entry.ToolFailed {
			w.Warning("[tool:failed] %s", w.preview(e.Content))
			return
		}

		w.Muted("[tool:done] %s", w.preview(e.Content))
	case entry.TypeSystemMessage:
		w.Muted("[system] %s", e.Content)
	case entry.TypeErrorMessage:
		w.Failure("%s", e.Content)
	default:
		w.Print("%s\n", e.Content)
	}
}

// preview reduces multi-line tool payloads to their first line, bounded to
// the terminal so the transcript never wraps mid-preview.
func (w *Writer) preview(content string) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	return runewidth.Truncate(line, w.terminal.PreviewWidth(), "...")
}
