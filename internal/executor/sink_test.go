package executor

import (
	"sync"

	"github.com/dockhand-dev/dockhand/internal/entry"
)

// captureSink records everything executors emit for later assertions.
type captureSink struct {
	mu       sync.Mutex
	entries  []entry.Entry
	outputs  []Output
	agentIDs []string
}

func (s *captureSink) Entry(_, _ string, e entry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
}

func (s *captureSink) Output(_, _ string, out Output) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outputs = append(s.outputs, out)
}

func (s *captureSink) AgentSessionID(_, _, agentSessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agentIDs = append(s.agentIDs, agentSessionID)
}

func (s *captureSink) Entries() []entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entry.Entry, len(s.entries))
	copy(out, s.entries)

	return out
}

func (s *captureSink) Outputs() []Output {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Output, len(s.outputs))
	copy(out, s.outputs)

	return out
}

func (s *captureSink) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.agentIDs))
	copy(out, s.agentIDs)

	return out
}

var _ Sink = (*captureSink)(nil)
