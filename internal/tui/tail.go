// Package tui implements the live timeline viewer behind "dockhand tail". It
// follows a session's append-only record file and renders entries in a
// scrollable viewport.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dockhand-dev/dockhand/internal/session"
)

// PollInterval is how often the viewer re-reads the live record file.
const PollInterval = 250 * time.Millisecond

const chromeHeight = 2 // header + footer

var (
	styleHeader = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Bold(true)
	styleFooter = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleFollow = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	stylePaused = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

type tickMsg time.Time

type recordsMsg struct {
	records    []session.Record
	nextOffset int64
	err        error
}

// Model is the bubbletea model for the tail viewer.
type Model struct {
	rootDir   string
	sessionID string

	// readRecords is injectable for tests; defaults to session.ReadLiveRecordsFrom.
	readRecords func(rootDir, sessionID string, offset int64) ([]session.Record, int64, error)

	vp      viewport.Model
	ready   bool
	follow  bool
	offset  int64
	lines   []string
	count   int
	lastErr error
}

// NewModel builds a tail viewer over the given timeline root directory. An
// empty rootDir resolves to the default timeline directory on first read.
func NewModel(rootDir, sessionID string) Model {
	return Model{
		rootDir:     rootDir,
		sessionID:   sessionID,
		readRecords: session.ReadLiveRecordsFrom,
		follow:      true,
	}
}

// Run starts the viewer on the alternate screen and blocks until quit.
func Run(rootDir, sessionID string) error {
	program := tea.NewProgram(NewModel(rootDir, sessionID), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run tail viewer: %w", err)
	}

	return nil
}

func (m Model) Init() tea.Cmd {
	return m.poll()
}

func (m Model) poll() tea.Cmd {
	rootDir, sessionID, offset := m.rootDir, m.sessionID, m.offset
	read := m.readRecords

	return func() tea.Msg {
		records, next, err := read(rootDir, sessionID, offset)

		return recordsMsg{records: records, nextOffset: next, err: err}
	}
}

func schedule() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		bodyHeight := msg.Height - chromeHeight
		if bodyHeight < 1 {
			bodyHeight = 1
		}

		if !m.ready {
			m.vp = viewport.New(msg.Width, bodyHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = bodyHeight
		}

		m.refreshContent()

		return m, nil

	case recordsMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.offset = msg.nextOffset
		}

		if len(msg.records) > 0 {
			m.count += len(msg.records)

			width := 80
			if m.ready {
				width = m.vp.Width
			}

			for _, rec := range msg.records {
				m.lines = append(m.lines, formatRecord(rec, width)...)
			}

			m.refreshContent()
		}

		return m, schedule()

	case tickMsg:
		return m, m.poll()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.follow = !m.follow
			if m.follow && m.ready {
				m.vp.GotoBottom()
			}

			return m, nil
		case "g", "home":
			m.follow = false
			if m.ready {
				m.vp.GotoTop()
			}

			return m, nil
		case "G", "end":
			m.follow = true
			if m.ready {
				m.vp.GotoBottom()
			}

			return m, nil
		}
	}

	if !m.ready {
		return m, nil
	}

	// Scrolling away from the bottom pauses follow mode.
	var cmd tea.Cmd

	m.vp, cmd = m.vp.Update(msg)
	if !m.vp.AtBottom() {
		m.follow = false
	}

	return m, cmd
}

func (m *Model) refreshContent() {
	if !m.ready {
		return
	}

	m.vp.SetContent(strings.Join(m.lines, "\n"))

	if m.follow {
		m.vp.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.ready {
		return "loading timeline..."
	}

	return m.headerView() + "\n" + m.vp.View() + "\n" + m.footerView()
}

func (m Model) headerView() string {
	mode := styleFollow.Render("following")
	if !m.follow {
		mode = stylePaused.Render("paused")
	}

	left := fmt.Sprintf(" dockhand tail %s  %d entries  ", m.sessionID, m.count)

	return styleHeader.Render(PadRightVisible(left, m.vp.Width-VisibleWidth(mode)-1)) + mode + " "
}

func (m Model) footerView() string {
	help := " q quit  f follow  g/G top/bottom"
	if m.lastErr != nil {
		help += "  read error: " + TruncateVisible(m.lastErr.Error(), m.vp.Width-VisibleWidth(help)-2, "…")
	}

	return styleFooter.Render(PadRightVisible(help, m.vp.Width))
}

var _ tea.Model = Model{}
