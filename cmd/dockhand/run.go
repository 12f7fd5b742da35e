package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dockhand-dev/dockhand/internal/config"
	"github.com/dockhand-dev/dockhand/internal/entry"
	clierrors "github.com/dockhand-dev/dockhand/internal/errors"
	"github.com/dockhand-dev/dockhand/internal/executor"
	"github.com/dockhand-dev/dockhand/internal/observability"
	"github.com/dockhand-dev/dockhand/internal/output"
	"github.com/dockhand-dev/dockhand/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		prompt   string
		model    string
		resume   string
		workDir  string
		sandbox  string
		approval string
		planMode bool
		noStore  bool
	)

	cmd := &cobra.Command{
		Use:   "run <agent>",
		Short: "Run an agent CLI as an interactive panel",
		Long: `Spawn an agent CLI as a managed subprocess and drive it interactively.
Each line typed on stdin is delivered as a user turn; normalized timeline
entries stream back as the agent works. Ctrl+C interrupts the current turn;
a second Ctrl+C stops the panel.

Timelines persist under the dockhand config directory and can be followed
with 'dockhand tail'.`,
		Example: `  dockhand run claude
  dockhand run codex --prompt "fix the failing test" --plan
  dockhand run codex --resume <conversation-id>
  dockhand run gemini --model gemini-2.5-pro`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, args[0], runOptions{
				prompt:   prompt,
				model:    model,
				resume:   resume,
				workDir:  workDir,
				sandbox:  sandbox,
				approval: approval,
				planMode: planMode,
				noStore:  noStore,
			})
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Initial prompt delivered after spawn")
	cmd.Flags().StringVar(&model, "model", "", "Model override passed to the agent CLI")
	cmd.Flags().StringVar(&resume, "resume", "", "Resume token from a previous session")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Working directory for the agent (default: current)")
	cmd.Flags().StringVar(&sandbox, "sandbox", "", "Sandbox policy for agents that support one")
	cmd.Flags().StringVar(&approval, "approval-policy", "", "Approval policy for agents that support one")
	cmd.Flags().BoolVar(&planMode, "plan", false, "Plan mode: force a read-only sandbox")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist the timeline to disk")

	return cmd
}

type runOptions struct {
	prompt   string
	model    string
	resume   string
	workDir  string
	sandbox  string
	approval string
	planMode bool
	noStore  bool
}

func runAgent(cmd *cobra.Command, agentType string, opts runOptions) error {
	ctx := cmd.Context()
	out := output.FromContext(ctx)
	logger := observability.FromContext(ctx)

	info, ok := executor.Lookup(agentType)
	if !ok {
		return clierrors.InvalidAgentType(agentType, executor.RegisteredNames())
	}

	if !info.Available() {
		return clierrors.AgentNotAvailable(agentType)
	}

	if spec, specOK := executor.GetProvider(agentType); specOK && spec.MinVersion != "" {
		meets, installed, err := executor.MeetsMinVersion(spec)
		if err == nil && !meets && installed != nil {
			return clierrors.AgentVersionTooOld(agentType, installed.String(), spec.MinVersion)
		}
	}

	if opts.workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}

		opts.workDir = cwd
	}

	cfg := config.Load()
	sessions := session.NewMemoryManager()

	sessionID := uuid.NewString()
	panelID := uuid.NewString()

	sink := &runSink{out: out, sessions: sessions, logger: logger}

	if !opts.noStore {
		store, err := session.NewStore(session.StoreOptions{
			SessionID: sessionID,
			Tool:      agentType,
			Dir:       cfg.TimelineDir(),
			RingLines: cfg.TimelineRingLines(),
		})
		if err != nil {
			return clierrors.ConfigFailed("open timeline store", err)
		}

		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				logger.Warn("close timeline store", "error", closeErr.Error())
			}
		}()

		sink.store = store

		out.Muted("session %s (follow with 'dockhand tail %s')", sessionID, sessionID)
	}

	sessions.CreateSession(sessionID, panelID, agentType, opts.workDir)

	exec := info.New(executor.Deps{
		Sink:     sink,
		Sessions: sessions,
		Config:   cfg,
		Logger:   logger,
	})

	defer exec.CleanupResources(panelID)

	spawnOpts := &executor.SpawnOptions{
		PanelID:        panelID,
		SessionID:      sessionID,
		WorkDir:        opts.workDir,
		Prompt:         opts.prompt,
		ResumeToken:    opts.resume,
		Model:          opts.model,
		SandboxPolicy:  opts.sandbox,
		ApprovalPolicy: opts.approval,
		PlanMode:       opts.planMode,
	}

	spin := out.Spinner(fmt.Sprintf("starting %s", agentType))
	spin.Start()
	if err := exec.Spawn(ctx, spawnOpts); err != nil {
		spin.StopWithFailure("")
		return err
	}
	spin.Stop()

	out.Muted("%s running; type a message and press enter (ctrl+d to quit)", agentType)

	// First interrupt stops the current turn, second stops the panel.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			lines <- scanner.Text()
		}

		readErr <- scanner.Err()
	}()

	interrupted := false

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGTERM || interrupted {
				out.Println()
				out.Muted("stopping %s", agentType)

				return nil
			}

			interrupted = true

			if err := exec.Interrupt(ctx, panelID); err != nil {
				logger.Warn("interrupt failed", "error", err.Error())
			}

			out.Muted("interrupt sent; ctrl+c again to stop")

		case line, open := <-lines:
			if !open {
				if err := <-readErr; err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read stdin: %w", err)
				}

				return nil
			}

			interrupted = false

			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			if err := exec.SendInput(ctx, panelID, text); err != nil {
				if handleErr := handleSendError(out, err); handleErr != nil {
					return handleErr
				}
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleSendError reports a failed send without killing the panel unless the
// process itself is gone.
func handleSendError(out *output.Writer, err error) error {
	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) && cliErr.Code == clierrors.ExitExecution {
		return err
	}

	out.Failure("send failed: %s", err.Error())

	return nil
}

// runSink bridges executor emissions to the console and the timeline store.
type runSink struct {
	out      *output.Writer
	sessions session.Manager
	logger   interface {
		Warn(msg string, args ...any)
	}

	mu    sync.Mutex
	store *session.Store
}

var _ executor.Sink = (*runSink)(nil)

func (s *runSink) Entry(panelID, sessionID string, e entry.Entry) {
	s.mu.Lock()
	if s.store != nil {
		if err := s.store.Append(panelID, e); err != nil {
			s.logger.Warn("persist timeline entry", "error", err.Error())
		}
	}
	s.mu.Unlock()

	// Streaming previews are skipped on the console; the terminal re-emit
	// arrives with the same id and full content.
	if e.Streaming() {
		return
	}

	s.out.Entry(e)
}

func (s *runSink) Output(panelID, sessionID string, o executor.Output) {
	data := strings.TrimRight(o.Data, "\n")
	if data == "" {
		return
	}

	s.out.Muted("%s", data)
}

func (s *runSink) AgentSessionID(panelID, sessionID, agentSessionID string) {
	if err := s.sessions.SetAgentSessionID(sessionID, agentSessionID); err != nil {
		s.logger.Warn("record agent session id", "error", err.Error())
	}

	s.out.Muted("resume token: %s", agentSessionID)
}
