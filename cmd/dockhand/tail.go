package main

import (
	"time"

	"github.com/spf13/cobra"

	clierrors "github.com/dockhand-dev/dockhand/internal/errors"
	"github.com/dockhand-dev/dockhand/internal/output"
	"github.com/dockhand-dev/dockhand/internal/session"
	"github.com/dockhand-dev/dockhand/internal/tui"
)

func newTailCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "tail [session-id]",
		Short: "Follow a session timeline",
		Long: `Open a live viewer over a stored session timeline. With no session id,
the most recent sessions are listed instead.

The viewer polls the session's live record file, so it can follow a panel
that is still running in another terminal.`,
		Example: `  dockhand tail
  dockhand tail 4fbc21e8-95b1-4bd4-8f11-87f0f9e4c723`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if len(args) == 0 {
				return listSessions(out, dir)
			}

			sessionID := args[0]

			sessions, err := session.ListSessions(dir)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Could not list stored sessions", err)
			}

			found := false
			for _, s := range sessions {
				if s.SessionID == sessionID {
					found = true
					break
				}
			}

			if !found {
				return clierrors.SessionNotFound(sessionID)
			}

			return tui.Run(dir, sessionID)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Timeline root directory (default: dockhand config dir)")

	return cmd
}

func listSessions(out *output.Writer, dir string) error {
	sessions, err := session.ListSessions(dir)
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Could not list stored sessions", err)
	}

	if out.JSON {
		return out.PrintJSON(sessions)
	}

	if len(sessions) == 0 {
		out.Muted("No stored sessions.")
		out.Info("Start one with 'dockhand run <agent>'")

		return nil
	}

	const maxListed = 20

	for i, s := range sessions {
		if i >= maxListed {
			out.Muted("... and %d more", len(sessions)-maxListed)
			break
		}

		state := "open"
		if s.ClosedAt != nil {
			state = "closed"
		}

		out.Print("%s  %-7s %-6s %s\n", s.SessionID, s.Tool, state, s.StartedAt.Local().Format(time.RFC3339))
	}

	return nil
}
