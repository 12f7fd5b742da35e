package main

import (
	"github.com/spf13/cobra"

	"github.com/dockhand-dev/dockhand/internal/doctor"
	"github.com/dockhand-dev/dockhand/internal/output"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks to identify missing or outdated agent CLIs.

Checks performed:
  - Availability and version of every registered agent CLI
  - Minimum supported CLI versions
  - Config file and timeline storage locations`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			out.Println("Dockhand Doctor")
			out.Println("===============")
			out.Println()

			runner := doctor.New()
			results := runner.Run(cmd.Context())

			maxNameLen := 0
			for _, r := range results {
				if len(r.Name) > maxNameLen {
					maxNameLen = len(r.Name)
				}
			}

			for _, r := range results {
				symbol := r.Status.Symbol()
				padding := maxNameLen - len(r.Name) + 4

				switch r.Status {
				case doctor.StatusPass:
					out.Success("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
				case doctor.StatusWarn:
					out.Warning("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
				case doctor.StatusFail:
					out.Failure("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
				default:
					out.Print("%s %-*s%s\n", symbol, len(r.Name)+padding, r.Name, r.Message)
				}

				if r.Detail != "" {
					out.Muted("    %s", r.Detail)
				}
			}

			passed, failed, warnings := doctor.Summary(results)
			out.Println()
			out.Print("%d passed", passed)
			if failed > 0 {
				out.Print(", %d failed", failed)
			}
			if warnings > 0 {
				out.Print(", %d warning(s)", warnings)
			}
			out.Println()

			return nil
		},
	}
}
