// Package doctor provides diagnostic checks for Dockhand CLI health.
//
// This package implements a check framework that validates:
//   - Agent CLI availability and version for every registered provider
//   - Minimum supported CLI versions
//   - Config file and timeline storage locations
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/dockhand-dev/dockhand/internal/executor"
	"github.com/dockhand-dev/dockhand/internal/paths"
	"github.com/dockhand-dev/dockhand/internal/session"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// Result holds the outcome of a single check.
type Result struct {
	Name    string
	Status  Status
	Message string
	Detail  string // Optional additional detail
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a new diagnostic runner covering every registered agent
// provider plus local storage checks.
func New() *Runner {
	r := &Runner{}

	for _, name := range executor.ProviderNames() {
		spec, ok := executor.GetProvider(name)
		if !ok {
			continue
		}

		r.AddCheck(spec.DisplayName, checkAgentCLI(name))
	}

	r.AddCheck("Config File", checkConfigFile)
	r.AddCheck("Timeline Storage", checkTimelineStorage)

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

// checkAgentCLI verifies one agent CLI is installed and recent enough.
func checkAgentCLI(name string) Check {
	return func(ctx context.Context) Result {
		spec, ok := executor.GetProvider(name)
		if !ok {
			return Result{
				Status:  StatusFail,
				Message: "Unknown provider",
			}
		}

		path, err := exec.LookPath(spec.Binary)
		if err != nil {
			return Result{
				Status:  StatusFail,
				Message: "Not found in PATH",
				Detail:  fmt.Sprintf("Install the %s CLI (%s)", spec.DisplayName, spec.Binary),
			}
		}

		installed, probeErr := executor.ProbeVersion(spec)
		if probeErr != nil {
			return Result{
				Status:  StatusWarn,
				Message: fmt.Sprintf("Found at %s, version unknown", path),
				Detail:  probeErr.Error(),
			}
		}

		meets, _, err := executor.MeetsMinVersion(spec)
		if err != nil {
			return Result{
				Status:  StatusWarn,
				Message: fmt.Sprintf("v%s at %s", installed, path),
				Detail:  err.Error(),
			}
		}

		if !meets {
			return Result{
				Status:  StatusFail,
				Message: fmt.Sprintf("v%s is too old", installed),
				Detail:  fmt.Sprintf("Dockhand requires %s >= %s", spec.Binary, spec.MinVersion),
			}
		}

		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("v%s at %s", installed, path),
		}
	}
}

// checkConfigFile reports where configuration is loaded from.
func checkConfigFile(ctx context.Context) Result {
	file, err := paths.ConfigFile()
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: "Cannot resolve config path",
			Detail:  err.Error(),
		}
	}

	if _, statErr := os.Stat(file); statErr != nil {
		return Result{
			Status:  StatusPass,
			Message: "Using defaults",
			Detail:  fmt.Sprintf("Create %s to customize", file),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: file,
	}
}

// checkTimelineStorage verifies the timeline directory is usable and counts
// stored sessions.
func checkTimelineStorage(ctx context.Context) Result {
	dir, err := paths.TimelineDir()
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: "Cannot resolve timeline directory",
			Detail:  err.Error(),
		}
	}

	sessions, err := session.ListSessions(dir)
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: dir,
			Detail:  err.Error(),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (%d stored sessions)", dir, len(sessions)),
	}
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

const (
	checkMark   = "✓" // ✓
	xMark       = "✗" // ✗
	warningMark = "⚠" // ⚠
)
