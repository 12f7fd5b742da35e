//go:build unix

package executor

import (
	"errors"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// sendSignal targets the process group when one exists, falling back to
// the process itself. ESRCH means the target is already gone.
func sendSignal(pid, pgid int, sig unix.Signal) {
	if pgid > 0 {
		if err := unix.Kill(-pgid, sig); err == nil || errors.Is(err, unix.ESRCH) {
			return
		}
	}

	if pid <= 0 {
		return
	}

	_ = unix.Kill(pid, sig)
}

// terminate escalates from SIGTERM to SIGKILL if the process does not exit
// within the grace period. waitDoneCh closes when cmd.Wait returns.
func terminate(cmd *exec.Cmd, pgid int, waitDoneCh chan struct{}) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	sendSignal(cmd.Process.Pid, pgid, unix.SIGTERM)

	select {
	case <-waitDoneCh:
	case <-time.After(2 * time.Second):
		sendSignal(cmd.Process.Pid, pgid, unix.SIGKILL)

		if waitDoneCh != nil {
			select {
			case <-waitDoneCh:
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// processGroup returns the pgid for a started command, or zero if it
// cannot be resolved.
func processGroup(cmd *exec.Cmd) int {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return 0
	}

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		return 0
	}

	return pgid
}
