//go:build unix

package gitwork

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// startNewProcessGroup puts cmd in its own process group so a git helper
// (ssh, git-remote-https) forked underneath it can be killed as a unit.
func startNewProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup signals the whole process group on timeout, since
// context.CancelFunc alone only reaches the immediate child, not any
// subprocess it spawned (e.g. the actual ssh transport for git-over-ssh).
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
