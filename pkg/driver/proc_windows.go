//go:build windows

package driver

import "os/exec"

func configureCommandProcess(cmd *exec.Cmd) {}

// Windows has no SIGTERM; both escalation steps kill the process.
func signalCommandProcess(cmd *exec.Cmd, force bool) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
