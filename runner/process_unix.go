//go:build !windows

package runner

import (
	"errors"
	"os/exec"
	"path/filepath"
	"syscall"
)

func shellCmd(line string) (*exec.Cmd, error) {
	return exec.Command(filepath.Join("/", "bin", "sh"), "-c", line), nil
}

// The child leads its own process group so that a dev server and the tools it forks stop together.
func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	pid := cmd.Process.Pid

	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return cmd.Process.Signal(sig)
	}

	return err
}
