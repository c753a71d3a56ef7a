//go:build windows

package runner

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func shellPath() (string, error) {
	dir := os.Getenv("SYSTEMROOT")
	if dir == "" {
		return "", errors.New("environment variable 'SYSTEMROOT' has no value")
	}

	return filepath.Join(dir, "System32", "cmd.exe"), nil
}

func shellCmd(line string) (*exec.Cmd, error) {
	shell, err := shellPath()
	if err != nil {
		return nil, err
	}

	return exec.Command(shell, "/c", strings.TrimSpace(line)), nil
}

func configure(_ *exec.Cmd) {}

func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
