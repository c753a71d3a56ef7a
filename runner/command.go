// Package runner spawns external commands with their stdout and stderr merged into one line stream.
package runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

type (
	// Command is either an argument vector executed directly or a string handed to the platform shell.
	// Exactly one of the two fields is set.
	Command struct {
		Argv  []string
		Shell string
	}

	// RunArgs exposes the command and the options used to start it.
	RunArgs struct {
		Command Command
		Cwd     string
		Env     []string
	}
)

var (
	ErrEmptyCommand = errors.New("empty command")
)

func Argv(argv ...string) Command {
	return Command{Argv: argv}
}

func Shell(line string) Command {
	return Command{Shell: line}
}

// ParseCommand splits a shell-like string into an argument vector. No shell is involved when the result runs.
func ParseCommand(line string) (Command, error) {
	argv, err := shellquote.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("failed to split %q into arguments: %w", line, err)
	}

	if len(argv) == 0 {
		return Command{}, fmt.Errorf("%w: %q", ErrEmptyCommand, line)
	}

	return Argv(argv...), nil
}

func (c Command) IsZero() bool {
	return len(c.Argv) == 0 && strings.TrimSpace(c.Shell) == ""
}

// WithArgs returns a copy of c with extra arguments appended. Shell commands get them quoted.
func (c Command) WithArgs(args ...string) Command {
	if len(args) == 0 {
		return c
	}

	if c.Shell != "" {
		return Command{Shell: c.Shell + " " + shellquote.Join(args...)}
	}

	argv := make([]string, 0, len(c.Argv)+len(args))
	argv = append(argv, c.Argv...)
	argv = append(argv, args...)

	return Command{Argv: argv}
}

func (c Command) String() string {
	if c.Shell != "" {
		return c.Shell
	}

	return shellquote.Join(c.Argv...)
}

func (c Command) build() (*exec.Cmd, error) {
	switch {
	case strings.TrimSpace(c.Shell) != "":
		return shellCmd(c.Shell)
	case len(c.Argv) > 0:
		return exec.Command(c.Argv[0], c.Argv[1:]...), nil
	default:
		return nil, ErrEmptyCommand
	}
}

func NewRunArgs(cmd Command) RunArgs {
	return RunArgs{Command: cmd}
}

// Updates the current working directory (cwd) for the command
func (b RunArgs) WithCwd(cwd string) RunArgs {
	b.Cwd = cwd

	return b
}

// Updates the additional environment variables for the command
func (b RunArgs) WithEnv(env []string) RunArgs {
	b.Env = env

	return b
}

func appendEnv(env []string) []string {
	if len(env) > 0 {
		return append(os.Environ(), env...)
	}

	return nil
}
