package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

type (
	Runner struct {
		logger *slog.Logger
	}

	// Process is the handle of one started command.
	Process struct {
		cmd      *exec.Cmd
		pipe     *os.File
		lines    chan string
		done     chan struct{}
		closed   chan struct{}
		once     sync.Once
		exitCode int
	}
)

const lineBuffer = 256

var (
	ErrSpawn  = errors.New("failed to start command")
	ErrNoLine = errors.New("no line available yet")
)

func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{logger: logger}
}

// Start spawns the command described by args with stdout and stderr sharing one pipe.
//
// Non-nil returned error wraps [ErrSpawn].
func (r *Runner) Start(args RunArgs) (*Process, error) {
	cmd, err := args.Command.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrSpawn, args.Command.String(), err.Error())
	}

	cmd.Dir = args.Cwd
	cmd.Env = appendEnv(args.Env)

	configure(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: failed to create output pipe: %s", ErrSpawn, args.Command.String(), err.Error())
	}

	cmd.Stdout = pw
	cmd.Stderr = pw

	r.logger.Debug("starting command", "cmd", args.Command.String(), "cwd", args.Cwd)

	if err = cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()

		return nil, fmt.Errorf("%w: %q: %s", ErrSpawn, args.Command.String(), err.Error())
	}

	// The child holds its own copy of the write end.
	_ = pw.Close()

	p := &Process{
		cmd:    cmd,
		pipe:   pr,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	go p.read()
	go p.wait(r.logger)

	return p, nil
}

func (p *Process) read() {
	defer close(p.lines)

	br := bufio.NewReader(p.pipe)

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case p.lines <- line:
			case <-p.closed:
				return
			}
		}

		if err != nil {
			return
		}
	}
}

func (p *Process) wait(logger *slog.Logger) {
	err := p.cmd.Wait()

	p.exitCode = -1
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		logger.Warn("waiting for command failed", "pid", p.Pid(), "err", err)
	}

	logger.Debug("command exited", "pid", p.Pid(), "code", p.exitCode)

	close(p.done)
}

// ReadLine returns the next line including its terminator, or the unterminated last fragment.
// It never blocks: [ErrNoLine] means nothing is buffered yet, [io.EOF] means the stream is closed and drained.
func (p *Process) ReadLine() (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}

		return line, nil
	default:
		return "", ErrNoLine
	}
}

func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit code, -1 when it was killed by a signal.
func (p *Process) Wait() int {
	<-p.done

	return p.exitCode
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

// Terminate asks the process to stop. It is a no-op once the process has exited.
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}

	return terminate(p.cmd)
}

func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}

	return kill(p.cmd)
}

// Close releases the output pipe. Lines not yet read are discarded.
func (p *Process) Close() error {
	var err error

	p.once.Do(func() {
		close(p.closed)

		err = p.pipe.Close()
	})

	return err
}
