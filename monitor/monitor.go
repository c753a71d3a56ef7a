// Package monitor streams the output of a child process to the console and opens the
// application in the browser the first time a dev server announces its URL.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

type (
	State int

	// Stream is the part of a process handle the monitor needs.
	Stream interface {
		// ReadLine never blocks. It returns io.EOF once the output is drained and any other error when no line is ready.
		ReadLine() (string, error)
		Exited() bool
		Wait() int
		Terminate() error
		Kill() error
	}

	Monitor struct {
		Echo   io.Writer
		Latch  *Latch
		Opener Opener
		Logger *slog.Logger
		// Pause between polls while the child is silent.
		Idle time.Duration
		// How long to wait for buffered output after the child exited.
		DrainTimeout time.Duration
		// How long a terminated child gets before it is killed.
		KillGrace time.Duration
	}

	Result struct {
		State      State
		ExitCode   int
		Transcript string
		// URL is set when this invocation opened the browser.
		URL string
	}
)

const (
	Streaming State = iota
	Done
	TimedOut
)

const (
	DefaultIdle         = 100 * time.Millisecond
	DefaultDrainTimeout = 2 * time.Second
	DefaultKillGrace    = 5 * time.Second

	drainPoll = 10 * time.Millisecond
)

func (s State) String() string {
	switch s {
	case Streaming:
		return "STREAMING"
	case Done:
		return "DONE"
	case TimedOut:
		return "TIMED_OUT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (r Result) Success() bool {
	return r.State == Done && r.ExitCode == 0
}

// Run consumes s until the child exits. When ctx ends first the child is asked to terminate,
// killed after KillGrace, and its remaining output is still collected.
// The result is TimedOut only when ctx hit its deadline.
func (m *Monitor) Run(ctx context.Context, s Stream) Result {
	m.setDefaults()

	var (
		transcript strings.Builder
		result     = Result{State: Streaming}
		eof        bool
		timedOut   bool
		killAt     <-chan time.Time
	)

	done := ctx.Done()

	stop := func() {
		timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)

		m.Logger.Info("stopping command", "reason", ctx.Err())

		if err := s.Terminate(); err != nil {
			m.Logger.Warn("failed to terminate command", "err", err)
		}

		done = nil
		killAt = time.After(m.KillGrace)
	}

	kill := func() {
		m.Logger.Warn("command ignored the terminate request, killing it")

		if err := s.Kill(); err != nil {
			m.Logger.Warn("failed to kill command", "err", err)
		}

		killAt = nil
	}

	for {
		if !eof {
			line, err := s.ReadLine()
			if err == nil {
				m.consume(line, &transcript, &result)

				// A child that never pauses still has to notice ctx.
				select {
				case <-done:
					stop()
				case <-killAt:
					kill()
				default:
				}

				continue
			}

			eof = errors.Is(err, io.EOF)
		}

		if s.Exited() {
			if !eof {
				m.drain(s, &transcript, &result)
			}

			break
		}

		select {
		case <-done:
			stop()
		case <-killAt:
			kill()
		case <-time.After(m.Idle):
		}
	}

	result.ExitCode = s.Wait()
	result.Transcript = transcript.String()
	result.State = Done

	if timedOut {
		result.State = TimedOut
	}

	return result
}

func (m *Monitor) setDefaults() {
	if m.Echo == nil {
		m.Echo = io.Discard
	}

	if m.Logger == nil {
		m.Logger = slog.Default()
	}

	if m.Idle <= 0 {
		m.Idle = DefaultIdle
	}

	if m.DrainTimeout <= 0 {
		m.DrainTimeout = DefaultDrainTimeout
	}

	if m.KillGrace <= 0 {
		m.KillGrace = DefaultKillGrace
	}
}

// The child may exit before its last writes are consumed.
func (m *Monitor) drain(s Stream, transcript *strings.Builder, result *Result) {
	deadline := time.After(m.DrainTimeout)

	for {
		line, err := s.ReadLine()
		if err == nil {
			m.consume(line, transcript, result)

			continue
		} else if errors.Is(err, io.EOF) {
			return
		}

		select {
		case <-deadline:
			// A grandchild can keep the pipe open long after the child is gone.
			m.Logger.Debug("output stream still open after exit, giving up on it")

			return
		case <-time.After(drainPoll):
		}
	}
}

func (m *Monitor) consume(line string, transcript *strings.Builder, result *Result) {
	_, _ = io.WriteString(m.Echo, line)

	transcript.WriteString(line)

	if m.Latch == nil || m.Opener == nil || m.Latch.Taken() {
		return
	}

	url, ok := ExtractReadyURL(line)
	if !ok || !m.Latch.TryAcquire() {
		return
	}

	result.URL = url

	if !strings.HasSuffix(line, "\n") {
		_, _ = io.WriteString(m.Echo, "\n")
	}

	_, _ = fmt.Fprintf(m.Echo, "\nOpening application in browser: %s\n", url)

	if err := m.Opener.OpenURL(url); err != nil {
		m.Logger.Warn("failed to open browser", "url", url, "err", err)
	}
}
