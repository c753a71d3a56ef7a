// Package setup runs the phases that turn a descriptor into a running project:
// template creation, file overlay, dependency installation and the dev server.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-retry"

	"github.com/kxue43/webapp-setup/config"
	"github.com/kxue43/webapp-setup/console"
	"github.com/kxue43/webapp-setup/monitor"
	"github.com/kxue43/webapp-setup/overlay"
	"github.com/kxue43/webapp-setup/pkgjson"
	"github.com/kxue43/webapp-setup/registry"
	"github.com/kxue43/webapp-setup/runner"
	"github.com/kxue43/webapp-setup/toolcheck"
)

type (
	Options struct {
		// Project directory. Relative paths are taken from the working directory.
		Dir      string
		Registry *registry.Registry
		Console  *console.Console
		Opener   monitor.Opener
		Logger   *slog.Logger
		Checker  toolcheck.Checker
		// Upper bound for the template and install phases. Zero means no bound.
		PhaseTimeout time.Duration
		// Grace period for a stopped dev server before it is killed.
		KillGrace time.Duration
		// First delay between install attempts.
		RetryBase time.Duration
		// Poll interval of the output monitor.
		Idle time.Duration
	}

	Setup struct {
		cfg     *config.Config
		opts    Options
		dir     string
		logger  *slog.Logger
		console *console.Console
		runner  *runner.Runner
		latch   *monitor.Latch
		errLog  *ErrorLog
		project *registry.ProjectType
		vars    registry.Vars
		env     []string
	}

	phase struct {
		name string
		run  func(context.Context) error
	}
)

const (
	defaultKillGrace = 5 * time.Second
	defaultRetryBase = time.Second
)

var (
	ErrPhase     = errors.New("setup phase failed")
	ErrCancelled = errors.New("operation cancelled by user")
)

func New(cfg *config.Config, opts Options) *Setup {
	dir := opts.Dir
	if dir == "" {
		dir = cfg.ProjectNameOrDefault()
	}

	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Console == nil {
		opts.Console = console.New(io.Discard)
	}

	if opts.Opener == nil {
		opts.Opener = monitor.BrowserOpener{}
	}

	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}

	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}

	logger := opts.Logger.With("run_id", uuid.NewString())

	return &Setup{
		cfg:     cfg,
		opts:    opts,
		dir:     dir,
		logger:  logger,
		console: opts.Console,
		runner:  runner.New(logger),
		latch:   &monitor.Latch{},
		errLog:  NewErrorLog(dir),
		vars:    registry.NewVars(dir),
	}
}

func (s *Setup) Dir() string {
	return s.dir
}

func (s *Setup) ErrorLogPath() string {
	return s.errLog.Path()
}

// Run executes every phase in order and stops at the first failure.
// Failures are appended to the error log; cancellation is not.
//
// Non-nil returned error wraps [ErrCancelled], [ErrPhase] or [runner.ErrSpawn].
func (s *Setup) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: critical error: %v", ErrPhase, r)
			s.logger.Error("recovered from panic", "panic", r)
			s.record(err)
		}
	}()

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("loaded configuration", "dir", s.dir, "config", spew.Sdump(s.cfg))
	}

	phases := []phase{
		{name: "precheck", run: s.precheck},
		{name: "template", run: s.createTemplate},
		{name: "overlay", run: s.mergeFiles},
		{name: "install", run: s.installDependencies},
		{name: "start", run: s.startApplication},
	}

	for _, p := range phases {
		s.logger.Debug("starting phase", "phase", p.name)

		if ctx.Err() != nil {
			return ErrCancelled
		}

		if err = p.run(ctx); err == nil {
			continue
		}

		if errors.Is(err, ErrCancelled) {
			s.logger.Info("run cancelled", "phase", p.name)

			return err
		}

		s.logger.Error("phase failed", "phase", p.name, "error", err)
		s.record(err)

		return err
	}

	return nil
}

func (s *Setup) record(err error) {
	if logErr := s.errLog.Append(err.Error()); logErr != nil {
		s.logger.Error("failed to write error log", "error", logErr)
	}
}

func (s *Setup) precheck(ctx context.Context) error {
	pt, err := s.opts.Registry.Lookup(s.cfg.ProjectType)
	if err != nil {
		// reported by the template phase
		return nil
	}

	s.project = pt

	if s.cfg.EnvFile != "" {
		vars, err := godotenv.Read(s.cfg.Resolve(s.cfg.EnvFile))
		if err != nil {
			return fmt.Errorf("%w: failed to read env_file %q: %s", ErrPhase, s.cfg.EnvFile, err.Error())
		}

		for k, v := range vars {
			s.env = append(s.env, k+"="+v)
		}

		slices.Sort(s.env)
	}

	reqs := make([]toolcheck.Requirement, 0, len(pt.Tools))

	for _, tool := range pt.Tools {
		tool, err = tool.Render(s.vars)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrPhase, err.Error())
		}

		reqs = append(reqs, toolcheck.Requirement{Name: tool.Name, MinVersion: tool.MinVersion, VersionArgs: tool.VersionArgs})
	}

	for _, problem := range s.opts.Checker.Check(ctx, reqs) {
		s.logger.Warn("tool check", "error", problem)
		s.console.Warn("Warning: %s", problem.Error())
	}

	return nil
}

func (s *Setup) createTemplate(ctx context.Context) error {
	s.console.Printf("\n")
	s.console.Heading("Creating %s project...", s.cfg.ProjectType)

	if s.project == nil {
		_, err := s.opts.Registry.Lookup(s.cfg.ProjectType)

		return fmt.Errorf("%w: %w", ErrPhase, err)
	}

	if s.project.BuiltinTemplate != "" {
		fn, ok := registry.Builtin(s.project.BuiltinTemplate)
		if !ok {
			return fmt.Errorf("%w: unknown builtin template %q", ErrPhase, s.project.BuiltinTemplate)
		}

		s.console.Printf("Generating project template...\n")

		if err := fn(ctx, s.project, s.vars); err != nil {
			return fmt.Errorf("%w: template: %w", ErrPhase, err)
		}

		return nil
	}

	cmd, err := s.project.Template.Render(s.vars)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPhase, err.Error())
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPhase, err.Error())
	}

	return s.runBounded(ctx, runner.NewRunArgs(cmd).WithCwd(wd).WithEnv(s.env), "Generating project template...")
}

func (s *Setup) mergeFiles(ctx context.Context) error {
	s.console.Printf("\n")
	s.console.Heading("Copying configuration files into project...")

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("%w: failed to create project directory: %s", ErrPhase, err.Error())
	}

	if s.cfg.OverlayDir != "" {
		if err := overlay.CopyDir(s.cfg.Resolve(s.cfg.OverlayDir), s.dir); err != nil {
			return fmt.Errorf("%w: %w", ErrPhase, err)
		}

		s.console.Printf("Copied: %s\n", s.cfg.OverlayDir)
	}

	err := overlay.Apply(ctx, s.dir, s.cfg.Files, func(rel string) {
		s.console.Printf("Updated: %s\n", rel)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPhase, err)
	}

	return nil
}

func (s *Setup) installDependencies(ctx context.Context) error {
	s.console.Printf("\n")
	s.console.Heading("Installing dependencies...")

	if len(s.cfg.Dependencies) == 0 {
		return nil
	}

	marker := s.cfg.InstallMarker
	if marker == "" {
		marker = s.project.InstallMarker
	}

	if marker != "" {
		if _, err := os.Stat(filepath.Join(s.dir, marker)); err == nil {
			s.console.Printf("Dependencies already installed.\n")

			return nil
		}
	}

	if s.project.Install.IsZero() {
		return fmt.Errorf("%w: project type %s cannot install dependencies", ErrPhase, s.project.Name)
	}

	cmd, err := s.project.Install.Render(s.vars)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPhase, err.Error())
	}

	args := runner.NewRunArgs(cmd.WithArgs(s.cfg.Dependencies...)).WithCwd(s.dir).WithEnv(s.env)
	backoff := retry.WithMaxRetries(s.cfg.InstallRetries, retry.NewExponential(s.opts.RetryBase))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.runBounded(ctx, args, "Installing required packages...")
		if errors.Is(err, ErrPhase) && ctx.Err() == nil {
			s.logger.Warn("install attempt failed", "error", err)

			return retry.RetryableError(err)
		}

		return err
	})
	if ctx.Err() != nil {
		return ErrCancelled
	}

	return err
}

// runBounded runs a short-lived command to completion with the output monitor on the calling goroutine.
func (s *Setup) runBounded(ctx context.Context, args runner.RunArgs, banner string) error {
	proc, err := s.runner.Start(args)
	if err != nil {
		return fmt.Errorf("command failed: %s\nerror: %w", args.Command.String(), err)
	}

	defer func() { _ = proc.Close() }()

	s.console.Printf("%s\n", banner)

	phaseCtx := ctx

	if s.opts.PhaseTimeout > 0 {
		var cancel context.CancelFunc

		phaseCtx, cancel = context.WithTimeout(ctx, s.opts.PhaseTimeout)
		defer cancel()
	}

	result := s.monitor().Run(phaseCtx, proc)

	switch {
	case ctx.Err() != nil:
		return ErrCancelled
	case result.State == monitor.TimedOut:
		return fmt.Errorf("%w: command timed out after %s: %s\n%s", ErrPhase, s.opts.PhaseTimeout, args.Command.String(), result.Transcript)
	case !result.Success():
		return fmt.Errorf("%w: command failed with exit code %d: %s\n%s", ErrPhase, result.ExitCode, args.Command.String(), result.Transcript)
	}

	return nil
}

func (s *Setup) monitor() *monitor.Monitor {
	return &monitor.Monitor{
		Echo:      s.console,
		Latch:     s.latch,
		Opener:    s.opts.Opener,
		Logger:    s.logger,
		Idle:      s.opts.Idle,
		KillGrace: s.opts.KillGrace,
	}
}

func (s *Setup) startApplication(ctx context.Context) error {
	s.console.Printf("\n")
	s.console.Success("Project setup completed successfully.")
	s.console.Printf("Project directory: %s\n", s.dir)
	s.console.Printf("\n")
	s.console.Heading("Launching development server...")

	if s.project.Family == registry.Node && s.project.StartScript != "" {
		ok, err := pkgjson.HasScript(ctx, s.dir, s.project.StartScript)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrPhase, err.Error())
		} else if !ok {
			return fmt.Errorf("%w: %s declares no %q script", ErrPhase, pkgjson.FileName, s.project.StartScript)
		}
	}

	cmd, err := s.project.Start.Render(s.vars)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPhase, err.Error())
	}

	args := runner.NewRunArgs(cmd).WithCwd(s.dir).WithEnv(s.env)

	proc, err := s.runner.Start(args)
	if err != nil {
		return fmt.Errorf("command failed: %s\nerror: %w", cmd.String(), err)
	}

	defer func() { _ = proc.Close() }()

	type served struct {
		result monitor.Result
		err    error
	}

	outcomes := make(chan served, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("recovered from panic in output monitor", "panic", r)

				_ = proc.Kill()

				outcomes <- served{err: fmt.Errorf("%w: critical error: %v", ErrPhase, r)}
			}
		}()

		outcomes <- served{result: s.monitor().Run(context.WithoutCancel(ctx), proc)}
	}()

	s.console.Printf("\nPress Ctrl+C to stop the server.\n")

	select {
	case o := <-outcomes:
		switch {
		case o.err != nil:
			return o.err
		case ctx.Err() != nil:
			// the server went down together with the interrupt
			s.console.Printf("\nServer has been stopped.\n")

			return ErrCancelled
		case !o.result.Success():
			return fmt.Errorf("%w: development server exited with code %d: %s", ErrPhase, o.result.ExitCode, cmd.String())
		}

		return nil
	case <-ctx.Done():
	}

	if err = proc.Terminate(); err != nil {
		s.logger.Warn("failed to terminate development server", "error", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(s.opts.KillGrace):
		_ = proc.Kill()
	}

	<-outcomes

	s.console.Printf("\nServer has been stopped.\n")

	return ErrCancelled
}
