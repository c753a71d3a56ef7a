package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/browser"

	"github.com/kxue43/webapp-setup/config"
	"github.com/kxue43/webapp-setup/console"
	"github.com/kxue43/webapp-setup/monitor"
	"github.com/kxue43/webapp-setup/prompt"
	"github.com/kxue43/webapp-setup/registry"
	"github.com/kxue43/webapp-setup/setup"
	"github.com/kxue43/webapp-setup/version"
)

type (
	CLI struct {
		Config       string           `arg:"" optional:"" default:"input.txt" help:"Project descriptor, JSON unless it ends in .yaml or .yml."`
		Yes          bool             `short:"y" help:"Use the project name from the descriptor without prompting."`
		Registry     string           `placeholder:"FILE" help:"TOML file with extra or replacement project types."`
		PhaseTimeout time.Duration    `default:"15m" help:"Upper bound for template creation and dependency installation."`
		LogLevel     string           `default:"warn" enum:"debug,info,warn,error" help:"Diagnostic log level on stderr (${enum})."`
		Version      kong.VersionFlag `help:"Show version information and quit."`
	}

	streams struct {
		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer
		opener monitor.Opener
	}
)

func newParser(cli *CLI) (*kong.Kong, error) {
	return kong.New(
		cli,
		kong.Name("webapp-setup"),
		kong.Description("Generate a web application project, overlay files, install dependencies and start its dev server."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": version.FromBuildInfo()},
	)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level

	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// askName runs the prompt on its own goroutine so an interrupt still ends the wait.
func askName(ctx context.Context, p prompt.Prompter, fallback string) (string, error) {
	type answer struct {
		name string
		err  error
	}

	answers := make(chan answer, 1)

	go func() {
		name, err := p.ProjectName(fallback)
		answers <- answer{name: name, err: err}
	}()

	select {
	case a := <-answers:
		return a.name, a.err
	case <-ctx.Done():
		return "", prompt.ErrCancelled
	}
}

func (c *CLI) Run(ctx context.Context, s streams) int {
	logger := newLogger(c.LogLevel, s.stderr)

	cfg, err := config.Load(c.Config)
	if err != nil {
		_, _ = fmt.Fprintf(s.stderr, "Error: %s\n", err)

		return 1
	}

	reg, err := registry.Default()
	if err == nil && c.Registry != "" {
		err = reg.Merge(c.Registry)
	}

	if err != nil {
		_, _ = fmt.Fprintf(s.stderr, "Error: %s\n", err)

		return 1
	}

	out := console.New(s.stdout)

	name := cfg.ProjectNameOrDefault()

	if !c.Yes {
		name, err = askName(ctx, prompt.Prompter{In: s.stdin, Out: s.stdout}, name)
		if errors.Is(err, prompt.ErrCancelled) {
			out.Printf("\nOperation cancelled by user.\n")

			return 1
		} else if err != nil {
			_, _ = fmt.Fprintf(s.stderr, "Error: %s\n", err)

			return 1
		}
	}

	run := setup.New(cfg, setup.Options{
		Dir:          name,
		Registry:     reg,
		Console:      out,
		Opener:       s.opener,
		Logger:       logger,
		PhaseTimeout: c.PhaseTimeout,
	})

	err = run.Run(ctx)

	switch {
	case err == nil:
		return 0
	case errors.Is(err, setup.ErrCancelled):
		out.Printf("\nOperation cancelled by user.\n")
	default:
		out.Printf("\n")
		out.Error("Project setup failed. See error log:")
		out.Printf("-> %s\n", run.ErrorLogPath())
	}

	return 1
}

func main() {
	exitCode := 0

	defer func() { os.Exit(exitCode) }()

	var cli CLI

	parser, err := newParser(&cli)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		exitCode = 1

		return
	}

	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The opener's helper processes must not write into the dev server's output.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard

	exitCode = cli.Run(ctx, streams{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		opener: monitor.BrowserOpener{},
	})
}
