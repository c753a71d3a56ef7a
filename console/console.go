package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

type (
	// Console serializes writes from the orchestrator and the output monitor onto one destination.
	Console struct {
		dest    io.Writer
		mux     sync.Mutex
		heading lipgloss.Style
		warning lipgloss.Style
		failure lipgloss.Style
		success lipgloss.Style
	}
)

var palette = struct {
	magenta lipgloss.Color
	yellow  lipgloss.Color
	red     lipgloss.Color
	green   lipgloss.Color
}{
	magenta: lipgloss.Color("212"),
	yellow:  lipgloss.Color("184"),
	red:     lipgloss.Color("196"),
	green:   lipgloss.Color("42"),
}

// New styles output for dest. Colors are dropped when dest is not a terminal.
func New(dest io.Writer) *Console {
	r := lipgloss.NewRenderer(dest)

	return &Console{
		dest:    dest,
		heading: r.NewStyle().Bold(true).Foreground(palette.magenta),
		warning: r.NewStyle().Foreground(palette.yellow),
		failure: r.NewStyle().Bold(true).Foreground(palette.red),
		success: r.NewStyle().Foreground(palette.green),
	}
}

func (c *Console) Write(p []byte) (n int, err error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.dest.Write(p)
}

func (c *Console) line(style lipgloss.Style, format string, v ...any) {
	c.mux.Lock()
	defer c.mux.Unlock()

	_, _ = io.WriteString(c.dest, style.Render(fmt.Sprintf(format, v...))+"\n")
}

func (c *Console) Heading(format string, v ...any) {
	c.line(c.heading, format, v...)
}

func (c *Console) Printf(format string, v ...any) {
	c.mux.Lock()
	defer c.mux.Unlock()

	_, _ = fmt.Fprintf(c.dest, format, v...)
}

func (c *Console) Warn(format string, v ...any) {
	c.line(c.warning, format, v...)
}

func (c *Console) Error(format string, v ...any) {
	c.line(c.failure, format, v...)
}

func (c *Console) Success(format string, v ...any) {
	c.line(c.success, format, v...)
}
