// Package prompt asks the user to confirm or override the project name.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

type (
	// Prompter reads a project name. The TUI is used when both ends are terminals.
	Prompter struct {
		In  io.Reader
		Out io.Writer
	}

	nameModel struct {
		help      help.Model
		input     textinput.Model
		fallback  string
		value     string
		cancelled bool
	}

	nameKeyMap struct{}
)

var (
	ErrCancelled = errors.New("prompt cancelled")

	keys = struct {
		submit key.Binding
		quit   key.Binding
	}{
		submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("↵", "confirm"),
		),
		quit: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("esc", "cancel"),
		),
	}

	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
)

func (nameKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{keys.submit, keys.quit}
}

func (nameKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{keys.submit, keys.quit}}
}

// ProjectName returns the name typed by the user, or fallback when the answer is blank.
//
// Non-nil returned error wraps [ErrCancelled] when the user aborted the prompt.
func (p Prompter) ProjectName(fallback string) (string, error) {
	if isTerminal(p.In) && isTerminal(p.Out) {
		return p.interactive(fallback)
	}

	return p.line(fallback)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p Prompter) line(fallback string) (string, error) {
	_, err := fmt.Fprintf(p.Out, "Enter project name [%s]: ", fallback)
	if err != nil {
		return "", fmt.Errorf("failed to prompt for project name: %w", err)
	}

	answer, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read project name from user input: %w", err)
	}

	if name := strings.TrimSpace(answer); name != "" {
		return name, nil
	}

	return fallback, nil
}

func newNameModel(fallback string) nameModel {
	ti := textinput.New()
	ti.Placeholder = fallback
	ti.CharLimit = 128
	ti.Width = 40
	ti.Focus()

	return nameModel{help: help.New(), input: ti, fallback: fallback}
}

func (p Prompter) interactive(fallback string) (string, error) {
	final, err := tea.NewProgram(newNameModel(fallback), tea.WithInput(p.In), tea.WithOutput(p.Out)).Run()
	if err != nil {
		return "", fmt.Errorf("failed to run project name prompt: %w", err)
	}

	m, _ := final.(nameModel)
	if m.cancelled {
		return "", ErrCancelled
	}

	return m.value, nil
}

func (m nameModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m nameModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.quit):
			m.cancelled = true

			return m, tea.Quit
		case key.Matches(msg, keys.submit):
			m.value = strings.TrimSpace(m.input.Value())
			if m.value == "" {
				m.value = m.fallback
			}

			return m, tea.Quit
		default:
		}
	}

	var cmd tea.Cmd

	m.input, cmd = m.input.Update(msg)

	return m, cmd
}

func (m nameModel) View() string {
	if m.value != "" || m.cancelled {
		return ""
	}

	var b strings.Builder

	b.WriteString(labelStyle.Render("Project name"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(m.help.View(nameKeyMap{}))
	b.WriteString("\n")

	return b.String()
}
