// Package registry knows how each supported project type is generated, installed and started.
package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"

	"github.com/kxue43/webapp-setup/runner"
)

type (
	Family string

	Registry struct {
		Types map[string]*ProjectType `toml:"types"`
	}

	ProjectType struct {
		Name            string      `toml:"-"`
		Family          Family      `toml:"family"`
		Template        CommandSpec `toml:"template"`
		BuiltinTemplate string      `toml:"builtin_template"`
		GoVersion       string      `toml:"go_version"`
		Install         CommandSpec `toml:"install"`
		Start           CommandSpec `toml:"start"`
		StartScript     string      `toml:"start_script"`
		InstallMarker   string      `toml:"install_marker"`
		Tools           []Tool      `toml:"tools"`
	}

	Tool struct {
		Name        string   `toml:"name"`
		MinVersion  string   `toml:"min_version"`
		VersionArgs []string `toml:"version_args"`
	}

	// CommandSpec is a command whose arguments are still templates.
	CommandSpec struct {
		Argv  []string
		Shell string
	}

	// Vars are the values available to command templates.
	Vars struct {
		Dir        string
		Name       string
		Python     string
		VenvPython string
	}
)

const (
	Node   Family = "node"
	Python Family = "python"
	Go     Family = "go"
)

var (
	//go:embed types.toml
	builtinTypes []byte

	ErrUnknownType = errors.New("unrecognized project type")
	ErrRegistry    = errors.New("invalid project type registry")

	lookPath = exec.LookPath
)

// Default returns the registry of built-in project types.
//
// Non-nil returned error wraps [ErrRegistry].
func Default() (*Registry, error) {
	return decode(builtinTypes, "built-in registry")
}

func decode(contents []byte, source string) (*Registry, error) {
	var r Registry

	if _, err := toml.Decode(string(contents), &r); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %s", ErrRegistry, source, err.Error())
	}

	for name, pt := range r.Types {
		if pt == nil {
			return nil, fmt.Errorf("%w: %s: type %q is empty", ErrRegistry, source, name)
		}

		pt.Name = name

		if pt.Template.IsZero() && pt.BuiltinTemplate == "" {
			return nil, fmt.Errorf("%w: %s: type %q has no template command", ErrRegistry, source, name)
		}

		if pt.BuiltinTemplate != "" && builtins[pt.BuiltinTemplate] == nil {
			return nil, fmt.Errorf("%w: %s: type %q uses unknown builtin template %q", ErrRegistry, source, name, pt.BuiltinTemplate)
		}

		if pt.Start.IsZero() {
			return nil, fmt.Errorf("%w: %s: type %q has no start command", ErrRegistry, source, name)
		}
	}

	return &r, nil
}

// Merge loads the TOML file at path and lets its types replace or extend the current ones.
//
// Non-nil returned error wraps [ErrRegistry].
func (r *Registry) Merge(path string) error {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: failed to read %s: %s", ErrRegistry, path, err.Error())
	}

	extra, err := decode(contents, path)
	if err != nil {
		return err
	}

	if r.Types == nil {
		r.Types = make(map[string]*ProjectType, len(extra.Types))
	}

	for name, pt := range extra.Types {
		r.Types[name] = pt
	}

	return nil
}

// Lookup finds a project type by name. An exact match wins over a case-insensitive one.
//
// Non-nil returned error wraps [ErrUnknownType].
func (r *Registry) Lookup(name string) (*ProjectType, error) {
	if pt, ok := r.Types[name]; ok {
		return pt, nil
	}

	for _, known := range r.Names() {
		if strings.EqualFold(known, name) {
			return r.Types[known], nil
		}
	}

	return nil, fmt.Errorf("%w: %q (known types: %s)", ErrUnknownType, name, strings.Join(r.Names(), ", "))
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Types))
	for name := range r.Types {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// UnmarshalTOML accepts an argument array, a string split into arguments, or a table with a "shell" or "argv" key.
func (c *CommandSpec) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		cmd, err := runner.ParseCommand(v)
		if err != nil {
			return err
		}

		c.Argv = cmd.Argv
	case []any:
		argv, err := toStrings(v)
		if err != nil {
			return err
		}

		c.Argv = argv
	case map[string]any:
		if shell, ok := v["shell"]; ok {
			s, ok := shell.(string)
			if !ok {
				return fmt.Errorf(`"shell" must be a string, got %T`, shell)
			}

			c.Shell = s

			return nil
		}

		raw, ok := v["argv"].([]any)
		if !ok {
			return errors.New(`command table needs a "shell" string or an "argv" array`)
		}

		argv, err := toStrings(raw)
		if err != nil {
			return err
		}

		c.Argv = argv
	default:
		return fmt.Errorf("unsupported command value of type %T", data)
	}

	return nil
}

func toStrings(values []any) ([]string, error) {
	out := make([]string, len(values))

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("command argument %d is %T, not a string", i, v)
		}

		out[i] = s
	}

	return out, nil
}

func (c CommandSpec) IsZero() bool {
	return len(c.Argv) == 0 && strings.TrimSpace(c.Shell) == ""
}

// Render expands the templates in c.
func (c CommandSpec) Render(vars Vars) (runner.Command, error) {
	if c.Shell != "" {
		s, err := render(c.Shell, vars)
		if err != nil {
			return runner.Command{}, err
		}

		return runner.Shell(s), nil
	}

	argv := make([]string, len(c.Argv))

	for i, arg := range c.Argv {
		s, err := render(arg, vars)
		if err != nil {
			return runner.Command{}, err
		}

		argv[i] = s
	}

	return runner.Argv(argv...), nil
}

func (t Tool) Render(vars Vars) (Tool, error) {
	name, err := render(t.Name, vars)
	if err != nil {
		return Tool{}, err
	}

	t.Name = name

	return t, nil
}

func render(text string, vars Vars) (string, error) {
	if !strings.Contains(text, "{%") {
		return text, nil
	}

	tmplt, err := template.New("arg").Delims("{%", "%}").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse command template %q: %w", text, err)
	}

	var b bytes.Buffer

	if err = tmplt.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("failed to expand command template %q: %w", text, err)
	}

	return b.String(), nil
}

// NewVars prepares template values for a project living in dir.
func NewVars(dir string) Vars {
	vars := Vars{
		Dir:    dir,
		Name:   filepath.Base(dir),
		Python: pythonExecutable(),
	}

	if runtime.GOOS == "windows" {
		vars.VenvPython = filepath.Join(dir, "venv", "Scripts", "python.exe")
	} else {
		vars.VenvPython = filepath.Join(dir, "venv", "bin", "python")
	}

	return vars
}

func pythonExecutable() string {
	if runtime.GOOS != "windows" {
		if _, err := lookPath("python3"); err == nil {
			return "python3"
		}
	}

	return "python"
}
