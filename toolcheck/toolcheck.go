// Package toolcheck verifies that the external tools a project type relies on are installed.
package toolcheck

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver/v4"
)

type (
	Requirement struct {
		Name        string
		MinVersion  string
		VersionArgs []string
	}

	// ErrSemver reports a tool older than required.
	ErrSemver struct {
		ToolName string
		Found    semver.Version
		Minimum  semver.Version
	}

	// Checker probes tools. The zero value uses the real PATH.
	Checker struct {
		LookPath func(string) (string, error)
		// Output runs a tool and returns its combined output.
		Output func(ctx context.Context, name string, args ...string) (string, error)
		Timeout time.Duration
	}
)

const defaultTimeout = 10 * time.Second

var (
	ErrMissing = errors.New("tool not found on PATH")

	majorMinorPatch = regexp.MustCompile(`\d+\.\d+\.\d+`)
	majorMinor      = regexp.MustCompile(`(\d+)\.(\d+)`)
	majorOnly       = regexp.MustCompile(`\d+`)
)

func (err *ErrSemver) Error() string {
	return fmt.Sprintf("need at least version %s of %s, found %s", err.Minimum.String(), err.ToolName, err.Found.String())
}

// ToolInPath reports whether name can be found on PATH. A lookup that simply finds nothing is not an error.
func (c Checker) ToolInPath(name string) (bool, error) {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	_, err := lookPath(name)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, exec.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed searching for %q on PATH: %w", name, err)
	}
}

// Check probes every requirement and returns one error per problem found.
// Problems are advisory; callers log them and carry on.
func (c Checker) Check(ctx context.Context, reqs []Requirement) []error {
	var problems []error

	for _, req := range reqs {
		if err := c.checkOne(ctx, req); err != nil {
			problems = append(problems, err)
		}
	}

	return problems
}

func (c Checker) checkOne(ctx context.Context, req Requirement) error {
	found, err := c.ToolInPath(req.Name)
	if err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: %s", ErrMissing, req.Name)
	}

	if req.MinVersion == "" {
		return nil
	}

	minimum, err := semver.ParseTolerant(req.MinVersion)
	if err != nil {
		return fmt.Errorf("invalid minimum version %q for %s: %w", req.MinVersion, req.Name, err)
	}

	args := req.VersionArgs
	if len(args) == 0 {
		args = []string{"--version"}
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output := c.Output
	if output == nil {
		output = combinedOutput
	}

	out, err := output(ctx, req.Name, args...)
	if err != nil {
		return fmt.Errorf("failed to query the version of %s: %w", req.Name, err)
	}

	version, err := ExtractVersion(out)
	if err != nil {
		return fmt.Errorf("failed to read the version of %s: %w", req.Name, err)
	}

	if version.LT(minimum) {
		return &ErrSemver{ToolName: req.Name, Found: version, Minimum: minimum}
	}

	return nil
}

func combinedOutput(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()

	return string(out), err
}

// ExtractVersion extracts a major.minor.patch version number from typical CLI version output.
// Minor and patch default to 0 when absent.
func ExtractVersion(cliOutput string) (semver.Version, error) {
	if ver, err := semver.Parse(majorMinorPatch.FindString(cliOutput)); err == nil {
		return ver, nil
	}

	if m := majorMinor.FindStringSubmatch(cliOutput); len(m) >= 3 {
		return semver.Version{Major: parseUint(m[1]), Minor: parseUint(m[2])}, nil
	}

	if major := majorOnly.FindString(cliOutput); major != "" {
		return semver.Version{Major: parseUint(major)}, nil
	}

	return semver.Version{}, fmt.Errorf("no version number found in %q", strings.TrimSpace(cliOutput))
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)

	return n
}
