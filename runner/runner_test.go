package runner

import (
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("relies on /bin/sh")
	}
}

// drain reads everything from p the way a caller polling ReadLine would.
func drain(t *testing.T, p *Process) string {
	t.Helper()

	var b strings.Builder

	deadline := time.After(10 * time.Second)

	for {
		line, err := p.ReadLine()

		switch {
		case err == nil:
			b.WriteString(line)

			continue
		case errors.Is(err, io.EOF):
			return b.String()
		}

		require.ErrorIs(t, err, ErrNoLine)

		select {
		case <-deadline:
			t.Fatal("output stream never closed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func nextLine(t *testing.T, p *Process) string {
	t.Helper()

	deadline := time.After(10 * time.Second)

	for {
		line, err := p.ReadLine()
		if err == nil {
			return line
		}

		require.ErrorIs(t, err, ErrNoLine)

		select {
		case <-deadline:
			t.Fatal("no output from the process")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestParseCommand(t *testing.T) {
	var tests = []struct {
		line     string
		expected []string
	}{
		{line: "npm run dev", expected: []string{"npm", "run", "dev"}},
		{line: `python -m flask run --host "0.0.0.0"`, expected: []string{"python", "-m", "flask", "run", "--host", "0.0.0.0"}},
		{line: `echo 'a b' c\ d`, expected: []string{"echo", "a b", "c d"}},
	}

	for _, test := range tests {
		cmd, err := ParseCommand(test.line)
		require.NoError(t, err)

		assert.Equal(t, test.expected, cmd.Argv)
		assert.Empty(t, cmd.Shell)
	}

	_, err := ParseCommand("   ")
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = ParseCommand(`echo "unterminated`)
	assert.Error(t, err)
}

func TestCommandWithArgs(t *testing.T) {
	base := Argv("npm", "install")

	extended := base.WithArgs("react", "left pad")

	assert.Equal(t, []string{"npm", "install", "react", "left pad"}, extended.Argv)
	assert.Equal(t, []string{"npm", "install"}, base.Argv, "the receiver should not change")
	assert.Equal(t, `npm install react 'left pad'`, extended.String())

	shell := Shell("pip install").WithArgs("flask", "a b")

	assert.Equal(t, `pip install flask 'a b'`, shell.Shell)
	assert.True(t, Command{}.IsZero())
	assert.False(t, shell.IsZero())
}

func TestStartMergesOutput(t *testing.T) {
	skipOnWindows(t)

	p, err := New(nil).Start(NewRunArgs(Shell("echo out; echo err 1>&2; printf tail")))
	require.NoError(t, err)

	defer func() { _ = p.Close() }()

	output := drain(t, p)

	assert.Equal(t, 0, p.Wait())
	assert.True(t, p.Exited())
	assert.Contains(t, output, "out\n")
	assert.Contains(t, output, "err\n")
	assert.True(t, strings.HasSuffix(output, "tail"), "unterminated last fragment should be kept")
}

func TestStartArgvAndCwd(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()

	p, err := New(nil).Start(NewRunArgs(Argv("sh", "-c", "pwd; echo $SETUP_PROBE")).WithCwd(dir).WithEnv([]string{"SETUP_PROBE=42"}))
	require.NoError(t, err)

	defer func() { _ = p.Close() }()

	output := drain(t, p)

	assert.Equal(t, 0, p.Wait())
	assert.Contains(t, output, "42\n")
	assert.NotEmpty(t, strings.TrimSpace(output))
}

func TestExitCode(t *testing.T) {
	skipOnWindows(t)

	p, err := New(nil).Start(NewRunArgs(Shell("exit 3")))
	require.NoError(t, err)

	defer func() { _ = p.Close() }()

	assert.Equal(t, 3, p.Wait())
	assert.Equal(t, "", drain(t, p))
}

func TestSpawnError(t *testing.T) {
	_, err := New(nil).Start(NewRunArgs(Argv("definitely-not-a-real-executable-4711")))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)

	_, err = New(nil).Start(NewRunArgs(Command{}))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestTerminate(t *testing.T) {
	skipOnWindows(t)

	p, err := New(nil).Start(NewRunArgs(Shell("echo ready; sleep 30")))
	require.NoError(t, err)

	defer func() { _ = p.Close() }()

	line := nextLine(t, p)
	assert.Equal(t, "ready\n", line)
	assert.False(t, p.Exited())

	require.NoError(t, p.Terminate())

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process ignored the terminate request")
	}

	assert.Equal(t, -1, p.Wait(), "a process stopped by a signal reports -1")
	assert.NoError(t, p.Terminate(), "terminating an exited process is a no-op")
}
