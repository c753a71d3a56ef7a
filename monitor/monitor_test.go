package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	// fakeStream replays scripted output. An empty string stands for a poll that finds no data.
	fakeStream struct {
		mux sync.Mutex
		// output still to deliver
		script []string
		// exit as soon as the script is delivered
		exitWhenDone bool
		// already exited before the script is delivered
		exited      bool
		exitCode    int
		ignoreTerm  bool
		terminated  int
		killed      int
		streamClose bool
		// print "y" lines without pause until the stream exits
		flood bool
	}

	recordingOpener struct {
		mux  sync.Mutex
		urls []string
		err  error
	}
)

var errNoData = errors.New("no data")

func (f *fakeStream) ReadLine() (string, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	if f.flood && !f.exited {
		return "y\n", nil
	}

	if len(f.script) == 0 {
		if f.exitWhenDone {
			f.exited = true
		}

		if f.exited && f.streamClose {
			return "", io.EOF
		}

		return "", errNoData
	}

	next := f.script[0]
	f.script = f.script[1:]

	if next == "" {
		return "", errNoData
	}

	return next, nil
}

func (f *fakeStream) Exited() bool {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.exited
}

func (f *fakeStream) Wait() int {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.exitCode
}

func (f *fakeStream) Terminate() error {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.terminated++

	if !f.ignoreTerm {
		f.exited = true
		f.exitCode = -1
	}

	return nil
}

func (f *fakeStream) Kill() error {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.killed++
	f.exited = true
	f.exitCode = -1

	return nil
}

func (o *recordingOpener) OpenURL(url string) error {
	o.mux.Lock()
	defer o.mux.Unlock()

	o.urls = append(o.urls, url)

	return o.err
}

func (o *recordingOpener) calls() []string {
	o.mux.Lock()
	defer o.mux.Unlock()

	return append([]string(nil), o.urls...)
}

func newMonitor(echo io.Writer, latch *Latch, opener Opener) *Monitor {
	return &Monitor{
		Echo:         echo,
		Latch:        latch,
		Opener:       opener,
		Idle:         time.Millisecond,
		DrainTimeout: 200 * time.Millisecond,
		KillGrace:    20 * time.Millisecond,
	}
}

func TestExtractReadyURL(t *testing.T) {
	var tests = []struct {
		line     string
		expected string
		ok       bool
	}{
		{line: "  Local:  http://localhost:5173\n", expected: "http://localhost:5173", ok: true},
		{line: "  ➜  Local:   http://localhost:5173/", expected: "http://localhost:5173/", ok: true},
		{line: " * Running on http://127.0.0.1:5000\n", expected: "http://127.0.0.1:5000", ok: true},
		{line: "Server Running on https://0.0.0.0:8443 (Press CTRL+C to quit)", expected: "https://0.0.0.0:8443", ok: true},
		{line: "\x1b[32m  ➜\x1b[39m  \x1b[1mLocal\x1b[22m:   \x1b[36mhttp://localhost:\x1b[1m5173\x1b[22m/\x1b[39m", expected: "http://localhost:5173/", ok: true},
		{line: "  ➜  Network: http://192.168.1.4:5173/", ok: false},
		{line: "local: http://localhost:5173", ok: false},
		{line: "running on http://localhost:5000", ok: false},
		{line: "Local: ftp://localhost", ok: false},
		{line: "Local:http://localhost:5173", ok: false},
		{line: "", ok: false},
	}

	for _, test := range tests {
		url, ok := ExtractReadyURL(test.line)

		assert.Equal(t, test.ok, ok, "line %q", test.line)
		assert.Equal(t, test.expected, url, "line %q", test.line)
	}
}

func TestLatchConcurrent(t *testing.T) {
	var (
		latch Latch
		wg    sync.WaitGroup
		mux   sync.Mutex
		wins  int
	)

	for j := 0; j < 50; j++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if latch.TryAcquire() {
				mux.Lock()
				wins++
				mux.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, latch.Taken())
}

func TestRunOpensBrowserOnce(t *testing.T) {
	lines := []string{
		"\n",
		"  VITE v5.0.0  ready in 300 ms\n",
		"",
		"  ➜  Local:   http://localhost:5173/\n",
		"  ➜  Network: http://192.168.1.4:5173/\n",
		"",
		"  ➜  Local:   http://localhost:5174/\n",
		" * Running on http://127.0.0.1:5000\n",
	}

	stream := &fakeStream{script: append([]string(nil), lines...), exitWhenDone: true}
	opener := &recordingOpener{}

	var echo bytes.Buffer

	result := newMonitor(&echo, &Latch{}, opener).Run(context.Background(), stream)

	assert.Equal(t, Done, result.State)
	assert.True(t, result.Success())
	assert.Equal(t, []string{"http://localhost:5173/"}, opener.calls())
	assert.Equal(t, "http://localhost:5173/", result.URL)
	assert.Equal(t, strings.Join(lines, ""), result.Transcript)
	assert.Contains(t, echo.String(), "Opening application in browser: http://localhost:5173/")
	assert.Equal(t, 1, strings.Count(echo.String(), "Opening application in browser"))
	assert.Zero(t, stream.terminated)
}

func TestRunSharedLatch(t *testing.T) {
	latch := &Latch{}
	opener := &recordingOpener{}

	first := &fakeStream{script: []string{"Local: http://localhost:1\n"}, exitWhenDone: true}
	second := &fakeStream{script: []string{"Local: http://localhost:2\n"}, exitWhenDone: true}

	newMonitor(nil, latch, opener).Run(context.Background(), first)
	result := newMonitor(nil, latch, opener).Run(context.Background(), second)

	assert.Equal(t, []string{"http://localhost:1"}, opener.calls())
	assert.Empty(t, result.URL)
	assert.Equal(t, "Local: http://localhost:2\n", result.Transcript)
}

func TestRunOpenerFailureIsNotFatal(t *testing.T) {
	opener := &recordingOpener{err: errors.New("no browser")}
	stream := &fakeStream{script: []string{"Local: http://localhost:1\n", "after\n"}, exitWhenDone: true}

	result := newMonitor(nil, &Latch{}, opener).Run(context.Background(), stream)

	assert.True(t, result.Success())
	assert.Equal(t, "Local: http://localhost:1\nafter\n", result.Transcript)
}

func TestRunDrainsAfterExit(t *testing.T) {
	// The child has already exited while output is still buffered, and the final line has no newline.
	stream := &fakeStream{
		script:      []string{"first\n", "", "second\n", "", "", "tail without newline"},
		exited:      true,
		streamClose: true,
		exitCode:    0,
	}

	var echo bytes.Buffer

	result := newMonitor(&echo, &Latch{}, &recordingOpener{}).Run(context.Background(), stream)

	assert.Equal(t, "first\nsecond\ntail without newline", result.Transcript)
	assert.Equal(t, result.Transcript, echo.String())
	assert.True(t, result.Success())
}

func TestRunDrainGivesUp(t *testing.T) {
	// The stream never closes, as when a grandchild inherited the pipe.
	stream := &fakeStream{script: []string{"only\n"}, exitWhenDone: true}

	m := newMonitor(nil, nil, nil)
	m.DrainTimeout = 30 * time.Millisecond

	start := time.Now()
	result := m.Run(context.Background(), stream)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "only\n", result.Transcript)
	assert.Equal(t, Done, result.State)
}

func TestRunExitCodes(t *testing.T) {
	for _, code := range []int{0, 1, 2, 127, -1} {
		stream := &fakeStream{script: []string{"x\n"}, exitWhenDone: true, exitCode: code}

		result := newMonitor(nil, nil, nil).Run(context.Background(), stream)

		assert.Equal(t, code, result.ExitCode)
		assert.Equal(t, code == 0, result.Success(), "exit code %d", code)
	}
}

func TestRunTimeout(t *testing.T) {
	stream := &fakeStream{script: []string{"working\n"}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := newMonitor(nil, nil, nil).Run(ctx, stream)

	assert.Equal(t, TimedOut, result.State)
	assert.False(t, result.Success())
	assert.Equal(t, 1, stream.terminated)
	assert.Zero(t, stream.killed)
	assert.Equal(t, "working\n", result.Transcript)
}

func TestRunCancelKillsStubbornChild(t *testing.T) {
	stream := &fakeStream{ignoreTerm: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newMonitor(nil, nil, nil).Run(ctx, stream)

	assert.Equal(t, Done, result.State, "plain cancellation is not a timeout")
	assert.False(t, result.Success())
	assert.Equal(t, 1, stream.terminated)
	assert.Equal(t, 1, stream.killed)
}

func TestRunTimeoutWhileFlooding(t *testing.T) {
	var tests = []struct {
		name       string
		ignoreTerm bool
		killed     int
	}{
		{name: "terminated", ignoreTerm: false, killed: 0},
		{name: "killed", ignoreTerm: true, killed: 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			stream := &fakeStream{flood: true, ignoreTerm: test.ignoreTerm, streamClose: true}

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			start := time.Now()
			result := newMonitor(nil, nil, nil).Run(ctx, stream)

			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, TimedOut, result.State)
			assert.Equal(t, 1, stream.terminated)
			assert.Equal(t, test.killed, stream.killed)
			assert.True(t, strings.HasPrefix(result.Transcript, "y\ny\n"))
		})
	}
}

func TestRunRandomOutput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	words := []string{
		"compiling", "Local:  http://localhost:3000", "Running on http://127.0.0.1:5000",
		"Network: http://10.0.0.2:3000", "", "done;", "  Local: nope",
	}

	for j := 0; j < 200; j++ {
		n := rng.Intn(12)
		script := make([]string, 0, n)

		var expected strings.Builder

		for i := 0; i < n; i++ {
			line := words[rng.Intn(len(words))]
			if line == "" {
				script = append(script, "")

				continue
			}

			if i < n-1 || rng.Intn(2) == 0 {
				line += "\n"
			}

			script = append(script, line)
			expected.WriteString(line)
		}

		opener := &recordingOpener{}
		stream := &fakeStream{script: script, exitWhenDone: true}

		result := newMonitor(nil, &Latch{}, opener).Run(context.Background(), stream)

		require.Equal(t, expected.String(), result.Transcript)
		require.LessOrEqual(t, len(opener.calls()), 1)

		_, announced := ExtractReadyURL(expected.String())
		require.Equal(t, announced, len(opener.calls()) == 1)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "STREAMING", Streaming.String())
	assert.Equal(t, "DONE", Done.String())
	assert.Equal(t, "TIMED_OUT", TimedOut.String())
}
