package monitor

import (
	"regexp"
	"sync/atomic"

	"github.com/charmbracelet/x/ansi"
	"github.com/pkg/browser"
)

type (
	// Opener shows a URL to the user.
	Opener interface {
		OpenURL(url string) error
	}

	BrowserOpener struct{}

	// Latch guarantees a single browser launch per setup run.
	// One value is owned by the orchestrator and shared by every monitor it starts.
	Latch struct {
		taken atomic.Bool
	}
)

// Dev servers announce themselves with banners such as
//
//	➜  Local:   http://localhost:5173/
//	 * Running on http://127.0.0.1:5000
//
// This is a heuristic tied to the wording of third-party tools and breaks silently when they change it.
var readyURLRegex = regexp.MustCompile(`Local:\s+(https?://\S+)|Running on\s+(https?://\S+)`)

// ExtractReadyURL returns the URL a line announces as the running application, if any.
// Color escape sequences are ignored.
func ExtractReadyURL(line string) (url string, ok bool) {
	m := readyURLRegex.FindStringSubmatch(ansi.Strip(line))
	if m == nil {
		return "", false
	}

	if m[1] != "" {
		return m[1], true
	}

	return m[2], true
}

// TryAcquire reports true to exactly one caller.
func (l *Latch) TryAcquire() bool {
	return l.taken.CompareAndSwap(false, true)
}

func (l *Latch) Taken() bool {
	return l.taken.Load()
}

func (BrowserOpener) OpenURL(url string) error {
	return browser.OpenURL(url)
}
