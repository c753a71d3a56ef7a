package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const ErrorLogName = "setup_errors.log"

// ErrorLog is an append-only record of failures. The file and its directory are created on first write.
type ErrorLog struct {
	path string
	mux  sync.Mutex
}

func NewErrorLog(dir string) *ErrorLog {
	return &ErrorLog{path: filepath.Join(dir, ErrorLogName)}
}

func (l *ErrorLog) Path() string {
	return l.path
}

func (l *ErrorLog) Append(message string) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", ErrorLogName, err)
	}

	fd, err := os.OpenFile(filepath.Clean(l.path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", ErrorLogName, err)
	}

	_, err = fmt.Fprintf(fd, "ERROR: %s\n", message)
	if err != nil {
		_ = fd.Close()

		return fmt.Errorf("failed to write to %s: %w", ErrorLogName, err)
	}

	return fd.Close()
}
