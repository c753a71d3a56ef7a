// Package overlay writes user-supplied files on top of a generated project tree.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/otiai10/copy"
)

type (
	WriteHook func(io.Writer) error

	// ReportFunc is called once per written file, in path order.
	ReportFunc func(rel string)
)

const concurrency = 7

var (
	ErrOverlay = errors.New("overlay failure")

	escapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\'`, `'`, `\\`, `\`)
)

// DecodeContent turns descriptor text into file contents.
// Text without a real line break but with literal escape sequences is unescaped first.
// Then a line break is placed after every ";".
func DecodeContent(content string) string {
	if !strings.ContainsAny(content, "\n\r") && strings.Contains(content, `\`) {
		content = escapes.Replace(content)
	}

	return strings.ReplaceAll(content, ";", ";\n")
}

func WriteToFile(dir, name string, hook WriteHook) (err error) {
	path := filepath.Join(dir, name)

	if err = os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create parent directory of %q: %w", name, err)
	}

	fd, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create %q file: %w", name, err)
	}

	err = hook(fd)
	if err != nil {
		_ = fd.Close()

		return fmt.Errorf("failed to write to %q: %w", name, err)
	}

	err = fd.Close()
	if err != nil {
		return fmt.Errorf("failed to close %q after writing: %w", name, err)
	}

	return nil
}

// Apply writes every entry of files under dir, overwriting existing files.
// All entries are attempted; a failure leaves the others in place.
//
// Non-nil returned error wraps [ErrOverlay].
func Apply(ctx context.Context, dir string, files map[string]string, report ReportFunc) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	slices.Sort(names)

	var wg sync.WaitGroup

	semaphore := make(chan struct{}, concurrency)
	errs := make([]error, len(names))

	for i, name := range names {
		i, name := i, name

		wg.Add(1)

		go func() {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			errs[i] = writeOne(ctx, dir, name, files[name])
		}()
	}

	wg.Wait()

	if report != nil {
		for i, name := range names {
			if errs[i] == nil {
				report(name)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrOverlay, err)
	}

	return nil
}

func writeOne(ctx context.Context, dir, name, content string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("skipped %q: %w", name, err)
	}

	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("%q points outside of the project directory", name)
	}

	return WriteToFile(dir, rel, func(fd io.Writer) error {
		_, err := io.WriteString(fd, DecodeContent(content))

		return err
	})
}

// CopyDir copies the tree at src into dir, overwriting files that already exist.
//
// Non-nil returned error wraps [ErrOverlay].
func CopyDir(src, dir string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: overlay directory %q is not accessible: %s", ErrOverlay, src, err.Error())
	} else if !info.IsDir() {
		return fmt.Errorf("%w: overlay directory %q is a file", ErrOverlay, src)
	}

	err = copy.Copy(src, dir, copy.Options{
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Shallow
		},
		Skip: func(_ os.FileInfo, src, _ string) (bool, error) {
			return filepath.Base(src) == ".git", nil
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to copy %q: %s", ErrOverlay, src, err.Error())
	}

	return nil
}
