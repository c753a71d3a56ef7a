// Package pkgjson reads single values out of package.json without decoding the whole document.
package pkgjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type (
	// Cursor walks a JSON object stream down a dotted key path such as ".scripts.dev".
	Cursor struct {
		dec  *json.Decoder
		keys []string
		seen strings.Builder
	}
)

const FileName = "package.json"

var ErrKeyNotFound = errors.New("key not found")

func isDelim(t json.Token, runes ...rune) bool {
	d, ok := t.(json.Delim)
	if !ok {
		return false
	}

	for _, r := range runes {
		if rune(d) == r {
			return true
		}
	}

	return false
}

func NewCursor(stream io.Reader, path string) (*Cursor, error) {
	if !strings.HasPrefix(path, ".") {
		return nil, errors.New(`path must start with the dot character "."`)
	}

	if strings.HasSuffix(path, ".") {
		return nil, errors.New(`path must not end with the dot character "."`)
	}

	return &Cursor{dec: json.NewDecoder(stream), keys: strings.Split(path, ".")[1:]}, nil
}

// Value returns the scalar found at the cursor's path.
//
// Non-nil returned error wraps [ErrKeyNotFound] when some key on the path is absent.
func (c *Cursor) Value(ctx context.Context) (any, error) {
	c.seen.WriteString(".")

	for _, key := range c.keys {
		if err := c.enter(ctx, key); err != nil {
			return nil, err
		}
	}

	t, err := c.dec.Token()
	if err != nil {
		return nil, err
	}

	if isDelim(t, '{', '[') {
		return nil, fmt.Errorf("the value at path %q is not a scalar", c.seen.String())
	}

	return t, nil
}

// enter consumes tokens of the current object until the decoder sits right after key.
func (c *Cursor) enter(ctx context.Context, key string) error {
	t, err := c.dec.Token()
	if err != nil {
		return err
	}

	if !isDelim(t, '{') {
		return fmt.Errorf("the value at path %q is not a JSON object", c.seen.String())
	}

	if c.seen.Len() > 1 {
		c.seen.WriteString(".")
	}

	c.seen.WriteString(key)

	// depth of nested containers inside the current object
	depth := 0
	// a member name is expected next at depth zero
	expectName := true

	for depth > 0 || c.dec.More() {
		if err = ctx.Err(); err != nil {
			return fmt.Errorf("stopped looking for %q: %w", c.seen.String(), err)
		}

		if t, err = c.dec.Token(); err != nil {
			return err
		}

		switch {
		case isDelim(t, '{', '['):
			depth++
		case isDelim(t, '}', ']'):
			depth--
		}

		if depth > 0 || (depth == 0 && isDelim(t, '{', '[')) {
			continue
		}

		if expectName {
			if s, ok := t.(string); ok && s == key {
				return nil
			}

			expectName = false

			continue
		}

		// a scalar value or the close of a container value ends the member
		expectName = true
	}

	return fmt.Errorf("%w: %q", ErrKeyNotFound, c.seen.String())
}

// HasScript reports whether the package.json in dir declares the npm script name.
func HasScript(ctx context.Context, dir, name string) (bool, error) {
	fd, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", FileName, err)
	}

	defer func() { _ = fd.Close() }()

	cursor, err := NewCursor(fd, ".scripts."+name)
	if err != nil {
		return false, err
	}

	_, err = cursor.Value(ctx)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	return true, nil
}
