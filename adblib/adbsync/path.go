package adbsync

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPath matches path validation failures. Validation happens locally,
// before anything is written to the wire.
var ErrInvalidPath = errors.New("invalid remote path")

// validateRemotePath rejects paths which must never reach the device: empty
// paths, paths with NUL bytes or invalid UTF-8, empty components, and
// traversal components.
func validateRemotePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("%w %q: not valid UTF-8", ErrInvalidPath, path)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w %q: contains NUL byte", ErrInvalidPath, path)
	}
	for i, comp := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		switch comp {
		case "":
			if i == 0 && path == "/" {
				continue // the root itself is fine
			}
			return fmt.Errorf("%w %q: empty component", ErrInvalidPath, path)
		case "..":
			return fmt.Errorf("%w %q: traversal component", ErrInvalidPath, path)
		}
	}
	return nil
}
