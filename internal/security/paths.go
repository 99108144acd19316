// Package security guards the file paths curbctl writes evidence bundles
// and exports to.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEscapesDir is returned when a path resolves outside its directory.
var ErrEscapesDir = errors.New("path escapes directory")

const maxFilenameLen = 128

// WithinDir reports an error unless path resolves inside dir. Symlinks are
// followed for whatever prefix of path already exists, so a link inside dir
// pointing elsewhere is caught before anything is written through it.
func WithinDir(path, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	rel, err := filepath.Rel(realDir, resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrEscapesDir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s: %w %s", path, ErrEscapesDir, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of p
// and reattaches the rest.
func resolveExisting(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	for cur := p; ; {
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		if real, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, p)
			return filepath.Join(real, rest)
		}
		cur = parent
	}
}

// SafeFilename maps an identifier such as a camera ID or address onto a
// portable file name: ASCII letters, digits, '.', '_' and '-' survive,
// runs of anything else become one underscore.
func SafeFilename(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			underscore = false
		case !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ExportPath joins a sanitised name onto dir and checks the result stays
// inside dir.
func ExportPath(dir, name string) (string, error) {
	p := filepath.Join(dir, SafeFilename(name))
	if err := WithinDir(p, dir); err != nil {
		return "", err
	}
	return p, nil
}
