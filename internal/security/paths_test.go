package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDir(t *testing.T) {
	root := t.TempDir()
	safe := filepath.Join(root, "safe")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "bundle.json"), false},
		{"nested new file", filepath.Join(safe, "a", "b", "bundle.json"), false},
		{"dir itself", safe, false},
		{"dot dot", filepath.Join(safe, "..", "bundle.json"), true},
		{"sibling", filepath.Join(outside, "bundle.json"), true},
		{"through symlink", filepath.Join(safe, "link", "bundle.json"), true},
		{"through symlink into new dir", filepath.Join(safe, "link", "new", "bundle.json"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safe)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEscapesDir)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithinDir_MissingDir(t *testing.T) {
	err := WithinDir("x", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEscapesDir)
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"CHI045":           "CHI045",
		"3450 W 71st St":   "3450_W_71st_St",
		"../../etc/passwd": "etc_passwd",
		"a///b":            "a_b",
		"":                 "unknown",
		"...":              "unknown",
		"bundle-1f2e.json": "bundle-1f2e.json",
		"caméra":           "cam_ra",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeFilename(in), "SafeFilename(%q)", in)
	}
	assert.Len(t, SafeFilename(strings.Repeat("x", 500)), maxFilenameLen)
}

func TestExportPath(t *testing.T) {
	dir := t.TempDir()
	p, err := ExportPath(dir, "../CHI045 speed.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "CHI045_speed.json"), p)
}
