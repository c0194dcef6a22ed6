package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(dir, "a.jpg"), false},
		{"nested missing file", filepath.Join(dir, "x", "y", "a.jpg"), false},
		{"dir itself", dir, false},
		{"parent escape", filepath.Join(dir, "..", "a.jpg"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_Symlink(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(dir, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	err := ValidatePathWithinDirectory(filepath.Join(link, "new.jpg"), dir)
	assert.Error(t, err)
}

func TestJoinWithin(t *testing.T) {
	dir := t.TempDir()

	p, err := JoinWithin(dir, "1700000000000_frontal.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "1700000000000_frontal.jpg"), p)

	p, err = JoinWithin(dir, "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "etc_passwd"), p)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "unknown", SanitizeFilename(""))
	assert.Equal(t, "unknown", SanitizeFilename("../"))
	assert.Equal(t, "side_view.jpg", SanitizeFilename("side view.jpg"))
	assert.Equal(t, "a_b", SanitizeFilename("a//\\b"))
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 300)), 128)
}
