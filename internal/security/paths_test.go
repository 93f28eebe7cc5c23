package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDirectory(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		dir     string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "a.csv"), safe, false},
		{"missing nested file", filepath.Join(safe, "uploads", "x", "a.csv"), safe, false},
		{"dot dot", filepath.Join(safe, "..", "a.csv"), safe, true},
		{"symlinked parent", filepath.Join(safe, "link", "a.csv"), safe, true},
		{"dir itself", safe, safe, false},
		{"missing dir", filepath.Join(tmp, "data", "exports", "a.json"), filepath.Join(tmp, "data"), false},
		{"sibling of missing dir", filepath.Join(tmp, "database"), filepath.Join(tmp, "data"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDirectory(tt.path, tt.dir)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathEscape)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"retail.json", "retail.json"},
		{"monthly sales (2020).csv", "monthly_sales_2020_.csv"},
		{"../../etc/passwd", "etc_passwd"},
		{"", "unknown"},
		{"???", "unknown"},
		{"ünïcode.xlsx", "n_code.xlsx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 300)), 128)
}
