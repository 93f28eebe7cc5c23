package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	orig := Info{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = orig.Version, orig.GitSHA, orig.BuildTime })

	Version, GitSHA, BuildTime = "v0.3.1", "0123456789abcdef", "2026-01-02T03:04:05Z"
	info := Get()
	assert.Equal(t, "v0.3.1", info.Version)
	assert.Equal(t, "demetra v0.3.1 (commit 0123456789ab, built 2026-01-02T03:04:05Z)", info.String())
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, "demetra dev (commit unknown, built unknown)", Info{"dev", "unknown", "unknown"}.String())
}
