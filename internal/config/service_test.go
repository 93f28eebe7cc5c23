package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, ":50051", cfg.GetGRPCListen())
	assert.Equal(t, "fs", cfg.GetObjectStore())
	assert.Equal(t, "jdemetra-data", cfg.GetMinioBucket())
	assert.Equal(t, time.Hour, cfg.GetCacheTTL())
	assert.Equal(t, 24*time.Hour, cfg.GetModelCacheTTL())
	assert.Equal(t, 365, cfg.GetMaxForecastHorizon())
	assert.Equal(t, 1000, cfg.GetTramoSeatsMaxLength())
	assert.Equal(t, int64(100*1024*1024), cfg.GetMaxFileSize())
	assert.Equal(t, 4, cfg.GetWorkers())
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &ServiceConfig{}
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "/tmp/plots", cfg.GetPlotDir())
	assert.Equal(t, 100, cfg.GetPlotCacheSize())
	assert.False(t, cfg.GetMinioSecure())
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadServiceConfigPartial(t *testing.T) {
	path := writeConfig(t, "demetra.json", `{
  "listen": ":9090",
  "cache_ttl": "30m",
  "workers": 8,
  "minio_secure": true
}`)
	cfg, err := LoadServiceConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.GetListen())
	assert.Equal(t, 30*time.Minute, cfg.GetCacheTTL())
	assert.Equal(t, 8, cfg.GetWorkers())
	assert.True(t, cfg.GetMinioSecure())
	// Omitted keys keep their defaults.
	assert.Equal(t, "demetra.db", cfg.GetDBPath())
	assert.Equal(t, 5, cfg.GetMaxArimaOrder())
}

func TestLoadServiceConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "demetra.yaml", `{}`, ".json extension"},
		{"syntax", "bad.json", `{"listen":`, "parse config JSON"},
		{"duration", "ttl.json", `{"cache_ttl": "soon"}`, "invalid cache_ttl"},
		{"negative", "workers.json", `{"workers": -1}`, "workers must be positive"},
		{"backend", "backend.json", `{"object_store": "s3"}`, "object_store must be fs or minio"},
		{"minio endpoint", "minio.json", `{"object_store": "minio"}`, "minio_endpoint is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServiceConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadServiceConfigTooLarge(t *testing.T) {
	body := `{"listen": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadServiceConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadServiceConfigMissingFile(t *testing.T) {
	_, err := LoadServiceConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stat config file")
}
