package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig is the server configuration file. Every field is a pointer
// so partial files are safe: omitted fields fall back to the defaults the
// Get* methods return.
type ServiceConfig struct {
	// Listeners
	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`

	// Storage
	DBPath      *string `json:"db_path,omitempty"`
	ObjectStore *string `json:"object_store,omitempty"` // "fs" or "minio"
	DataDir     *string `json:"data_dir,omitempty"`
	PlotDir     *string `json:"plot_dir,omitempty"`

	// MinIO backend
	MinioEndpoint  *string `json:"minio_endpoint,omitempty"`
	MinioAccessKey *string `json:"minio_access_key,omitempty"`
	MinioSecretKey *string `json:"minio_secret_key,omitempty"`
	MinioBucket    *string `json:"minio_bucket,omitempty"`
	MinioSecure    *bool   `json:"minio_secure,omitempty"`

	// Expiry, as duration strings like "1h"
	CacheTTL      *string `json:"cache_ttl,omitempty"`
	ModelCacheTTL *string `json:"model_cache_ttl,omitempty"`
	ResultTTL     *string `json:"result_ttl,omitempty"`

	// Limits
	MaxSeriesLength     *int   `json:"max_series_length,omitempty"`
	MaxForecastHorizon  *int   `json:"max_forecast_horizon,omitempty"`
	MaxArimaOrder       *int   `json:"max_arima_order,omitempty"`
	TramoSeatsMaxLength *int   `json:"tramoseats_max_length,omitempty"`
	MaxFileSize         *int64 `json:"max_file_size,omitempty"`
	MaxSeriesPerFile    *int   `json:"max_series_per_file,omitempty"`
	VizMaxSeriesLength  *int   `json:"viz_max_series_length,omitempty"`
	PlotCacheSize       *int   `json:"plot_cache_size,omitempty"`

	Workers *int `json:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrInt64(v int64) *int64    { return &v }

// DefaultServiceConfig returns a ServiceConfig with every field set to its
// default.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Listen:              ptrString(":8080"),
		GRPCListen:          ptrString(":50051"),
		DBPath:              ptrString("demetra.db"),
		ObjectStore:         ptrString("fs"),
		DataDir:             ptrString("./data"),
		PlotDir:             ptrString("/tmp/plots"),
		MinioEndpoint:       ptrString(""),
		MinioAccessKey:      ptrString(""),
		MinioSecretKey:      ptrString(""),
		MinioBucket:         ptrString("jdemetra-data"),
		MinioSecure:         ptrBool(false),
		CacheTTL:            ptrString("1h"),
		ModelCacheTTL:       ptrString("24h"),
		ResultTTL:           ptrString("24h"),
		MaxSeriesLength:     ptrInt(100000),
		MaxForecastHorizon:  ptrInt(365),
		MaxArimaOrder:       ptrInt(5),
		TramoSeatsMaxLength: ptrInt(1000),
		MaxFileSize:         ptrInt64(100 * 1024 * 1024),
		MaxSeriesPerFile:    ptrInt(1000),
		VizMaxSeriesLength:  ptrInt(10000),
		PlotCacheSize:       ptrInt(100),
		Workers:             ptrInt(4),
	}
}

// LoadServiceConfig loads a ServiceConfig from a JSON file.
// The file must have a .json extension and be under 1 MB. Fields omitted
// from the file keep their defaults.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultServiceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *ServiceConfig) Validate() error {
	if c.ObjectStore != nil && *c.ObjectStore != "" && *c.ObjectStore != "fs" && *c.ObjectStore != "minio" {
		return fmt.Errorf("object_store must be fs or minio, got %q", *c.ObjectStore)
	}
	if c.ObjectStore != nil && *c.ObjectStore == "minio" && c.GetMinioEndpoint() == "" {
		return fmt.Errorf("minio_endpoint is required when object_store is minio")
	}

	durations := map[string]*string{
		"cache_ttl":       c.CacheTTL,
		"model_cache_ttl": c.ModelCacheTTL,
		"result_ttl":      c.ResultTTL,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	positive := map[string]*int{
		"max_series_length":     c.MaxSeriesLength,
		"max_forecast_horizon":  c.MaxForecastHorizon,
		"max_arima_order":       c.MaxArimaOrder,
		"tramoseats_max_length": c.TramoSeatsMaxLength,
		"max_series_per_file":   c.MaxSeriesPerFile,
		"viz_max_series_length": c.VizMaxSeriesLength,
		"plot_cache_size":       c.PlotCacheSize,
		"workers":               c.Workers,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.MaxFileSize != nil && *c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", *c.MaxFileSize)
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil || *p <= 0 {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *ServiceConfig) GetListen() string      { return stringOr(c.Listen, ":8080") }
func (c *ServiceConfig) GetGRPCListen() string  { return stringOr(c.GRPCListen, ":50051") }
func (c *ServiceConfig) GetDBPath() string      { return stringOr(c.DBPath, "demetra.db") }
func (c *ServiceConfig) GetObjectStore() string { return stringOr(c.ObjectStore, "fs") }
func (c *ServiceConfig) GetDataDir() string     { return stringOr(c.DataDir, "./data") }
func (c *ServiceConfig) GetPlotDir() string     { return stringOr(c.PlotDir, "/tmp/plots") }

func (c *ServiceConfig) GetMinioEndpoint() string  { return stringOr(c.MinioEndpoint, "") }
func (c *ServiceConfig) GetMinioAccessKey() string { return stringOr(c.MinioAccessKey, "") }
func (c *ServiceConfig) GetMinioSecretKey() string { return stringOr(c.MinioSecretKey, "") }
func (c *ServiceConfig) GetMinioBucket() string    { return stringOr(c.MinioBucket, "jdemetra-data") }

func (c *ServiceConfig) GetMinioSecure() bool {
	return c.MinioSecure != nil && *c.MinioSecure
}

func (c *ServiceConfig) GetCacheTTL() time.Duration { return durationOr(c.CacheTTL, time.Hour) }
func (c *ServiceConfig) GetModelCacheTTL() time.Duration {
	return durationOr(c.ModelCacheTTL, 24*time.Hour)
}
func (c *ServiceConfig) GetResultTTL() time.Duration { return durationOr(c.ResultTTL, 24*time.Hour) }

func (c *ServiceConfig) GetMaxSeriesLength() int     { return intOr(c.MaxSeriesLength, 100000) }
func (c *ServiceConfig) GetMaxForecastHorizon() int  { return intOr(c.MaxForecastHorizon, 365) }
func (c *ServiceConfig) GetMaxArimaOrder() int       { return intOr(c.MaxArimaOrder, 5) }
func (c *ServiceConfig) GetTramoSeatsMaxLength() int { return intOr(c.TramoSeatsMaxLength, 1000) }
func (c *ServiceConfig) GetMaxSeriesPerFile() int    { return intOr(c.MaxSeriesPerFile, 1000) }
func (c *ServiceConfig) GetVizMaxSeriesLength() int  { return intOr(c.VizMaxSeriesLength, 10000) }
func (c *ServiceConfig) GetPlotCacheSize() int       { return intOr(c.PlotCacheSize, 100) }
func (c *ServiceConfig) GetWorkers() int             { return intOr(c.Workers, 4) }

func (c *ServiceConfig) GetMaxFileSize() int64 {
	if c.MaxFileSize == nil || *c.MaxFileSize <= 0 {
		return 100 * 1024 * 1024
	}
	return *c.MaxFileSize
}
