package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"healthmap/internal/engine"
)

// Config holds all healthmap configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	S3      S3Config      `yaml:"s3"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	RateLimit       float64  `yaml:"rate_limit"` // requests/second per client; 0 disables
	CORSOrigins     []string `yaml:"cors_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// DataConfig locates and describes the two sources.
type DataConfig struct {
	Indicators        string                  `yaml:"indicators"`
	IndicatorFormat   string                  `yaml:"indicator_format"` // auto, csv, xlsx
	IndicatorSheet    string                  `yaml:"indicator_sheet"`
	IndicatorEncoding string                  `yaml:"indicator_encoding"`
	IndicatorColumns  engine.IndicatorColumns `yaml:"indicator_columns"`
	Boundaries        string                  `yaml:"boundaries"`
	BoundaryFields    engine.BoundaryFields   `yaml:"boundary_fields"`
	BoundaryContinent string                  `yaml:"boundary_continent"`
	Aliases           string                  `yaml:"aliases"` // empty uses the embedded table
	Join              string                  `yaml:"join"`    // inner or left
}

// S3Config is used for s3:// sources.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       20,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: "10s",
		},
		Data: DataConfig{
			Indicators:       "BEFA58B_ALL_LATEST.csv",
			IndicatorFormat:  string(engine.FormatAuto),
			IndicatorColumns: engine.DefaultIndicatorColumns(),
			Boundaries:       "ne_50m_admin_0_countries.geojson",
			BoundaryFields:   engine.DefaultBoundaryFields(),
			Join:             string(engine.JoinInner),
		},
		S3:      S3Config{Region: "us-east-1"},
		Cache:   CacheConfig{MaxEntries: 512},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HEALTHMAP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("HEALTHMAP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Server.RateLimit = f
		}
	}
	if v := os.Getenv("HEALTHMAP_INDICATORS"); v != "" {
		c.Data.Indicators = v
	}
	if v := os.Getenv("HEALTHMAP_BOUNDARIES"); v != "" {
		c.Data.Boundaries = v
	}
	if v := os.Getenv("HEALTHMAP_ALIASES"); v != "" {
		c.Data.Aliases = v
	}
	if v := os.Getenv("HEALTHMAP_JOIN"); v != "" {
		c.Data.Join = v
	}
	if v := os.Getenv("HEALTHMAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HEALTHMAP_S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
	if v := os.Getenv("HEALTHMAP_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("HEALTHMAP_S3_PATH_STYLE"); v != "" {
		c.S3.PathStyle = strings.EqualFold(v, "true")
	}
}

// Validate checks that the configuration can drive a pipeline.
func (c *Config) Validate() error {
	if c.Data.Indicators == "" {
		return fmt.Errorf("data.indicators is required")
	}
	if c.Data.Boundaries == "" {
		return fmt.Errorf("data.boundaries is required")
	}
	if len(c.Data.IndicatorColumns.Country) == 0 {
		return fmt.Errorf("data.indicator_columns.country needs at least one header")
	}
	if _, err := engine.ParseJoinMode(c.Data.Join); err != nil {
		return err
	}
	switch engine.Format(c.Data.IndicatorFormat) {
	case engine.FormatAuto, engine.FormatCSV, engine.FormatXLSX, "":
	default:
		return fmt.Errorf("unsupported indicator_format %q", c.Data.IndicatorFormat)
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// PipelineOptions translates the data section for engine.Build. The alias
// table is resolved separately because it may need I/O.
func (c *Config) PipelineOptions() engine.PipelineOptions {
	join, _ := engine.ParseJoinMode(c.Data.Join)
	return engine.PipelineOptions{
		IndicatorURI: c.Data.Indicators,
		Indicator: engine.IndicatorOptions{
			Columns:  c.Data.IndicatorColumns,
			Format:   engine.Format(c.Data.IndicatorFormat),
			Sheet:    c.Data.IndicatorSheet,
			Encoding: c.Data.IndicatorEncoding,
		},
		BoundaryURI: c.Data.Boundaries,
		Boundary: engine.BoundaryOptions{
			Fields:    c.Data.BoundaryFields,
			Continent: c.Data.BoundaryContinent,
		},
		Join: join,
	}
}
