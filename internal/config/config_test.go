package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthmap/internal/engine"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "inner", cfg.Data.Join)
	assert.Equal(t, "DIM_TIME", cfg.Data.IndicatorColumns.Year)
	assert.Equal(t, "NAME", cfg.Data.BoundaryFields.Name)
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("HEALTHMAP_INDICATORS", "")
	path := filepath.Join(t.TempDir(), "nested", "healthmap.yaml")

	cfg := DefaultConfig()
	cfg.Data.Indicators = "s3://who/BEFA58B_ALL_LATEST.csv"
	cfg.Data.Join = "left"
	cfg.Data.BoundaryContinent = "Europe"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3://who/BEFA58B_ALL_LATEST.csv", loaded.Data.Indicators)
	assert.Equal(t, "left", loaded.Data.Join)
	assert.Equal(t, "Europe", loaded.Data.BoundaryContinent)
	assert.Equal(t, cfg.Data.IndicatorColumns, loaded.Data.IndicatorColumns)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Data.Boundaries, cfg.Data.Boundaries)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HEALTHMAP_ADDR", ":9090")
	t.Setenv("HEALTHMAP_BOUNDARIES", "world.geojson")
	t.Setenv("HEALTHMAP_RATE_LIMIT", "2.5")
	t.Setenv("HEALTHMAP_S3_PATH_STYLE", "TRUE")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "world.geojson", cfg.Data.Boundaries)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.True(t, cfg.S3.PathStyle)
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"no indicators":  func(c *Config) { c.Data.Indicators = "" },
		"no boundaries":  func(c *Config) { c.Data.Boundaries = "" },
		"bad join":       func(c *Config) { c.Data.Join = "outer" },
		"bad format":     func(c *Config) { c.Data.IndicatorFormat = "parquet" },
		"bad level":      func(c *Config) { c.Logging.Level = "trace" },
		"negative limit": func(c *Config) { c.Server.RateLimit = -1 },
		"no country col": func(c *Config) { c.Data.IndicatorColumns.Country = nil },
		"bad shutdown":   func(c *Config) { c.Server.ShutdownTimeout = "soon" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.Join = "left"
	cfg.Data.IndicatorEncoding = "cp850"
	opts := cfg.PipelineOptions()

	assert.Equal(t, engine.JoinLeft, opts.Join)
	assert.Equal(t, "cp850", opts.Indicator.Encoding)
	assert.Equal(t, cfg.Data.Boundaries, opts.BoundaryURI)
}
