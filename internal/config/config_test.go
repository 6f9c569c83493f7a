package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.85, cfg.Matching.FuzzyThreshold)
	assert.Equal(t, 85.0, cfg.Quality.IngredientsCoverage)
	assert.Equal(t, 90.0, cfg.Quality.FormCoverage)
	assert.Equal(t, 95.0, cfg.Quality.LifeStageCoverage)
	assert.Equal(t, 90.0, cfg.Quality.KcalValidCoverage)
	assert.Equal(t, 20, cfg.Extraction.MinIngredientsChars)
	assert.Equal(t, 2000, cfg.Extraction.MaxIngredientsChars)
	assert.Equal(t, 50, cfg.Extraction.MaxTokens)
	assert.Equal(t, []string{"de", "se"}, cfg.SessionCountries())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	yamlBody := `
matching:
  fuzzy_threshold: 0.9
harvest:
  sessions:
    - country: gb
      delay_min: 1s
      delay_max: 3s
blob:
  driver: local
  local_root: snapshots
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	t.Setenv("DATABASE_URL", "sqlite:"+filepath.Join(dir, "c.db"))
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Matching.FuzzyThreshold)
	require.Len(t, cfg.Harvest.Sessions, 1)
	assert.Equal(t, "gb", cfg.Harvest.Sessions[0].Country)
	assert.Equal(t, 3*time.Second, cfg.Harvest.Sessions[0].DelayMax)
	assert.Equal(t, filepath.Join(dir, "snapshots"), cfg.Blob.LocalRoot)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "c.db"), cfg.DatabaseDSN())
	assert.Equal(t, "warn", cfg.Observability.LogLevel)
}

func TestLoad_PostgresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/catalog?sslmode=disable")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost:5432/catalog?sslmode=disable", cfg.DatabaseDSN())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"bad cache", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"gcs without bucket", func(c *Config) { c.Blob.Driver = "gcs" }},
		{"session without country", func(c *Config) { c.Harvest.Sessions[0].Country = "" }},
		{"inverted delay", func(c *Config) { c.Harvest.Sessions[0].DelayMax = 0 }},
		{"threshold above one", func(c *Config) { c.Matching.FuzzyThreshold = 1.2 }},
		{"coverage above 100", func(c *Config) { c.Quality.FormCoverage = 101 }},
		{"kcal range inverted", func(c *Config) { c.Quality.KcalMax = 100 }},
		{"min batch above batch", func(c *Config) { c.Pipeline.MinBatchSize = 500 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Cache.Driver = "memcached"
	cfg.Matching.FuzzyThreshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port 0")
	assert.Contains(t, err.Error(), `cache.driver "memcached"`)
	assert.Contains(t, err.Error(), "matching.fuzzy_threshold")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("matching:\n  fuzzy_treshold: 0.9\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "fuzzy_treshold")
}
