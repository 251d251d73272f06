package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.DataDir)
	assert.Equal(t, "organized", cfg.OutputDir)
	assert.Equal(t, filepath.Join("organized", "device_placement"), cfg.PlacementDir)
	assert.Equal(t, "accelerometer", cfg.Sensor)
	assert.Equal(t, ChunkWindow, cfg.ChunkMode)
	assert.Equal(t, 24*time.Hour, cfg.ChunkSpan)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout)
	assert.False(t, cfg.UseCache)
	assert.False(t, cfg.Rebase)
	assert.Equal(t, 12, cfg.Rolling)
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.S3.Enabled())
	assert.Equal(t, filepath.Join(".", "cache"), cfg.CacheDir())
	assert.Equal(t, filepath.Join("organized", "accelerometer"), cfg.SensorDir())
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"ORGANIZER_DATA_DIR":       "/data",
		"ORGANIZER_OUTPUT_DIR":     "/out",
		"ORGANIZER_SENSOR":         "Photoplethysmograph",
		"ORGANIZER_CHUNK":          "date",
		"ORGANIZER_CHUNK_SPAN":     "6h",
		"ORGANIZER_USE_CACHE":      "true",
		"ORGANIZER_FETCH":          "1",
		"ORGANIZER_REBASE":         "true",
		"ORGANIZER_ROLLING_WINDOW": "30",
		"DRY_RUN":                  "yes",
		"S3_ENDPOINT":              "localhost:9000",
		"S3_BUCKET":                "wearables",
		"LOG_LEVEL":                "debug",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/out/device_placement", cfg.PlacementDir)
	assert.Equal(t, "photoplethysmograph", cfg.Sensor)
	assert.Equal(t, ChunkDate, cfg.ChunkMode)
	assert.Equal(t, 6*time.Hour, cfg.ChunkSpan)
	assert.True(t, cfg.UseCache)
	assert.True(t, cfg.Fetch)
	assert.True(t, cfg.Rebase)
	assert.Equal(t, 30, cfg.Rolling)
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"ORGANIZER_CHUNK":          "weekly",
		"ORGANIZER_CHUNK_SPAN":     "soon",
		"ORGANIZER_FETCH_TIMEOUT":  "1 minute",
		"ORGANIZER_ROLLING_WINDOW": "1",
		"S3_ENDPOINT":              "localhost:9000",
	} {
		_, err := FromEnv(env(map[string]string{key: value}))
		assert.Error(t, err, key)
	}

	_, err := FromEnv(env(map[string]string{"ORGANIZER_CHUNK_SPAN": "-1h"}))
	assert.Error(t, err)
}
