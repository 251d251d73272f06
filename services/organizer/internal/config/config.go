package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultOutputDir    = "organized"
	defaultSensor       = "accelerometer"
	defaultChunkSpan    = 24 * time.Hour
	defaultFetchTimeout = 60 * time.Second
	defaultRolling      = 12
)

// Chunk modes.
const (
	ChunkWindow = "window"
	ChunkDate   = "date"
)

// S3 holds optional artifact upload settings. Upload is enabled when
// Endpoint is set.
type S3 struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
	Secure    bool
}

// Enabled reports whether artifacts should be uploaded.
func (s S3) Enabled() bool { return s.Endpoint != "" }

// Config holds runtime configuration for the organizer job.
type Config struct {
	DataDir      string
	OutputDir    string
	PlacementDir string
	DevicesFile  string
	Sensor       string
	ChunkMode    string
	ChunkSpan    time.Duration
	UseCache     bool
	Rebase       bool
	Rolling      int
	ActivityLog  string
	Fetch        bool
	FetchTimeout time.Duration
	DatabaseURL  string
	DryRun       bool
	LogLevel     string
	S3           S3
}

// CacheDir is where fetched raw archives are kept.
func (c Config) CacheDir() string { return filepath.Join(c.DataDir, "cache") }

// SensorDir is the output directory of the configured sensor.
func (c Config) SensorDir() string { return filepath.Join(c.OutputDir, c.Sensor) }

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{}

	cfg.DataDir = get("ORGANIZER_DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}

	cfg.OutputDir = get("ORGANIZER_OUTPUT_DIR")
	if cfg.OutputDir == "" {
		cfg.OutputDir = defaultOutputDir
	}

	cfg.PlacementDir = get("ORGANIZER_PLACEMENT_DIR")
	if cfg.PlacementDir == "" {
		cfg.PlacementDir = filepath.Join(cfg.OutputDir, "device_placement")
	}

	cfg.DevicesFile = get("ORGANIZER_DEVICES_FILE")

	cfg.Sensor = strings.ToLower(get("ORGANIZER_SENSOR"))
	if cfg.Sensor == "" {
		cfg.Sensor = defaultSensor
	}

	cfg.ChunkMode = strings.ToLower(get("ORGANIZER_CHUNK"))
	switch cfg.ChunkMode {
	case "":
		cfg.ChunkMode = ChunkWindow
	case ChunkWindow, ChunkDate:
	default:
		return cfg, fmt.Errorf("invalid ORGANIZER_CHUNK: %q (want %s or %s)", cfg.ChunkMode, ChunkWindow, ChunkDate)
	}

	cfg.ChunkSpan = defaultChunkSpan
	if v := get("ORGANIZER_CHUNK_SPAN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ORGANIZER_CHUNK_SPAN: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("invalid ORGANIZER_CHUNK_SPAN: must be positive")
		}
		cfg.ChunkSpan = d
	}

	cfg.UseCache = truthy(get("ORGANIZER_USE_CACHE"))
	cfg.Rebase = truthy(get("ORGANIZER_REBASE"))

	cfg.Rolling = defaultRolling
	if v := get("ORGANIZER_ROLLING_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 {
			return cfg, fmt.Errorf("invalid ORGANIZER_ROLLING_WINDOW: %q (want an integer >= 2)", v)
		}
		cfg.Rolling = n
	}
	cfg.ActivityLog = get("ORGANIZER_ACTIVITY_LOG")
	cfg.Fetch = truthy(get("ORGANIZER_FETCH"))

	cfg.FetchTimeout = defaultFetchTimeout
	if v := get("ORGANIZER_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ORGANIZER_FETCH_TIMEOUT: %w", err)
		}
		cfg.FetchTimeout = d
	}

	cfg.DatabaseURL = get("DATABASE_URL")
	cfg.DryRun = truthy(get("DRY_RUN"))
	cfg.LogLevel = get("LOG_LEVEL")

	cfg.S3 = S3{
		Endpoint:  get("S3_ENDPOINT"),
		Bucket:    get("S3_BUCKET"),
		AccessKey: get("S3_ACCESS_KEY"),
		SecretKey: get("S3_SECRET_KEY"),
		Prefix:    get("S3_PREFIX"),
		Secure:    truthy(get("S3_SECURE")),
	}
	if cfg.S3.Enabled() && cfg.S3.Bucket == "" {
		return cfg, fmt.Errorf("S3_BUCKET is required when S3_ENDPOINT is set")
	}

	return cfg, nil
}

func truthy(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}
