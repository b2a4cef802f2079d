package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the producer and consumer processes
type Config struct {
	// Feed
	FeedURL        string
	AppID          string
	UserAgent      string
	AcceptEncoding string
	FeedTimeout    time.Duration

	// Producer
	PollInterval time.Duration
	ArchiveDir   string
	WorkingDir   string

	// Consumer
	ProcessedDir string
	ScanOnStart  bool
	StopsFile    string
	ListenAddr   string
	CORSOrigins  []string

	// Mirror database (empty path disables it)
	DatabasePath      string
	RetentionDuration time.Duration

	// Offline replay
	ReplaySourceDir string
	ReplayInterval  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// fileConfig is the TOML overlay. Unset keys keep the env/default value.
type fileConfig struct {
	FeedURL             *string  `toml:"feed_url"`
	AppID               *string  `toml:"app_id"`
	UserAgent           *string  `toml:"user_agent"`
	FeedTimeoutSeconds  *int     `toml:"feed_timeout_seconds"`
	PollIntervalSeconds *int     `toml:"poll_interval_seconds"`
	ArchiveDir          *string  `toml:"archive_dir"`
	WorkingDir          *string  `toml:"working_dir"`
	ProcessedDir        *string  `toml:"processed_dir"`
	ScanOnStart         *bool    `toml:"scan_on_start"`
	StopsFile           *string  `toml:"stops_file"`
	ListenAddr          *string  `toml:"listen_addr"`
	CORSOrigins         []string `toml:"cors_origins"`
	DatabasePath        *string  `toml:"database_path"`
	RetentionHours      *int     `toml:"retention_hours"`
	ReplaySourceDir     *string  `toml:"replay_source_dir"`
	ReplayIntervalSecs  *int     `toml:"replay_interval_seconds"`
	LogLevel            *string  `toml:"log_level"`
	LogFormat           *string  `toml:"log_format"`
}

// Load reads configuration from .env files, environment variables and an
// optional TOML file, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// .env.local overrides .env for local development
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg := FromEnv()

	if path == "" {
		path = os.Getenv("TRIMET_CONFIG")
	}
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables with sensible defaults
func FromEnv() *Config {
	return &Config{
		// Feed
		FeedURL:        getEnv("TRIMET_FEED_URL", "http://developer.trimet.org/ws/v2/vehicles"),
		AppID:          getEnv("TRIMET_APP_ID", ""),
		UserAgent:      getEnv("TRIMET_USER_AGENT", "trimet-twin poller"),
		AcceptEncoding: getEnv("TRIMET_ACCEPT_ENCODING", "gzip, deflate"),
		FeedTimeout:    time.Duration(getEnvInt("FEED_TIMEOUT_SECONDS", 10)) * time.Second,

		// Producer
		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL", 10)) * time.Second,
		ArchiveDir:   getEnv("ARCHIVE_DIR", "/data/gtfs_archive"),
		WorkingDir:   getEnv("WORKING_DIR", "/data/gtfs_working"),

		// Consumer
		ProcessedDir: getEnv("PROCESSED_DIR", "/data/gtfs_processed"),
		ScanOnStart:  getEnvBool("SCAN_ON_START", true),
		StopsFile:    getEnv("STOPS_FILE", "/data/gtfs_stops/stops.txt"),
		ListenAddr:   ":" + getEnv("PORT", "8081"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "*")),

		// Mirror database
		DatabasePath:      getEnv("SQLITE_DATABASE", ""),
		RetentionDuration: time.Duration(getEnvInt("RETENTION_HOURS", 1)) * time.Hour,

		// Offline replay
		ReplaySourceDir: getEnv("REPLAY_SOURCE_DIR", "/data/gtfs_data_offline"),
		ReplayInterval:  time.Duration(getEnvInt("REPLAY_INTERVAL", 10)) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.FeedTimeout <= 0 {
		return fmt.Errorf("feed timeout must be positive, got %v", c.FeedTimeout)
	}
	if c.WorkingDir == "" {
		return fmt.Errorf("working directory is required")
	}
	return nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.FeedURL, fc.FeedURL)
	setString(&c.AppID, fc.AppID)
	setString(&c.UserAgent, fc.UserAgent)
	setSeconds(&c.FeedTimeout, fc.FeedTimeoutSeconds)
	setSeconds(&c.PollInterval, fc.PollIntervalSeconds)
	setString(&c.ArchiveDir, fc.ArchiveDir)
	setString(&c.WorkingDir, fc.WorkingDir)
	setString(&c.ProcessedDir, fc.ProcessedDir)
	if fc.ScanOnStart != nil {
		c.ScanOnStart = *fc.ScanOnStart
	}
	setString(&c.StopsFile, fc.StopsFile)
	setString(&c.ListenAddr, fc.ListenAddr)
	if len(fc.CORSOrigins) > 0 {
		c.CORSOrigins = fc.CORSOrigins
	}
	setString(&c.DatabasePath, fc.DatabasePath)
	if fc.RetentionHours != nil {
		c.RetentionDuration = time.Duration(*fc.RetentionHours) * time.Hour
	}
	setString(&c.ReplaySourceDir, fc.ReplaySourceDir)
	setSeconds(&c.ReplayInterval, fc.ReplayIntervalSecs)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
