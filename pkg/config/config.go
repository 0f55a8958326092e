// Package config describes how a client and its consumer are built, with
// defaults, file loading and environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Batch sender defaults
const (
	DefaultBatchSize      = 20
	DefaultRequestTimeout = 30 * time.Second
	DefaultQueueSize      = 1000
	DefaultFlushInterval  = 10 * time.Second
)

// File writer defaults
const (
	DefaultFilePrefix = "log"
	DefaultBufferSize = 8192
	DefaultRotateMode = "daily"
)

// Mode selects the consumer
type Mode string

const (
	ModeLogger     Mode = "logger"
	ModeBatch      Mode = "batch"
	ModeAsyncBatch Mode = "async_batch"
	ModeDebug      Mode = "debug"
)

// Duration is a time.Duration written as "10s" in YAML and JSON.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats d as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete client configuration
type Config struct {
	Mode       Mode         `yaml:"mode" json:"mode"`
	EnableUUID bool         `yaml:"enable_uuid" json:"enable_uuid"`
	Logger     LoggerConfig `yaml:"logger" json:"logger"`
	Batch      BatchConfig  `yaml:"batch" json:"batch"`
	Debug      DebugConfig  `yaml:"debug" json:"debug"`
}

// LoggerConfig configures the file consumer
type LoggerConfig struct {
	Directory  string `yaml:"directory" json:"directory"`
	RotateMode string `yaml:"rotate_mode" json:"rotate_mode"`

	// MaxFileSize caps each file. A bare number is megabytes; "512MB" or
	// "1GiB" are accepted too. Empty means unbounded.
	MaxFileSize string `yaml:"max_file_size" json:"max_file_size"`

	FilePrefix    string   `yaml:"file_prefix" json:"file_prefix"`
	BufferSize    int      `yaml:"buffer_size" json:"buffer_size"`
	FlushInterval Duration `yaml:"flush_interval" json:"flush_interval"`
	Async         bool     `yaml:"async" json:"async"`
}

// BatchConfig configures the batch and async batch consumers
type BatchConfig struct {
	ServerURL     string   `yaml:"server_url" json:"server_url"`
	AppID         string   `yaml:"app_id" json:"app_id"`
	BatchSize     int      `yaml:"batch_size" json:"batch_size"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	Compress      bool     `yaml:"compress" json:"compress"`
	ThrowOnError  bool     `yaml:"throw_on_error" json:"throw_on_error"`
	QueueSize     int      `yaml:"queue_size" json:"queue_size"`
	FlushInterval Duration `yaml:"flush_interval" json:"flush_interval"`
}

// DebugConfig configures the debug consumer
type DebugConfig struct {
	ServerURL string   `yaml:"server_url" json:"server_url"`
	AppID     string   `yaml:"app_id" json:"app_id"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
	DryRun    bool     `yaml:"dry_run" json:"dry_run"`
}

// Default returns the default configuration: an asynchronous daily-rotated
// file writer.
func Default() Config {
	return Config{
		Mode: ModeLogger,
		Logger: LoggerConfig{
			RotateMode:    DefaultRotateMode,
			FilePrefix:    DefaultFilePrefix,
			BufferSize:    DefaultBufferSize,
			FlushInterval: Duration(DefaultFlushInterval),
			Async:         true,
		},
		Batch: BatchConfig{
			BatchSize:     DefaultBatchSize,
			Timeout:       Duration(DefaultRequestTimeout),
			Compress:      true,
			QueueSize:     DefaultQueueSize,
			FlushInterval: Duration(DefaultFlushInterval),
		},
		Debug: DebugConfig{
			Timeout: Duration(DefaultRequestTimeout),
		},
	}
}

// Load reads a YAML or JSON file, detected by extension, over the defaults.
// Keys absent from the file keep their default value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
	return cfg, nil
}

// FromEnv overlays TINYEVENTS_* environment variables onto cfg. Server URL,
// app id and timeout apply to both network sections.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TINYEVENTS_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	envBool("TINYEVENTS_ENABLE_UUID", &cfg.EnableUUID)

	if v := os.Getenv("TINYEVENTS_LOG_DIRECTORY"); v != "" {
		cfg.Logger.Directory = v
	}
	if v := os.Getenv("TINYEVENTS_LOG_ROTATE_MODE"); v != "" {
		cfg.Logger.RotateMode = v
	}
	if v := os.Getenv("TINYEVENTS_LOG_MAX_FILE_SIZE"); v != "" {
		cfg.Logger.MaxFileSize = v
	}
	if v := os.Getenv("TINYEVENTS_LOG_FILE_PREFIX"); v != "" {
		cfg.Logger.FilePrefix = v
	}
	envInt("TINYEVENTS_LOG_BUFFER_SIZE", &cfg.Logger.BufferSize)
	envDuration("TINYEVENTS_LOG_FLUSH_INTERVAL", &cfg.Logger.FlushInterval)
	envBool("TINYEVENTS_LOG_ASYNC", &cfg.Logger.Async)

	if v := os.Getenv("TINYEVENTS_SERVER_URL"); v != "" {
		cfg.Batch.ServerURL = v
		cfg.Debug.ServerURL = v
	}
	if v := os.Getenv("TINYEVENTS_APP_ID"); v != "" {
		cfg.Batch.AppID = v
		cfg.Debug.AppID = v
	}
	if envDuration("TINYEVENTS_TIMEOUT", &cfg.Batch.Timeout) {
		cfg.Debug.Timeout = cfg.Batch.Timeout
	}
	envInt("TINYEVENTS_BATCH_SIZE", &cfg.Batch.BatchSize)
	envBool("TINYEVENTS_COMPRESS", &cfg.Batch.Compress)
	envBool("TINYEVENTS_THROW_ON_ERROR", &cfg.Batch.ThrowOnError)
	envInt("TINYEVENTS_QUEUE_SIZE", &cfg.Batch.QueueSize)
	envDuration("TINYEVENTS_FLUSH_INTERVAL", &cfg.Batch.FlushInterval)
	envBool("TINYEVENTS_DEBUG_DRY_RUN", &cfg.Debug.DryRun)
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return false
	}
	*dst = Duration(d)
	return true
}

// Validate reports settings the selected mode cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLogger:
		if c.Logger.Directory == "" {
			errs = append(errs, errors.New("logger.directory is required"))
		}
		switch strings.ToLower(c.Logger.RotateMode) {
		case "", "daily", "hourly":
		default:
			errs = append(errs, fmt.Errorf("logger.rotate_mode %q must be daily or hourly", c.Logger.RotateMode))
		}
		if _, err := c.Logger.MaxFileSizeMB(); err != nil {
			errs = append(errs, err)
		}
		if c.Logger.BufferSize < 0 {
			errs = append(errs, errors.New("logger.buffer_size must not be negative"))
		}
	case ModeBatch, ModeAsyncBatch:
		errs = append(errs, requireEndpoint("batch", c.Batch.ServerURL, c.Batch.AppID)...)
		if c.Batch.BatchSize < 0 {
			errs = append(errs, errors.New("batch.batch_size must not be negative"))
		}
	case ModeDebug:
		errs = append(errs, requireEndpoint("debug", c.Debug.ServerURL, c.Debug.AppID)...)
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	return errors.Join(errs...)
}

func requireEndpoint(section, serverURL, appID string) []error {
	var errs []error
	if serverURL == "" {
		errs = append(errs, fmt.Errorf("%s.server_url is required", section))
	}
	if appID == "" {
		errs = append(errs, fmt.Errorf("%s.app_id is required", section))
	}
	return errs
}

// MaxFileSizeMB returns the size cap in megabytes, zero when unbounded.
// Human sizes are rounded up to whole mebibytes.
func (l LoggerConfig) MaxFileSizeMB() (int, error) {
	s := strings.TrimSpace(l.MaxFileSize)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return max(n, 0), nil
	}

	b, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("logger.max_file_size %q: %w", l.MaxFileSize, err)
	}
	return int((b + humanize.MiByte - 1) / humanize.MiByte), nil
}
