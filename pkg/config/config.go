// Package config loads and validates the daemon's static configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/imagecache/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the imagecached daemon configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (IMAGECACHE_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// Environment variables are read only when a configuration file is found;
// without one, Load returns GetDefaultConfig unchanged. No CLI flag is
// bound into the configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds how long the daemon waits for in-flight
	// work to drain before exiting.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Bloom configures the cascade's rotating bloom filter gate.
	Bloom BloomConfig `mapstructure:"bloom" yaml:"bloom"`

	// Coalescing configures the request coalescer's caller-scoped timeout.
	Coalescing CoalescingConfig `mapstructure:"coalescing" yaml:"coalescing"`

	// UploadQueue bounds the async replication queue.
	UploadQueue UploadQueueConfig `mapstructure:"upload_queue" yaml:"upload_queue"`

	// Memory configures the in-process hot tier.
	Memory MemoryConfig `mapstructure:"memory" yaml:"memory"`

	// Disk configures the tiered disk cache engine.
	Disk DiskConfig `mapstructure:"disk" yaml:"disk"`

	// Cloud configures the S3-backed remote tier. Omit to run without one.
	Cloud CloudConfig `mapstructure:"cloud" yaml:"cloud"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output encoding: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server. When
// Enabled is false, the metrics sink is a nil no-op (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Port is the HTTP port the /metrics endpoint listens on.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// BloomConfig sizes the rotating bloom filter gate (spec §4.B).
type BloomConfig struct {
	// EstimatedItems is the expected population per slot, used to size
	// the underlying bit array and probe count.
	EstimatedItems int64 `mapstructure:"estimated_items" validate:"required,gt=0" yaml:"estimated_items"`
	// FalsePositiveRate is the target false-positive rate, in (0, 1).
	FalsePositiveRate float64 `mapstructure:"false_positive_rate" validate:"required,gt=0,lt=1" yaml:"false_positive_rate"`
	// SlotCount is the number of rotating generations the filter keeps.
	SlotCount int `mapstructure:"slot_count" validate:"required,gt=0" yaml:"slot_count"`
	// CheckpointPath, when non-empty, turns on loading the filter's
	// checkpoint at startup and persisting it periodically. The checkpoint
	// is stored through the disk tier under {disk.root}/__meta/bloom/v1;
	// the value itself is not used as a file path.
	CheckpointPath string `mapstructure:"checkpoint_path" yaml:"checkpoint_path"`
	// CheckpointInterval is how often the checkpoint is written.
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
}

// CoalescingConfig configures the cascade's request coalescer.
type CoalescingConfig struct {
	// Timeout bounds how long a caller waits for an in-flight
	// GetOrCreateAsync factory call before giving up.
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`
}

// UploadQueueConfig bounds the async replication queue (spec §4.C).
type UploadQueueConfig struct {
	// MaxBytes is the total buffered size across in-flight stores.
	// Zero means unbounded.
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes,omitempty"`
}

// MemoryConfig configures the insert-only hot tier.
type MemoryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// MaxBytes bounds total resident size. ApplyDefaults replaces zero
	// with 256MiB.
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes,omitempty"`
}

// DiskConfig configures the tiered, content-addressed disk cache engine
// (spec §4.G).
type DiskConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Root is the directory content files are written under.
	Root string `mapstructure:"root" validate:"required_if=Enabled true" yaml:"root"`
	// MetaRoot is the directory metadata shard logs live under. Defaults
	// to Root/meta when empty.
	MetaRoot string `mapstructure:"meta_root" yaml:"meta_root,omitempty"`
	// Shards is the number of independent metadata shards.
	Shards int `mapstructure:"shards" validate:"omitempty,min=1" yaml:"shards,omitempty"`
	// Extension is appended to every content file, without the leading dot.
	Extension string `mapstructure:"extension" yaml:"extension,omitempty"`

	MaxCacheBytes      bytesize.ByteSize `mapstructure:"max_cache_bytes" validate:"required_if=Enabled true" yaml:"max_cache_bytes"`
	SoftWatermark      bytesize.ByteSize `mapstructure:"soft_watermark" yaml:"soft_watermark,omitempty"`
	MinCleanupBytes    bytesize.ByteSize `mapstructure:"min_cleanup_bytes" yaml:"min_cleanup_bytes,omitempty"`
	MinAgeToDelete     time.Duration     `mapstructure:"min_age_to_delete" yaml:"min_age_to_delete,omitempty"`
	RetryDeletionAfter time.Duration     `mapstructure:"retry_deletion_after" yaml:"retry_deletion_after,omitempty"`
	// CleanupInterval is how often the background runner wakes to check
	// the soft watermark.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval,omitempty"`
	// MinStoreSize makes the disk tier decline replicating blobs smaller
	// than this (not worth a disk write).
	MinStoreSize bytesize.ByteSize `mapstructure:"min_store_size" yaml:"min_store_size,omitempty"`
	// WriteTimeout bounds how long a single store waits for its per-key
	// lock.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout,omitempty"`
}

// CloudConfig configures the S3-backed remote tier (spec §4 EXPANSION M).
type CloudConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Region is the AWS region the bucket lives in.
	Region string `mapstructure:"region" validate:"required_if=Enabled true" yaml:"region"`
	// Bucket is the target S3 bucket.
	Bucket string `mapstructure:"bucket" validate:"required_if=Enabled true" yaml:"bucket"`
	// KeyPrefix is an optional prefix applied to every object key.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	// CreateBucketIfMissing has the cloud tier create Bucket at startup
	// if HeadBucket reports it absent, rather than failing startup.
	CreateBucketIfMissing bool `mapstructure:"create_bucket_if_missing" yaml:"create_bucket_if_missing,omitempty"`
	// MaxElapsedTime bounds the total retry budget for a single S3 call.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time,omitempty"`
	// Endpoint overrides the default AWS endpoint resolution; set for
	// S3-compatible stores (MinIO, R2, etc).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with user-friendly errors when the file
// can't be found.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  imagecached init\n\n"+
				"Or specify a custom config file:\n"+
				"  imagecached <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  imagecached init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes a default configuration file to the default location.
// Fails if a file already exists there unless force is set.
func InitConfig(force bool) (string, error) {
	return InitConfigToPath(GetDefaultConfigPath(), force)
}

// InitConfigToPath writes a default configuration file to path. Fails if
// a file already exists there unless force is set.
func InitConfigToPath(path string, force bool) (string, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()
	if err := SaveConfig(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}

// setupViper configures viper with environment variable and config file
// search settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("IMAGECACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined mapstructure decode hook for
// ByteSize and time.Duration fields.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// enabling human-readable sizes like "1Gi", "500Mi", "100MB" in config
// files.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, enabling
// human-readable durations like "30s", "5m", "1h" in config files.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME,
// falling back to ~/.config, falling back to the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "imagecache")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "imagecache")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
