package config

import (
	"strings"
	"time"

	"github.com/marmos91/imagecache/internal/bytesize"
)

// ApplyDefaults fills any unspecified fields of cfg with sensible
// defaults. Zero numbers and empty strings are replaced; booleans and
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyBloomDefaults(&cfg.Bloom)
	applyCoalescingDefaults(&cfg.Coalescing)
	applyMemoryDefaults(&cfg.Memory)
	applyDiskDefaults(&cfg.Disk)
	applyCloudDefaults(&cfg.Cloud)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyBloomDefaults(cfg *BloomConfig) {
	if cfg.EstimatedItems == 0 {
		cfg.EstimatedItems = 1_000_000
	}
	if cfg.FalsePositiveRate == 0 {
		cfg.FalsePositiveRate = 0.01
	}
	if cfg.SlotCount == 0 {
		cfg.SlotCount = 4
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
}

func applyCoalescingDefaults(cfg *CoalescingConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = bytesize.ByteSize(256 * bytesize.MiB)
	}
}

func applyDiskDefaults(cfg *DiskConfig) {
	if cfg.Shards == 0 {
		cfg.Shards = 16
	}
	if cfg.Extension == "" {
		cfg.Extension = "blob"
	}
	if cfg.MaxCacheBytes == 0 {
		cfg.MaxCacheBytes = bytesize.ByteSize(10 * bytesize.GiB)
	}
	if cfg.SoftWatermark == 0 {
		cfg.SoftWatermark = cfg.MaxCacheBytes * 9 / 10
	}
	if cfg.MinCleanupBytes == 0 {
		cfg.MinCleanupBytes = cfg.MaxCacheBytes / 20
	}
	if cfg.MinAgeToDelete == 0 {
		cfg.MinAgeToDelete = time.Minute
	}
	if cfg.RetryDeletionAfter == 0 {
		cfg.RetryDeletionAfter = 5 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
}

func applyCloudDefaults(cfg *CloudConfig) {
	if cfg.MaxElapsedTime == 0 {
		cfg.MaxElapsedTime = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config with all defaults applied and the
// memory and disk tiers enabled (the cloud tier is off by default since
// it needs a bucket).
func GetDefaultConfig() *Config {
	cfg := &Config{
		Memory: MemoryConfig{Enabled: true},
		Disk: DiskConfig{
			Enabled: true,
			Root:    "/var/lib/imagecache/disk",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
