package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg against its struct tags and the handful of
// cross-field rules the tags can't express (the disk soft watermark must
// not exceed max_cache_bytes, and at least one tier must be enabled).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.Disk.Enabled && cfg.Disk.SoftWatermark > cfg.Disk.MaxCacheBytes {
		return fmt.Errorf("disk.soft_watermark (%d) must not exceed disk.max_cache_bytes (%d)",
			cfg.Disk.SoftWatermark, cfg.Disk.MaxCacheBytes)
	}

	if !cfg.Memory.Enabled && !cfg.Disk.Enabled && !cfg.Cloud.Enabled {
		return fmt.Errorf("at least one of memory, disk, or cloud must be enabled")
	}

	return nil
}
