package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for invalid log format")
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_MissingDiskRootWhenEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Disk.Root = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for missing disk root")
	}
}

func TestValidate_CloudEnabledWithoutBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cloud.Enabled = true
	cfg.Cloud.Bucket = ""
	cfg.Cloud.Region = "us-east-1"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for cloud enabled without bucket")
	}
}

func TestValidate_SoftWatermarkExceedsMaxBytes(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Disk.MaxCacheBytes = 1000
	cfg.Disk.SoftWatermark = 2000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for watermark exceeding max bytes")
	}
	if !strings.Contains(err.Error(), "soft_watermark") {
		t.Errorf("expected error about soft_watermark, got: %v", err)
	}
}

func TestValidate_NoTiersEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Memory.Enabled = false
	cfg.Disk.Enabled = false
	cfg.Cloud.Enabled = false

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error when no tier is enabled")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("validation failed for level %q: %v", level, err)
		}
		if cfg.Logging.Level != level {
			t.Errorf("expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
