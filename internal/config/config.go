package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration parameters
type Config struct {
	TargetApp          string  `json:"target_app" yaml:"target_app"`
	OutputDir          string  `json:"output_dir" yaml:"output_dir"`
	DBPath             string  `json:"db_path" yaml:"db_path"`
	MetricsPath        string  `json:"metrics_path" yaml:"metrics_path"`
	MaxSteps           int     `json:"max_steps" yaml:"max_steps"`
	MaxCaptureRetries  int     `json:"max_capture_retries" yaml:"max_capture_retries"`
	OcclusionThreshold float64 `json:"occlusion_threshold" yaml:"occlusion_threshold"`
	CompressRounds     int     `json:"compress_rounds" yaml:"compress_rounds"`
	DeviceURL          string  `json:"device_url" yaml:"device_url"`
	DumpDir            string  `json:"dump_dir" yaml:"dump_dir"`
	DecisionsPath      string  `json:"decisions_path" yaml:"decisions_path"`
	RequestTimeoutMs   int     `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	CheckpointEvery    int     `json:"checkpoint_every" yaml:"checkpoint_every"`
	APIAddr            string  `json:"api_addr" yaml:"api_addr"`
	LogLevel           string  `json:"log_level" yaml:"log_level"`
	RootFeature        string  `json:"root_feature" yaml:"root_feature"`
	RootDescription    string  `json:"root_description" yaml:"root_description"`
}

// LoadConfig reads and validates configuration from a JSON or YAML file.
// The format is chosen by extension; anything other than .yaml/.yml is JSON.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	// Apply defaults for missing values
	ApplyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults sets default values for unspecified fields. It is safe to
// call more than once.
func ApplyDefaults(cfg *Config) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "exploration"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "explorer.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 100
	}
	if cfg.MaxCaptureRetries == 0 {
		cfg.MaxCaptureRetries = 3
	}
	if cfg.OcclusionThreshold == 0 {
		cfg.OcclusionThreshold = 0.70
	}
	if cfg.CompressRounds == 0 {
		cfg.CompressRounds = 3
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = 5
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RootFeature == "" {
		cfg.RootFeature = cfg.TargetApp
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if cfg.TargetApp == "" {
		return fmt.Errorf("target_app is required")
	}
	if cfg.DeviceURL == "" && cfg.DumpDir == "" {
		return fmt.Errorf("one of device_url or dump_dir is required")
	}
	if cfg.DeviceURL != "" && cfg.DumpDir != "" {
		return fmt.Errorf("device_url and dump_dir are mutually exclusive")
	}
	if cfg.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be >= 1")
	}
	if cfg.MaxCaptureRetries < 1 {
		return fmt.Errorf("max_capture_retries must be >= 1")
	}
	if cfg.OcclusionThreshold <= 0 || cfg.OcclusionThreshold > 1 {
		return fmt.Errorf("occlusion_threshold must be in (0, 1]")
	}
	if cfg.CompressRounds < 1 {
		return fmt.Errorf("compress_rounds must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint_every must be >= 1")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}
