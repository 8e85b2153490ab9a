package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all sensor configuration.
type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	Database  DatabaseConfig  `koanf:"database"`
	Capture   CaptureConfig   `koanf:"capture"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Detect    DetectConfig    `koanf:"detect"`
	Model     ModelConfig     `koanf:"model"`
	Learning  LearningConfig  `koanf:"learning"`
	Retention RetentionConfig `koanf:"retention"`
	Hub       HubConfig       `koanf:"hub"`
}

type ServiceConfig struct {
	HTTPListen string `koanf:"http_listen"`
	Debug      bool   `koanf:"debug"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type CaptureConfig struct {
	Interfaces []string `koanf:"interfaces"`
	BufferSize int      `koanf:"buffer_size"`
	Snaplen    int      `koanf:"snaplen"`
	Promisc    bool     `koanf:"promisc"`
}

type DispatchConfig struct {
	Workers   int    `koanf:"workers"`
	Strategy  string `koanf:"strategy"` // round-robin, least-loaded, affinity
	QueueSize int    `koanf:"queue_size"`
	// DrainGraceSeconds bounds queue draining during shutdown.
	DrainGraceSeconds int `koanf:"drain_grace_seconds"`
}

type DetectConfig struct {
	GratuitousThreshold int     `koanf:"gratuitous_threshold"`
	GratuitousWindowSec float64 `koanf:"gratuitous_window"`
	PendingTTLSec       int     `koanf:"pending_ttl"`
	MaxHistory          int     `koanf:"max_history"`
	VendorCacheSize     int     `koanf:"vendor_cache_size"`
}

type ModelConfig struct {
	Path      string `koanf:"path"`
	BackupDir string `koanf:"backup_dir"`
	SchemaDir string `koanf:"schema_dir"`
}

type LearningConfig struct {
	Enabled      bool    `koanf:"enabled"`
	IntervalSec  int     `koanf:"interval"`
	MinSamples   int     `koanf:"min_samples"`
	BatchSize    int     `koanf:"batch_size"`
	LearningRate float64 `koanf:"rate"`
	MaxHistory   int     `koanf:"max_history"`
	StateFile    string  `koanf:"state_file"`
}

type RetentionConfig struct {
	DaysToKeep        int `koanf:"days_to_keep"`
	ArchiveDaysToKeep int `koanf:"archive_days_to_keep"`
	MaxActiveAlerts   int `koanf:"max_active_alerts"`
}

type HubConfig struct {
	QueueSize int `koanf:"queue_size"`
	// OverflowLimit disconnects a subscriber after this many consecutive
	// dropped events.
	OverflowLimit int `koanf:"overflow_limit"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service:  ServiceConfig{HTTPListen: ":8000"},
		Database: DatabaseConfig{Path: "safelink.db"},
		Capture: CaptureConfig{
			Interfaces: []string{"eth0"},
			BufferSize: 4096,
			Snaplen:    128,
			Promisc:    true,
		},
		Dispatch: DispatchConfig{
			Workers:           4,
			Strategy:          "least-loaded",
			QueueSize:         1024,
			DrainGraceSeconds: 5,
		},
		Detect: DetectConfig{
			GratuitousThreshold: 5,
			GratuitousWindowSec: 5.0,
			PendingTTLSec:       300,
			MaxHistory:          1000,
			VendorCacheSize:     1024,
		},
		Model: ModelConfig{
			Path:      "models/ann_model.json",
			BackupDir: "models/backups",
			SchemaDir: "models/feature_schemas",
		},
		Learning: LearningConfig{
			Enabled:      true,
			IntervalSec:  3600,
			MinSamples:   100,
			BatchSize:    32,
			LearningRate: 1e-4,
			MaxHistory:   10000,
			StateFile:    "models/continuous_learning_stats.json",
		},
		Retention: RetentionConfig{
			DaysToKeep:        30,
			ArchiveDaysToKeep: 365,
			MaxActiveAlerts:   10000,
		},
		Hub: HubConfig{QueueSize: 64, OverflowLimit: 256},
	}
}

// Load reads an optional YAML file and overlays SAFELINK_* environment
// variables: SAFELINK_DISPATCH__WORKERS → dispatch.workers.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("SAFELINK_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "SAFELINK_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be >= 1, got %d", c.Dispatch.Workers)
	}
	switch c.Dispatch.Strategy {
	case "round-robin", "least-loaded", "affinity":
	default:
		return fmt.Errorf("unknown dispatch.strategy %q", c.Dispatch.Strategy)
	}
	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be >= 1, got %d", c.Dispatch.QueueSize)
	}
	if c.Detect.GratuitousThreshold < 1 {
		return fmt.Errorf("detect.gratuitous_threshold must be >= 1, got %d", c.Detect.GratuitousThreshold)
	}
	if c.Hub.QueueSize < 1 {
		return fmt.Errorf("hub.queue_size must be >= 1, got %d", c.Hub.QueueSize)
	}
	return nil
}
