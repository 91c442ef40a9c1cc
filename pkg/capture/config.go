package capture

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all capture configuration
type Config struct {
	Backend string        `yaml:"backend"` // direct, pipeline
	Capture CaptureConfig `yaml:"capture"`
	Record  RecordConfig  `yaml:"record"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// CaptureConfig configures the acquisition loop and display pacing
type CaptureConfig struct {
	DisplayFPS    float64       `yaml:"display_fps"`     // Live display cap (30)
	DisplayBuffer int           `yaml:"display_buffer"`  // Display mailbox capacity (2)
	ReadBackoff   time.Duration `yaml:"read_backoff"`    // Sleep after a failed read (10ms)
	StopTimeout   time.Duration `yaml:"stop_timeout"`    // Bounded wait for the loop on close (500ms)
	ErrorLogEvery int           `yaml:"error_log_every"` // Log every Nth consecutive read failure (100)
}

// RecordConfig configures recording sinks
type RecordConfig struct {
	Encoder      string        `yaml:"encoder"`       // auto, pipe, container
	CloseTimeout time.Duration `yaml:"close_timeout"` // Encoder exit bound (5s)
	Preset       string        `yaml:"preset"`        // x264 preset for the external encoder
	MinFPS       float64       `yaml:"min_fps"`       // 5
	MaxFPS       float64       `yaml:"max_fps"`       // 60
	DefaultFPS   float64       `yaml:"default_fps"`   // Used when no rate is known (30)
}

// APIConfig configures the control API
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = "direct"
	}
	if c.Capture.DisplayFPS <= 0 {
		c.Capture.DisplayFPS = 30
	}
	if c.Capture.DisplayBuffer <= 0 {
		c.Capture.DisplayBuffer = 2
	}
	if c.Capture.ReadBackoff <= 0 {
		c.Capture.ReadBackoff = 10 * time.Millisecond
	}
	if c.Capture.StopTimeout <= 0 {
		c.Capture.StopTimeout = 500 * time.Millisecond
	}
	if c.Capture.ErrorLogEvery <= 0 {
		c.Capture.ErrorLogEvery = 100
	}
	if c.Record.Encoder == "" {
		c.Record.Encoder = "auto"
	}
	if c.Record.CloseTimeout <= 0 {
		c.Record.CloseTimeout = 5 * time.Second
	}
	if c.Record.MinFPS <= 0 {
		c.Record.MinFPS = 5
	}
	if c.Record.MaxFPS <= 0 {
		c.Record.MaxFPS = 60
	}
	if c.Record.DefaultFPS <= 0 {
		c.Record.DefaultFPS = 30
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	switch c.Record.Encoder {
	case "auto", "pipe", "container":
	default:
		return fmt.Errorf("invalid record.encoder %q (want auto, pipe or container)", c.Record.Encoder)
	}
	if c.Record.MinFPS > c.Record.MaxFPS {
		return fmt.Errorf("record.min_fps %.1f exceeds record.max_fps %.1f", c.Record.MinFPS, c.Record.MaxFPS)
	}
	return nil
}
