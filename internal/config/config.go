package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	UploadLimitBytes int64         `yaml:"upload_limit_bytes"`
}

// PipelineConfig holds the trace-path settings.
type PipelineConfig struct {
	MaxFlows           int  `yaml:"max_flows"`
	PublishTraceEvents bool `yaml:"publish_trace_events"`
}

// SimulatorConfig holds the live-path generator settings.
type SimulatorConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Autostart bool          `yaml:"autostart"`
}

// BroadcastConfig holds the fan-out settings.
type BroadcastConfig struct {
	// OutboxSize bounds the number of undelivered events queued per subscriber.
	OutboxSize int `yaml:"outbox_size"`
}

// ClassifierConfig points at the trained model file.
type ClassifierConfig struct {
	ModelPath string `yaml:"model_path"`
}

// NATSConfig configures the NATS detection relay.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// Embedded starts an in-process NATS server on EmbeddedPort and
	// connects to it instead of URL.
	Embedded     bool `yaml:"embedded"`
	EmbeddedPort int  `yaml:"embedded_port"`
}

// ClickHouseConfig configures the detection-event sink.
type ClickHouseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Database      string        `yaml:"database"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ArchiveConfig configures on-disk archiving of trace analysis reports.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RootPath string `yaml:"root_path"`
}

// SMTPConfig holds the mail relay used for alert digests.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"` // comma separated
}

// AlerterConfig configures the periodic alert digest.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	MinConfidence float64       `yaml:"min_confidence"`
	// Labels restricts alerts to these labels. Empty means every label
	// except "normal" and "unknown".
	Labels []string   `yaml:"labels"`
	SMTP   SMTPConfig `yaml:"smtp"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Classifier ClassifierConfig `yaml:"classifier"`
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Alerter    AlerterConfig    `yaml:"alerter"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8000",
			ShutdownTimeout:  5 * time.Second,
			UploadLimitBytes: 256 << 20,
		},
		Pipeline: PipelineConfig{
			MaxFlows: 5000,
		},
		Simulator: SimulatorConfig{
			Interval: time.Second,
		},
		Broadcast: BroadcastConfig{
			OutboxSize: 256,
		},
		Classifier: ClassifierConfig{
			ModelPath: "model/ids_model.json",
		},
		NATS: NATSConfig{
			URL:          "nats://127.0.0.1:4222",
			Subject:      "ids.detections",
			EmbeddedPort: 4222,
		},
		ClickHouse: ClickHouseConfig{
			Host:          "127.0.0.1",
			Port:          9000,
			Database:      "default",
			Username:      "default",
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
		},
		Archive: ArchiveConfig{
			RootPath: "data/reports",
		},
		Alerter: AlerterConfig{
			CheckInterval: time.Minute,
			MinConfidence: 0.9,
			SMTP: SMTPConfig{
				Port: 587,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of the defaults.
// A missing file is not an error: the defaults are returned.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Pipeline.MaxFlows <= 0 {
		return fmt.Errorf("pipeline.max_flows must be positive, got %d", c.Pipeline.MaxFlows)
	}
	if c.Simulator.Interval <= 0 {
		return fmt.Errorf("simulator.interval must be a positive duration, got %s", c.Simulator.Interval)
	}
	if c.Broadcast.OutboxSize <= 0 {
		return fmt.Errorf("broadcast.outbox_size must be positive, got %d", c.Broadcast.OutboxSize)
	}
	if c.Alerter.Enabled && c.Alerter.CheckInterval <= 0 {
		return fmt.Errorf("alerter.check_interval must be a positive duration, got %s", c.Alerter.CheckInterval)
	}
	if c.ClickHouse.Enabled && c.ClickHouse.BatchSize <= 0 {
		return fmt.Errorf("clickhouse.batch_size must be positive, got %d", c.ClickHouse.BatchSize)
	}
	return nil
}
