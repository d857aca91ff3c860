package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CaptureConfig identifies the observer's capture source. The source is a
// locator: "int:eth0" or a bare interface name for live capture,
// "pcapfile:/path" for a recorded trace.
type CaptureConfig struct {
	Source string `yaml:"source"`
}

// SpiderConfig holds the worker pool settings for the active measurement.
type SpiderConfig struct {
	WorkerCount int    `yaml:"worker_count"`
	ConnTimeout string `yaml:"conn_timeout"`
	GracePeriod string `yaml:"grace_period"`
}

// ObserverConfig holds the flow table maintenance settings.
type ObserverConfig struct {
	FlushInterval string `yaml:"flush_interval"`
	IdleTimeout   string `yaml:"idle_timeout"`
}

// NATSConfig configures the NATS output sink.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig configures the ClickHouse output sink.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SinkConfig selects and configures the merged-record output sink.
type SinkConfig struct {
	Type       string           `yaml:"type"`
	Path       string           `yaml:"path"`
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ResolverConfig points at the measurement-federation endpoint used for
// address-list retrieval.
type ResolverConfig struct {
	URL            string `yaml:"url"`
	RequestTimeout string `yaml:"request_timeout"`
}

// APIConfig configures the optional HTTP status endpoint.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Spider   SpiderConfig   `yaml:"spider"`
	Observer ObserverConfig `yaml:"observer"`
	Sink     SinkConfig     `yaml:"sink"`
	Resolver ResolverConfig `yaml:"resolver"`
	API      APIConfig      `yaml:"api"`
}

// Load reads the configuration from a YAML file, applying defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for runs
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Capture.Source == "" {
		c.Capture.Source = "int:eth0"
	}
	if c.Spider.WorkerCount == 0 {
		c.Spider.WorkerCount = 100
	}
	if c.Spider.ConnTimeout == "" {
		c.Spider.ConnTimeout = "10s"
	}
	if c.Spider.GracePeriod == "" {
		c.Spider.GracePeriod = "5s"
	}
	if c.Observer.FlushInterval == "" {
		c.Observer.FlushInterval = "1s"
	}
	if c.Observer.IdleTimeout == "" {
		c.Observer.IdleTimeout = "30s"
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "jsonl"
	}
	if c.Sink.Path == "" {
		c.Sink.Path = "results.ndjson"
	}
	if c.Resolver.RequestTimeout == "" {
		c.Resolver.RequestTimeout = "30s"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8840"
	}
}
