package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Stream    StreamConfig    `yaml:"stream"`
	Retention RetentionConfig `yaml:"retention"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	APIKeys struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// EngineConfig controls the workflow orchestrator.
type EngineConfig struct {
	// MaxLoops is the hard cap on agent-loop iterations per run.
	MaxLoops int `yaml:"max_loops"`
	// StepTimeout bounds one model-capability call.
	StepTimeout Duration `yaml:"step_timeout"`
	// RouterTimeout bounds the routing decision call.
	RouterTimeout Duration `yaml:"router_timeout"`
}

// StreamConfig holds chunk-log settings for resumable streams.
type StreamConfig struct {
	// Dir is where per-run chunk logs are written.
	Dir string `yaml:"dir"`
	// Sync fsyncs the chunk log after every append.
	Sync bool `yaml:"sync"`
	// MaxRecordBytes rejects oversized chunk records on recovery.
	MaxRecordBytes SizeBytes `yaml:"max_record_bytes"`
}

// RetentionConfig holds configuration for the chunk-log sweep runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how long finished-run chunk logs are kept.
	Period Duration `yaml:"period"`
	DryRun bool     `yaml:"dry_run"`
}

// CatalogConfig points at the content registry consumed by the research
// agent's catalog_search tool.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// Addr returns the joined listen address.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
