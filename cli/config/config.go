package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a vellum.yaml configuration file.
// All values are optional and act as defaults for vellum flags.
// CLI flags always override config values.
type Config struct {
	Endpoint   string          `yaml:"endpoint"`
	Credential string          `yaml:"credential"`
	Model      ModelConfig     `yaml:"model"`
	Session    SessionConfig   `yaml:"session"`
	Preview    PreviewConfig   `yaml:"preview"`
	Storage    StorageConfig   `yaml:"storage"`
	Usage      UsageConfig     `yaml:"usage"`
	Estimate   EstimateConfig  `yaml:"estimate"`
	Adapter    AdapterConfig   `yaml:"adapter"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
}

// ModelConfig holds generation parameter defaults.
type ModelConfig struct {
	Name           string   `yaml:"name"`
	Temperature    *float64 `yaml:"temperature,omitempty"`
	MaxTokens      int      `yaml:"max_tokens"`
	ThinkingBudget int      `yaml:"thinking_budget"`
	FormatPrompt   string   `yaml:"format_prompt"`
	TestMode       bool     `yaml:"test_mode"`
}

// SessionConfig holds session controller tuning.
type SessionConfig struct {
	KeepaliveTimeout   Duration  `yaml:"keepalive_timeout"`
	LivenessInterval   Duration  `yaml:"liveness_interval"`
	ReconnectDelay     Duration  `yaml:"reconnect_delay"`
	MaxReconnects      *int      `yaml:"max_reconnects,omitempty"`
	MaxTotalReconnects *int      `yaml:"max_total_reconnects,omitempty"`
	ReassemblyGrace    *Duration `yaml:"reassembly_grace,omitempty"`
	ResumePolicy       string    `yaml:"resume_policy"`
}

// PreviewConfig holds renderer defaults.
type PreviewConfig struct {
	// LargeThreshold is the document size, in bytes, above which the
	// renderer switches to incremental appends.
	LargeThreshold int    `yaml:"large_threshold"`
	File           string `yaml:"file"`
}

// StorageConfig holds archive defaults.
type StorageConfig struct {
	Dataset        string `yaml:"dataset"`
	Backend        string `yaml:"backend"` // "", fs, s3
	Path           string `yaml:"path"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	S3PathStyle    bool   `yaml:"s3_path_style"`
	StoreDocuments *bool  `yaml:"store_documents,omitempty"`
}

// UsageConfig holds usage accounting defaults.
type UsageConfig struct {
	Backend             string   `yaml:"backend"` // file, sqlite, memory
	Path                string   `yaml:"path"`
	PricePerMillion     *float64 `yaml:"price_per_million,omitempty"`
	TestPricePerMillion *float64 `yaml:"test_price_per_million,omitempty"`
}

// EstimateConfig holds the remote estimation endpoint.
type EstimateConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// AdapterConfig holds completion notification defaults.
type AdapterConfig struct {
	Type       string            `yaml:"type"` // webhook, redis
	URL        string            `yaml:"url"`
	Channel    string            `yaml:"channel,omitempty"`
	HistoryKey string            `yaml:"history_key,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"`
}

// TelemetryConfig controls span export.
type TelemetryConfig struct {
	Traces string `yaml:"traces"` // "", stderr, or a file path
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want fs or s3)", c.Storage.Backend)
	}
	if c.Storage.Backend != "" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for backend %q", c.Storage.Backend)
	}
	switch c.Usage.Backend {
	case "", "file", "sqlite", "memory":
	default:
		return fmt.Errorf("usage.backend: unknown backend %q (want file, sqlite or memory)", c.Usage.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type: unknown adapter %q (want webhook or redis)", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for adapter %q", c.Adapter.Type)
	}
	if t := c.Model.Temperature; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("model.temperature must be within [0, 1], got %g", *t)
	}
	return nil
}
