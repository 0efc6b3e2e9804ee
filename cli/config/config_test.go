package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("VELLUM_TEST_KEY", "secret-key")

	yaml := `endpoint: https://gen.example.com/api/process
credential: ${VELLUM_TEST_KEY}

model:
  name: html-large
  temperature: 0.7
  max_tokens: 64000
  thinking_budget: 8000
  format_prompt: use dark colors
  test_mode: true

session:
  keepalive_timeout: 45s
  liveness_interval: 500ms
  reconnect_delay: 3s
  max_reconnects: 7
  max_total_reconnects: 20
  reassembly_grace: 0s
  resume_policy: trust

preview:
  large_threshold: 1048576
  file: preview.html

storage:
  dataset: vellum
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://minio.local
  s3_path_style: true
  store_documents: false

usage:
  backend: sqlite
  path: /tmp/usage.db
  price_per_million: 2.5

estimate:
  endpoint: https://gen.example.com/api/analyze-tokens

adapter:
  type: webhook
  url: https://hooks.example.com/vellum
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3

telemetry:
  traces: stderr
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "endpoint", cfg.Endpoint, "https://gen.example.com/api/process")
	assertEqual(t, "credential", cfg.Credential, "secret-key")
	assertEqual(t, "model.name", cfg.Model.Name, "html-large")
	if cfg.Model.Temperature == nil || *cfg.Model.Temperature != 0.7 {
		t.Errorf("model.temperature = %v", cfg.Model.Temperature)
	}
	if cfg.Model.MaxTokens != 64000 || cfg.Model.ThinkingBudget != 8000 || !cfg.Model.TestMode {
		t.Errorf("model = %+v", cfg.Model)
	}

	if cfg.Session.KeepaliveTimeout.Duration != 45*time.Second {
		t.Errorf("keepalive_timeout = %v", cfg.Session.KeepaliveTimeout)
	}
	if cfg.Session.LivenessInterval.Duration != 500*time.Millisecond {
		t.Errorf("liveness_interval = %v", cfg.Session.LivenessInterval)
	}
	if cfg.Session.MaxReconnects == nil || *cfg.Session.MaxReconnects != 7 {
		t.Errorf("max_reconnects = %v", cfg.Session.MaxReconnects)
	}
	if cfg.Session.ReassemblyGrace == nil || cfg.Session.ReassemblyGrace.Duration != 0 {
		t.Errorf("reassembly_grace = %v, want explicit 0", cfg.Session.ReassemblyGrace)
	}
	assertEqual(t, "session.resume_policy", cfg.Session.ResumePolicy, "trust")

	if cfg.Preview.LargeThreshold != 1048576 {
		t.Errorf("preview.large_threshold = %d", cfg.Preview.LargeThreshold)
	}

	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/prefix")
	if !cfg.Storage.S3PathStyle {
		t.Error("expected storage.s3_path_style=true")
	}
	if cfg.Storage.StoreDocuments == nil || *cfg.Storage.StoreDocuments {
		t.Errorf("storage.store_documents = %v, want explicit false", cfg.Storage.StoreDocuments)
	}

	assertEqual(t, "usage.backend", cfg.Usage.Backend, "sqlite")
	if cfg.Usage.PricePerMillion == nil || *cfg.Usage.PricePerMillion != 2.5 {
		t.Errorf("usage.price_per_million = %v", cfg.Usage.PricePerMillion)
	}
	if cfg.Usage.TestPricePerMillion != nil {
		t.Errorf("usage.test_price_per_million = %v, want nil", *cfg.Usage.TestPricePerMillion)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.headers.Authorization", cfg.Adapter.Headers["Authorization"], "Bearer token123")
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v", cfg.Adapter.Retries)
	}
	assertEqual(t, "telemetry.traces", cfg.Telemetry.Traces, "stderr")
}

func TestLoad_EmptyConfig(t *testing.T) {
	for _, content := range []string{"", "   \n\n  ", "# only a comment\n"} {
		cfg, err := Load(writeTemp(t, content))
		if err != nil {
			t.Fatalf("Load(%q) failed: %v", content, err)
		}
		if cfg.Endpoint != "" || cfg.Session.MaxReconnects != nil {
			t.Errorf("expected zero config, got %+v", cfg)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid yaml", "endpoint: [unclosed", "invalid YAML"},
		{"unknown key", "endpont: https://x\n", "invalid YAML"},
		{"unknown nested key", "session:\n  keepalive: 5s\n", "invalid YAML"},
		{"bad duration", "session:\n  keepalive_timeout: soon\n", "invalid duration"},
		{"negative duration", "session:\n  reconnect_delay: -1s\n", "must not be negative"},
		{"bad storage backend", "storage:\n  backend: gcs\n  path: x\n", "unknown backend"},
		{"storage without path", "storage:\n  backend: fs\n", "storage.path is required"},
		{"bad usage backend", "usage:\n  backend: postgres\n", "unknown backend"},
		{"bad adapter", "adapter:\n  type: kafka\n  url: x\n", "unknown adapter"},
		{"adapter without url", "adapter:\n  type: redis\n", "adapter.url is required"},
		{"temperature range", "model:\n  temperature: 1.5\n", "temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "adapter:\n  type: webhook\n  url: http://x\n  retries: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 0 {
		t.Errorf("retries = %v, want explicit 0", cfg.Adapter.Retries)
	}

	cfg, err = Load(writeTemp(t, "adapter:\n  type: webhook\n  url: http://x\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries != nil {
		t.Errorf("retries = %v, want nil", *cfg.Adapter.Retries)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := LoadOptional("")
	if err != nil {
		t.Fatalf("LoadOptional without file: %v", err)
	}
	if cfg.Endpoint != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, DefaultPath), []byte("endpoint: https://x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional("")
	if err != nil {
		t.Fatalf("LoadOptional with default file: %v", err)
	}
	assertEqual(t, "endpoint", cfg.Endpoint, "https://x")
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vellum.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}
