package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
server:
  address: ":9090"
auth:
  mode: static
  tokens:
    - token: t-1
      name: ops
      permissions: [runs:read, runs:write]
logging:
  level: debug
  audit:
    enabled: true
llm:
  backends:
    - name: default
      provider: openai
      openai:
        api_key: sk-test
        model: gpt-4o-mini
store:
  driver: memory
queue:
  driver: memory
memory:
  driver: memory
flows:
  dir: flows
  default: autogpt
  batch_retries: 3
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflows.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.LLM.DefaultBackend != "default" {
		t.Fatalf("single backend should become default, got %q", cfg.LLM.DefaultBackend)
	}
	if cfg.Flows.Dir != filepath.Join(dir, "flows") {
		t.Fatalf("flows dir should resolve relative to config file, got %s", cfg.Flows.Dir)
	}
	if cfg.Flows.MaxRetries != 3 || cfg.Flows.Workers != 4 {
		t.Fatalf("unexpected flow defaults: %+v", cfg.Flows)
	}
	if cfg.Flows.RunTimeoutSeconds != 300 {
		t.Fatalf("run timeout should default to 300s, got %d", cfg.Flows.RunTimeoutSeconds)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "logs", "audit.log") {
		t.Fatalf("audit path should default under config dir, got %s", cfg.Logging.Audit.Path)
	}
	if cfg.Queue.Buffer != 1024 {
		t.Fatalf("unexpected queue buffer: %d", cfg.Queue.Buffer)
	}
	if cfg.Memory.Limit != 100 {
		t.Fatalf("unexpected memory limit: %d", cfg.Memory.Limit)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("server:\n  adress: ':8080'\n")); err == nil {
		t.Fatal("misspelled field should be rejected")
	}
}

func TestValidateCatchesInconsistencies(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mysql without dsn", func(c *Config) { c.Store.Driver = "mysql"; c.Store.DSN = "" }},
		{"redis queue without addr", func(c *Config) { c.Queue.Driver = "redis" }},
		{"rabbitmq without url", func(c *Config) { c.Queue.Driver = "rabbitmq" }},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "etcd" }},
		{"openai without key", func(c *Config) { c.LLM.Backends[0].OpenAI.APIKey = "" }},
		{"duplicate backend", func(c *Config) { c.LLM.Backends = append(c.LLM.Backends, c.LLM.Backends[0]) }},
		{"missing default backend", func(c *Config) { c.LLM.DefaultBackend = "nope" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleConfig))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			cfg.applyDefaults(t.TempDir())
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
