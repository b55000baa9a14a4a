package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"S3_BUCKET_NAME", "AWS_REGION", "REVIEWD_ADDR", "REVIEWD_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestLoadWithoutFileUsesDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_BUCKET_NAME", " contracts ")
	t.Setenv("REVIEWD_ADDR", ":9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Blob.Bucket != "contracts" {
		t.Fatalf("bucket should come from env, got %q", cfg.Blob.Bucket)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %q", cfg.Server.Address)
	}
	if cfg.LLM.Backend != "bedrock" || cfg.Blob.Driver != "s3" || cfg.Registry.Driver != "memory" {
		t.Fatalf("unexpected driver defaults: %+v", cfg)
	}
	if cfg.AWS.Region != "us-east-1" || cfg.Server.AllowedOrigin != "*" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LLM.CircuitBreaker.FailureThreshold != 5 || cfg.Jobs.Workers != 4 {
		t.Fatalf("unexpected numeric defaults: %+v", cfg)
	}
	if cfg.Server.MaxUploadBytes != 32<<20 || cfg.LLM.CircuitBreaker.MaxBreakers != 32 || cfg.Server.MetricsAddress != "" {
		t.Fatalf("unexpected server/breaker defaults: %+v %+v", cfg.Server, cfg.LLM.CircuitBreaker)
	}
}

func TestLoadYAMLResolvesRelativePaths(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewd.yaml")
	content := `
server:
  address: ":7000"
  metrics_address: "127.0.0.1:9100"
  max_upload_bytes: 1048576
llm:
  backend: rest
  rest:
    base_url: http://localhost:4000
blob:
  driver: file
  dir: uploads
runtime:
  data_dir: state
jobs:
  enabled: true
  queue:
    driver: redis
    redis:
      address: localhost:6379
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7000" || cfg.LLM.REST.BaseURL != "http://localhost:4000" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Server.MetricsAddress != "127.0.0.1:9100" || cfg.Server.MaxUploadBytes != 1<<20 {
		t.Fatalf("server values not applied: %+v", cfg.Server)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Fatalf("env should override region, got %q", cfg.AWS.Region)
	}
	if cfg.Blob.Dir != filepath.Join(dir, "uploads") {
		t.Fatalf("unexpected blob dir: %q", cfg.Blob.Dir)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") || cfg.Registry.DataDir != cfg.Runtime.DataDir {
		t.Fatalf("unexpected data dirs: %+v %+v", cfg.Runtime, cfg.Registry)
	}
	if cfg.Jobs.Queue.Redis.Address != "localhost:6379" || cfg.Jobs.Store.Driver != "memory" {
		t.Fatalf("unexpected jobs config: %+v", cfg.Jobs)
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reviewd.json")
	if err := os.WriteFile(path, []byte(`{"log":{"level":"debug"},"registry":{"driver":"mysql","dsn":"u:p@tcp(db)/review"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REVIEWD_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env should override log level, got %q", cfg.Log.Level)
	}
	if cfg.Registry.DSN != "u:p@tcp(db)/review" {
		t.Fatalf("unexpected dsn: %q", cfg.Registry.DSN)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"unknown backend":   `{"llm":{"backend":"openai"}}`,
		"rest without url":  `{"llm":{"backend":"rest"}}`,
		"mysql without dsn": `{"registry":{"driver":"mysql"}}`,
		"bad queue":         `{"jobs":{"enabled":true,"queue":{"driver":"kafka"}}}`,
		"not json":          `{`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.json")
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "cfg.toml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}
