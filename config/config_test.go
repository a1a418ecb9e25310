package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
ws:
  addr: ":9091"
  path: "/ws/technician"
api:
  addr: ":9090"
  auth_token: "secret"
dispatch:
  offer_timeout_seconds: 30
  max_candidates: 5
metrics:
  prometheus_enabled: true
  prometheus_port: "2113"
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  topic_prefix: "dispatch/outcomes"
store:
  backend: "sqlite"
  path: "dispatch.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ws addr", cfg.WS.Addr, ":9091"},
		{"api addr", cfg.API.Addr, ":9090"},
		{"auth token", cfg.API.AuthToken, "secret"},
		{"offer timeout", cfg.Dispatch.OfferTimeoutSeconds, 30},
		{"max candidates", cfg.Dispatch.MaxCandidates, 5},
		{"prometheus enabled", cfg.Metrics.PrometheusEnabled, true},
		{"prometheus port", cfg.Metrics.PrometheusPort, "2113"},
		{"mqtt broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"store backend", cfg.Store.Backend, "sqlite"},
		{"store path", cfg.Store.Path, "dispatch.db"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "dispatch": {"offer_timeout_seconds": 45},
  "store": {"backend": "none"}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.OfferTimeoutSeconds != 45 {
		t.Errorf("offer timeout: got %d want 45", cfg.Dispatch.OfferTimeoutSeconds)
	}
	if cfg.Store.Backend != "none" {
		t.Errorf("store backend: got %s want none", cfg.Store.Backend)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
api:
  auth_token: "x"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ws addr", cfg.WS.Addr, ":8081"},
		{"ws path", cfg.WS.Path, "/ws/technician"},
		{"api addr", cfg.API.Addr, ":8080"},
		{"offer timeout", cfg.Dispatch.OfferTimeoutSeconds, 60},
		{"prometheus port", cfg.Metrics.PrometheusPort, "2112"},
		{"mqtt topic prefix", cfg.MQTT.TopicPrefix, "dispatch/outcomes"},
		{"store backend", cfg.Store.Backend, "jsonl"},
		{"store path", cfg.Store.Path, "dispatch.log"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v want %v", c.name, c.got, c.want)
		}
	}
	if cfg.Dispatch.Weights.Distance == 0 {
		t.Errorf("ranking weights not defaulted: %+v", cfg.Dispatch.Weights)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
api:
  addr: ":8080"
`)
	t.Setenv("FD_API__ADDR", ":7070")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":7070" {
		t.Errorf("env override ignored: got %s", cfg.API.Addr)
	}
}

func TestLoadRejectsUnsupportedFormat(t *testing.T) {
	path := writeConfig(t, "config.toml", "whatever")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
dispatch:
  offer_timeout_seconds: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}

	path = writeConfig(t, "config.yaml", `
store:
  backend: "redis"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
