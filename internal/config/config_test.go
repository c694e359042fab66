package config

import (
	"testing"

	"github.com/ambilio/workspace-console/internal/model"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("WORKSPACE_HOST", "")
	t.Setenv("CONSOLE_ROUTING_MODE", "")
	t.Setenv("CONSOLE_HEARTBEAT_SECONDS", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected API base: %q", cfg.APIBaseURL)
	}
	if cfg.WorkspaceHost != "localhost:8080" {
		t.Fatalf("workspace host must default to the API origin host, got %q", cfg.WorkspaceHost)
	}
	if cfg.RoutingMode != model.RoutePath {
		t.Fatalf("unexpected routing mode: %q", cfg.RoutingMode)
	}
	if cfg.HeartbeatInterval.Seconds() != 60 {
		t.Fatalf("unexpected heartbeat interval: %s", cfg.HeartbeatInterval)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.sandbox.example.com")
	t.Setenv("WORKSPACE_HOST", "workspaces.example.com")
	t.Setenv("CONSOLE_ROUTING_MODE", "port")
	t.Setenv("CONSOLE_HEARTBEAT_SECONDS", "15")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.WorkspaceHost != "workspaces.example.com" {
		t.Fatalf("unexpected workspace host: %q", cfg.WorkspaceHost)
	}
	r := cfg.Routing()
	if r.Mode != model.RoutePort || r.Host != "workspaces.example.com" {
		t.Fatalf("unexpected routing: %+v", r)
	}
	if cfg.HeartbeatInterval.Seconds() != 15 {
		t.Fatalf("unexpected heartbeat interval: %s", cfg.HeartbeatInterval)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("API_BASE_URL", "not a url")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for relative API_BASE_URL")
	}

	t.Setenv("API_BASE_URL", "http://localhost:8080")
	t.Setenv("CONSOLE_ROUTING_MODE", "broadcast")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for unknown routing mode")
	}
}

func TestParsePositiveIntEnvFallsBack(t *testing.T) {
	t.Setenv("CONSOLE_HEARTBEAT_SECONDS", "-3")
	if got := parsePositiveIntEnv("CONSOLE_HEARTBEAT_SECONDS", 60); got != 60 {
		t.Fatalf("negative value must fall back, got %d", got)
	}
	t.Setenv("CONSOLE_HEARTBEAT_SECONDS", "oops")
	if got := parsePositiveIntEnv("CONSOLE_HEARTBEAT_SECONDS", 60); got != 60 {
		t.Fatalf("garbage value must fall back, got %d", got)
	}
}
