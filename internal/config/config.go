package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ambilio/workspace-console/internal/model"
)

type Config struct {
	ListenAddr        string
	APIBaseURL        string
	WorkspaceHost     string
	RoutingMode       model.RoutingMode
	DataDir           string
	HeartbeatInterval time.Duration
	OpenWindow        time.Duration
}

// LoadFromEnv reads the console configuration. API_BASE_URL and
// WORKSPACE_HOST keep their historical names from the hosted deployment;
// console-local knobs carry the CONSOLE_ prefix.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:        envOrDefault("CONSOLE_LISTEN_ADDR", ":3000"),
		APIBaseURL:        envOrDefault("API_BASE_URL", "http://localhost:8080"),
		WorkspaceHost:     os.Getenv("WORKSPACE_HOST"),
		RoutingMode:       model.RoutingMode(envOrDefault("CONSOLE_ROUTING_MODE", string(model.RoutePath))),
		DataDir:           envOrDefault("CONSOLE_DATA_DIR", defaultDataDir()),
		HeartbeatInterval: time.Duration(parsePositiveIntEnv("CONSOLE_HEARTBEAT_SECONDS", 60)) * time.Second,
		OpenWindow:        time.Duration(parsePositiveIntEnv("CONSOLE_OPEN_WINDOW_SECONDS", 1800)) * time.Second,
	}

	parsed, err := url.Parse(cfg.APIBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Config{}, fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", cfg.APIBaseURL)
	}
	if cfg.WorkspaceHost == "" {
		cfg.WorkspaceHost = parsed.Host
	}
	if cfg.RoutingMode != model.RoutePath && cfg.RoutingMode != model.RoutePort {
		return Config{}, fmt.Errorf("CONSOLE_ROUTING_MODE must be one of path|port")
	}
	return cfg, nil
}

// Routing is the fixed workspace addressing choice for this deployment.
func (c Config) Routing() model.Routing {
	return model.Routing{Mode: c.RoutingMode, Host: c.WorkspaceHost}
}

// TokenDBPath is where the session credential persists across restarts.
func (c Config) TokenDBPath() string {
	return filepath.Join(c.DataDir, "console.db")
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".workspace-console"
	}
	return filepath.Join(base, "workspace-console")
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func parsePositiveIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return d
	}
	return n
}
