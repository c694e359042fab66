package model

import (
	"fmt"
	"time"
)

type RoutingMode string

const (
	// RoutePath addresses workspaces through the shared gateway host by
	// type-specific path prefix and instance id.
	RoutePath RoutingMode = "path"
	// RoutePort addresses workspaces directly on the configured host
	// using the instance's allocated port.
	RoutePort RoutingMode = "port"
)

// Routing is the deployment-level addressing choice. It is fixed at
// startup from configuration, never decided per call.
type Routing struct {
	Mode RoutingMode
	Host string
}

// WorkspaceURL derives the reachable URL for an instance. Pure function:
// no I/O, no clock. It returns ok=false for anything that is not running,
// regardless of what host_port claims, and for running instances the
// active routing mode cannot address.
func WorkspaceURL(r Routing, inst Instance) (string, bool) {
	if inst.Status != StatusRunning || r.Host == "" {
		return "", false
	}

	switch r.Mode {
	case RoutePort:
		if !inst.HostPort.Valid {
			return "", false
		}
		return fmt.Sprintf("http://%s:%d/", r.Host, inst.HostPort.Port), true
	default:
		info, ok := workspaceTypes[inst.Type]
		if !ok || inst.ID == "" {
			return "", false
		}
		return fmt.Sprintf("http://%s/%s/%s", r.Host, info.PathPrefix, inst.ID), true
	}
}

// FormatRemaining renders a lease remainder for display. Zero or
// negative means the lease has lapsed client-side; the word is all the
// console shows until the server confirms on the next refresh.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "Expired"
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}
