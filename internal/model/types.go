package model

import (
	"bytes"
	"encoding/json"
	"time"
)

type InstanceStatus string

const (
	StatusPending InstanceStatus = "pending"
	StatusRunning InstanceStatus = "running"
	StatusStopped InstanceStatus = "stopped"
)

// Known reports whether the status is part of the documented server
// vocabulary. Unknown values are carried verbatim and rendered as-is.
func (s InstanceStatus) Known() bool {
	switch s {
	case StatusPending, StatusRunning, StatusStopped:
		return true
	}
	return false
}

type WorkspaceType string

const (
	TypeVSCode  WorkspaceType = "vscode"
	TypeJupyter WorkspaceType = "jupyter"
	TypeMySQL   WorkspaceType = "mysql"
	TypeN8N     WorkspaceType = "n8n"
	TypeQdrant  WorkspaceType = "qdrant"
)

type workspaceTypeInfo struct {
	Label      string
	PathPrefix string
}

// workspaceTypes is the single registry of supported workspace kinds.
// Adding a kind is one entry here; label lookup and URL construction
// both read from it.
var workspaceTypes = map[WorkspaceType]workspaceTypeInfo{
	TypeVSCode:  {Label: "VS Code", PathPrefix: "vscode_backend"},
	TypeJupyter: {Label: "Jupyter Notebook", PathPrefix: "jupyter_backend"},
	TypeMySQL:   {Label: "MySQL Shell", PathPrefix: "mysql_backend"},
	TypeN8N:     {Label: "n8n Workflows", PathPrefix: "n8n_backend"},
	TypeQdrant:  {Label: "Qdrant Vector Store", PathPrefix: "qdrant_backend"},
}

// workspaceTypeOrder fixes the display order of workspace kinds.
var workspaceTypeOrder = []WorkspaceType{TypeVSCode, TypeJupyter, TypeMySQL, TypeN8N, TypeQdrant}

func ParseWorkspaceType(raw string) (WorkspaceType, bool) {
	t := WorkspaceType(raw)
	_, ok := workspaceTypes[t]
	return t, ok
}

func WorkspaceTypes() []WorkspaceType {
	out := make([]WorkspaceType, len(workspaceTypeOrder))
	copy(out, workspaceTypeOrder)
	return out
}

// Label returns the display name for the workspace kind, falling back to
// the raw type string for kinds this build does not know about.
func (t WorkspaceType) Label() string {
	if info, ok := workspaceTypes[t]; ok {
		return info.Label
	}
	return string(t)
}

// HostPort is the allocated workspace port. The control plane has been
// observed to encode it as a bare number, as null, as an absent field,
// and as a {"Valid": bool, "Int32": n} wrapper; all forms normalize to
// (Port, Valid) here and anything unparseable counts as "no port".
type HostPort struct {
	Port  int
	Valid bool
}

func (p *HostPort) UnmarshalJSON(raw []byte) error {
	*p = HostPort{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n > 0 {
			*p = HostPort{Port: n, Valid: true}
		}
		return nil
	}

	var wrapper struct {
		Valid bool  `json:"Valid"`
		Int32 int32 `json:"Int32"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		if wrapper.Valid && wrapper.Int32 > 0 {
			*p = HostPort{Port: int(wrapper.Int32), Valid: true}
		}
		return nil
	}

	// Unknown encoding: treat as no port rather than failing the whole
	// instance list decode.
	return nil
}

func (p HostPort) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Port)
}

// Instance is a server-managed, time-leased workspace. The control plane
// owns every field; the console never mutates one locally.
type Instance struct {
	ID         string         `json:"id"`
	Type       WorkspaceType  `json:"type"`
	Status     InstanceStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	LastActive *time.Time     `json:"last_active,omitempty"`
	TTLHours   int            `json:"ttl_hours"`
	HostPort   HostPort       `json:"host_port,omitempty"`
}

// ExpiryBase is the timestamp the lease countdown runs from.
func (i Instance) ExpiryBase() time.Time {
	if i.LastActive != nil {
		return *i.LastActive
	}
	return i.CreatedAt
}

// Deadline is the moment the lease lapses absent renewed activity.
func (i Instance) Deadline() time.Time {
	return i.ExpiryBase().Add(time.Duration(i.TTLHours) * time.Hour)
}

// Remaining reports the lease time left at now, clamped at zero. It is a
// display value only: a non-positive remainder never transitions Status;
// the server's view arrives on the next list refresh.
func (i Instance) Remaining(now time.Time) time.Duration {
	d := i.Deadline().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

const expiringSoonWindow = 15 * time.Minute

// ExpiringSoon reports whether the lease is inside the visual warning
// window but not yet lapsed.
func (i Instance) ExpiringSoon(now time.Time) bool {
	rem := i.Remaining(now)
	return rem > 0 && rem < expiringSoonWindow
}
