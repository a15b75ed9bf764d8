package api

import (
	"time"

	"github.com/mattjoyce/chatexec/internal/dispatch"
)

// RunRequest is the JSON body for POST /run/{command}. Args and Raw are
// mutually exclusive: Args is a pre-split vector, Raw is chat-style text that
// the server tokenizes.
type RunRequest struct {
	Args []string `json:"args,omitempty"`
	Raw  string   `json:"raw,omitempty"`
}

// RunResponse carries the structured result plus the rendered chat reply.
type RunResponse struct {
	Result *dispatch.Result `json:"result"`
	Reply  string           `json:"reply"`
}

// CommandInfo is one row of GET /commands.
type CommandInfo struct {
	Name           string `json:"name"`
	Source         string `json:"source"`
	Help           string `json:"help"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
	Digest         string `json:"digest,omitempty"`
}

// ReloadResponse is returned by POST /reload.
type ReloadResponse struct {
	Commands int       `json:"commands"`
	Skipped  int       `json:"skipped"`
	BuiltAt  time.Time `json:"built_at"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string    `json:"status"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	CommandsLoaded  int       `json:"commands_loaded"`
	RegistryBuiltAt time.Time `json:"registry_built_at"`
}
