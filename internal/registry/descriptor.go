package registry

import (
	"strings"
	"time"
)

// Source says where a command's executable comes from.
type Source string

const (
	// SourceLocal is an executable discovered in the bin dir or named by a
	// sidecar bin_path.
	SourceLocal Source = "local"
	// SourceRemote is an executable downloaded from a sidecar url.
	SourceRemote Source = "remote"
)

// Descriptor describes one chat-invokable executable and its resolved
// configuration. Descriptors are immutable once the registry is built.
type Descriptor struct {
	// Name is the unique registry key, canonicalized.
	Name   string `json:"name"`
	Source Source `json:"source"`
	// BinPath is the configured local path (local source only).
	BinPath string `json:"bin_path,omitempty"`
	// URL is the artifact origin (remote source only).
	URL  string `json:"url,omitempty"`
	Help string `json:"help,omitempty"`
	// Timeout bounds each dispatch of this command. Always > 0.
	Timeout time.Duration `json:"timeout"`
	// ResolvedPath is the on-disk executable used at dispatch time: BinPath
	// for local commands, the fetched copy for remote ones.
	ResolvedPath string `json:"resolved_path"`
	// Digest is the BLAKE3 hex digest of a fetched artifact. Recorded for
	// observability only; downloads are not verified against it.
	Digest string `json:"digest,omitempty"`
}

// Canonicalize maps a raw command name to its registry key: lowercased,
// trimmed, spaces replaced with underscores.
func Canonicalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
