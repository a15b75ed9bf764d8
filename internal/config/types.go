package config

import "time"

// Config represents the complete chatexec configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`

	// BinPath is the root directory scanned for executables.
	BinPath string `yaml:"bin_path"`
	// ConfPath holds per-command sidecar config files. Defaults to
	// <bin_path>/conf.d; if the directory does not exist sidecar loading
	// is disabled rather than failing activation.
	ConfPath string `yaml:"conf_path"`
	// TempPath is the writable directory for downloaded artifacts. Empty
	// means chatexec creates one under the OS temp dir and removes it on
	// shutdown.
	TempPath string `yaml:"temp_path"`
	// Exclusions lists executable names excluded from discovery.
	Exclusions []string `yaml:"exclusions"`

	Dispatch DispatchConfig `yaml:"dispatch"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Help     HelpConfig     `yaml:"help"`
	API      APIConfig      `yaml:"api,omitempty"`
	History  HistoryConfig  `yaml:"history,omitempty"`

	// TempCreated records that TempPath was auto-created and may be
	// removed on shutdown. Never set from YAML.
	TempCreated bool `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	LockPath string `yaml:"lock_path"`
}

// DispatchConfig defines execution engine settings.
type DispatchConfig struct {
	// Timeout is the default per-command timeout; sidecar configs may
	// override it per command.
	Timeout time.Duration `yaml:"timeout"`
	// Grace is how long a timed-out child gets between SIGTERM and SIGKILL.
	Grace time.Duration `yaml:"grace"`
	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// FetchConfig defines artifact download settings.
type FetchConfig struct {
	// MaxDownloadSize caps a downloaded artifact, in bytes.
	MaxDownloadSize int64 `yaml:"max_download_size"`
	// Refetch re-downloads remote artifacts on every registry build,
	// overwriting any prior copy. Set false to keep existing artifacts.
	Refetch *bool `yaml:"refetch,omitempty"`
}

// HelpConfig defines help resolution settings.
type HelpConfig struct {
	// Timeout bounds the `<exe> --help` probe, independent of the
	// command's own dispatch timeout.
	Timeout time.Duration `yaml:"timeout"`
	Flag    string        `yaml:"flag"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// HistoryConfig defines the execution log settings. An empty path
// disables history entirely.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// RefetchEnabled reports the effective re-fetch policy (default true).
func (f FetchConfig) RefetchEnabled() bool {
	return f.Refetch == nil || *f.Refetch
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "chatexec",
			LogLevel: "info",
			LockPath: "./data/chatexec.pid",
		},
		Dispatch: DispatchConfig{
			Timeout:        30 * time.Second,
			Grace:          5 * time.Second,
			MaxOutputBytes: 64 * 1024,
		},
		Fetch: FetchConfig{
			MaxDownloadSize: 30 * 1000 * 1000, // approx 30mb
		},
		Help: HelpConfig{
			Timeout: 5 * time.Second,
			Flag:    "--help",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
