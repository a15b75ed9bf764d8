package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides. CA_* names are the activation surface the
// original plugin exposed; COPS_* tune execution.
const (
	envBinPath    = "CA_BINPATH"
	envConfPath   = "CA_CONFPATH"
	envTempPath   = "CA_TMPPATH"
	envExclusions = "COPS_EXCLUSIONS"
	envTimeout    = "COPS_TIMEOUT"
	envMaxDL      = "COPS_MAX_DL"
)

// Load reads configuration from an optional YAML file, applies environment
// overrides, fills derived defaults, and validates the result. configPath may
// be empty when everything comes from the environment.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
		}
	}

	applyEnv(cfg)

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over file values. Env always wins.
func applyEnv(cfg *Config) {
	if v := os.Getenv(envBinPath); v != "" {
		cfg.BinPath = v
	}
	if v := os.Getenv(envConfPath); v != "" {
		cfg.ConfPath = v
	}
	if v := os.Getenv(envTempPath); v != "" {
		cfg.TempPath = v
	}
	if v := os.Getenv(envExclusions); v != "" {
		cfg.Exclusions = splitExclusions(v)
	}
	if v := os.Getenv(envTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Dispatch.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(envMaxDL); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Fetch.MaxDownloadSize = n
		}
	}
}

// splitExclusions parses a comma-separated exclusion list.
func splitExclusions(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// finalize fills derived defaults: conf dir under bin dir, auto-created temp dir.
func finalize(cfg *Config) error {
	if cfg.BinPath == "" {
		return fmt.Errorf("bin_path is required (set bin_path or %s)", envBinPath)
	}

	if cfg.ConfPath == "" {
		confPath := filepath.Join(cfg.BinPath, "conf.d")
		if _, err := os.Stat(confPath); err == nil {
			cfg.ConfPath = confPath
		}
		// Absent conf.d just disables sidecar loading.
	}

	if cfg.TempPath == "" {
		tmp, err := createTempDir()
		if err != nil {
			return err
		}
		cfg.TempPath = tmp
		cfg.TempCreated = true
	}

	if cfg.Dispatch.Timeout <= 0 {
		cfg.Dispatch.Timeout = Defaults().Dispatch.Timeout
	}
	if cfg.Dispatch.Grace <= 0 {
		cfg.Dispatch.Grace = Defaults().Dispatch.Grace
	}
	if cfg.Dispatch.MaxOutputBytes <= 0 {
		cfg.Dispatch.MaxOutputBytes = Defaults().Dispatch.MaxOutputBytes
	}
	if cfg.Help.Timeout <= 0 {
		cfg.Help.Timeout = Defaults().Help.Timeout
	}
	if cfg.Help.Flag == "" {
		cfg.Help.Flag = Defaults().Help.Flag
	}
	return nil
}

// createTempDir makes a unique scratch directory under the OS temp dir,
// e.g. /tmp/chatexec-bf7d10d9.
func createTempDir() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate temp dir suffix: %w", err)
	}
	tmp := filepath.Join(os.TempDir(), "chatexec-"+hex.EncodeToString(b[:]))
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir %s: %w", tmp, err)
	}
	return tmp, nil
}

// validate checks the configured paths.
func validate(cfg *Config) error {
	if err := ValidateDir(cfg.BinPath, false); err != nil {
		return fmt.Errorf("bin_path: %w", err)
	}
	if cfg.ConfPath != "" {
		if err := ValidateDir(cfg.ConfPath, false); err != nil {
			return fmt.Errorf("conf_path: %w", err)
		}
	}
	if err := ValidateDir(cfg.TempPath, true); err != nil {
		return fmt.Errorf("temp_path: %w", err)
	}
	if cfg.BinPath == cfg.TempPath {
		return fmt.Errorf("bin_path and temp_path must differ (%s)", cfg.BinPath)
	}
	return nil
}

// ValidateDir checks that path is a plain readable directory. With writable
// set it additionally probes for write access.
func ValidateDir(path string, writable bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist on the filesystem", path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is a file and not a directory", path)
	}
	switch {
	case info.Mode()&os.ModeNamedPipe != 0:
		return fmt.Errorf("%s points to a FIFO", path)
	case info.Mode()&os.ModeDevice != 0:
		return fmt.Errorf("%s is a device", path)
	case info.Mode()&os.ModeSocket != 0:
		return fmt.Errorf("%s is a socket", path)
	}

	if _, err := os.ReadDir(path); err != nil {
		return fmt.Errorf("unable to read from %s: %w", path, err)
	}

	if writable {
		probe, err := os.CreateTemp(path, ".chatexec-probe-*")
		if err != nil {
			return fmt.Errorf("%s is not writable: %w", path, err)
		}
		name := probe.Name()
		_ = probe.Close()
		_ = os.Remove(name)
	}
	return nil
}

// CleanupTempDir removes an auto-created temp dir, refusing to touch anything
// outside the OS temp dir.
func CleanupTempDir(path string) error {
	sysTmp := filepath.Clean(os.TempDir())
	clean := filepath.Clean(path)
	rel, err := filepath.Rel(sysTmp, clean)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s: not under %s", path, sysTmp)
	}
	return os.RemoveAll(clean)
}
