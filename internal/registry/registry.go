package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mattjoyce/chatexec/internal/log"
)

// fallbackHelp is returned for commands whose help could not be resolved.
const fallbackHelp = "No help available for this command."

// Fetcher resolves a remote URL into a local executable artifact.
type Fetcher interface {
	Fetch(ctx context.Context, url, name string) (path, digest string, err error)
}

// HelpResolver obtains help text for an executable lacking configured help.
type HelpResolver interface {
	Resolve(ctx context.Context, binPath string) (string, error)
}

// BuildOptions parameterize a registry build.
type BuildOptions struct {
	BinDir         string
	ConfDir        string // empty disables sidecar loading
	Exclusions     []string
	DefaultTimeout time.Duration
	Fetcher        Fetcher      // nil skips remote entries
	Help           HelpResolver // nil leaves fallback help
	Logger         *slog.Logger
}

// Skipped records a sidecar entry (or file) that was rejected during a build.
// A bad entry never aborts the rest of the batch.
type Skipped struct {
	File   string `json:"file,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// Registry is an immutable mapping from command name to descriptor, built
// once per activation and replaced wholesale on reload.
type Registry struct {
	commands map[string]*Descriptor
	skipped  []Skipped
	builtAt  time.Time
}

// Get retrieves a descriptor by name (canonicalized before lookup).
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.commands[Canonicalize(name)]
	return d, ok
}

// All returns all descriptors sorted by name.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.commands))
	for _, d := range r.commands {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.commands) }

// Skipped returns the entries rejected during the build, with reasons.
func (r *Registry) Skipped() []Skipped { return r.skipped }

// BuiltAt returns when this registry was built.
func (r *Registry) BuiltAt() time.Time { return r.builtAt }

// Build scans BinDir for executables, merges sidecar configs from ConfDir,
// fetches remote artifacts, and resolves help text. It fails only when
// BinDir itself is missing or unreadable; everything else degrades to
// per-entry skips.
func Build(ctx context.Context, opts BuildOptions) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("registry")
	}
	if opts.BinDir == "" {
		return nil, fmt.Errorf("bin dir is required")
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}

	reg := &Registry{
		commands: make(map[string]*Descriptor),
		builtAt:  time.Now(),
	}

	if err := reg.discover(opts, logger); err != nil {
		return nil, err
	}

	if opts.ConfDir != "" {
		if err := reg.applySidecars(ctx, opts, logger); err != nil {
			return nil, err
		}
	}

	reg.checkExecutable(logger)
	reg.resolveHelp(ctx, opts.Help, logger)

	logger.Info("registry built",
		"commands", len(reg.commands),
		"skipped", len(reg.skipped),
		"bin_dir", opts.BinDir,
	)
	return reg, nil
}

// discover registers a default descriptor per executable file in BinDir.
func (r *Registry) discover(opts BuildOptions, logger *slog.Logger) error {
	absBin, err := filepath.Abs(opts.BinDir)
	if err != nil {
		return fmt.Errorf("resolve bin dir %q: %w", opts.BinDir, err)
	}
	entries, err := os.ReadDir(absBin)
	if err != nil {
		return fmt.Errorf("read bin dir %s: %w", absBin, err)
	}

	excluded := make(map[string]bool, len(opts.Exclusions))
	for _, name := range opts.Exclusions {
		excluded[Canonicalize(name)] = true
	}
	for _, e := range entries {
		path := filepath.Join(absBin, e.Name())
		if e.IsDir() {
			// Skips the conf dir too when it lives under the bin dir.
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0111 == 0 {
			continue
		}
		name := Canonicalize(e.Name())
		if excluded[name] {
			logger.Debug("excluded from discovery", "name", name)
			continue
		}
		r.commands[name] = &Descriptor{
			Name:         name,
			Source:       SourceLocal,
			BinPath:      path,
			ResolvedPath: path,
			Timeout:      opts.DefaultTimeout,
		}
	}
	return nil
}

// applySidecars loads every config file in ConfDir and merges each entry.
// One bad file or entry never blocks unrelated commands.
func (r *Registry) applySidecars(ctx context.Context, opts BuildOptions, logger *slog.Logger) error {
	files, err := listSidecarFiles(opts.ConfDir)
	if err != nil {
		// A vanished conf dir disables sidecars rather than failing the build.
		logger.Warn("sidecar configs unavailable", "error", err)
		return nil
	}
	sort.Strings(files)

	for _, file := range files {
		entries, err := parseSidecarFile(file)
		if err != nil {
			logger.Error("skipping unparseable sidecar", "file", file, "error", err)
			r.skipped = append(r.skipped, Skipped{File: file, Reason: err.Error()})
			continue
		}
		for _, entry := range entries {
			if err := r.applyEntry(ctx, opts, entry, logger); err != nil {
				logger.Error("skipping sidecar entry",
					"file", file, "name", entry.Name, "error", err)
				r.skipped = append(r.skipped, Skipped{
					File:   file,
					Name:   entry.Name,
					Reason: err.Error(),
				})
			}
		}
	}
	return nil
}

// applyEntry validates one sidecar entry and merges it into the registry.
// Config always wins over discovered defaults; across config files the later
// entry wins per-field.
func (r *Registry) applyEntry(ctx context.Context, opts BuildOptions, entry Entry, logger *slog.Logger) error {
	if entry.Timeout < 0 {
		return fmt.Errorf("timeout must be a positive number of seconds, got %d", entry.Timeout)
	}

	var (
		name string
		desc Descriptor
	)
	switch {
	case entry.URL != "":
		if entry.Name == "" {
			return fmt.Errorf("entry with url %q needs an explicit name", entry.URL)
		}
		if opts.Fetcher == nil {
			return fmt.Errorf("entry with url %q requires a configured fetcher", entry.URL)
		}
		name = Canonicalize(entry.Name)
		path, digest, err := opts.Fetcher.Fetch(ctx, entry.URL, name)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", entry.URL, err)
		}
		desc = Descriptor{
			Name:         name,
			Source:       SourceRemote,
			URL:          entry.URL,
			ResolvedPath: path,
			Digest:       digest,
		}
	case entry.BinPath != "":
		name = Canonicalize(entry.Name)
		if name == "" {
			name = Canonicalize(filepath.Base(entry.BinPath))
		}
		desc = Descriptor{
			Name:         name,
			Source:       SourceLocal,
			BinPath:      entry.BinPath,
			ResolvedPath: entry.BinPath,
		}
	case entry.Name != "":
		// Metadata-only entry: attaches help or a timeout to a discovered
		// executable without redefining where it lives.
		name = Canonicalize(entry.Name)
		existing, ok := r.commands[name]
		if !ok {
			return fmt.Errorf("entry %q has neither bin_path nor url and matches no discovered executable", name)
		}
		merged := *existing
		if entry.Help != "" {
			merged.Help = entry.Help
		}
		if entry.Timeout > 0 {
			merged.Timeout = time.Duration(entry.Timeout) * time.Second
		}
		r.commands[name] = &merged
		return nil
	default:
		return fmt.Errorf("entry has neither bin_path nor url")
	}

	desc.Help = entry.Help
	if entry.Timeout > 0 {
		desc.Timeout = time.Duration(entry.Timeout) * time.Second
	}

	existing, ok := r.commands[name]
	if !ok {
		if desc.Timeout <= 0 {
			desc.Timeout = opts.DefaultTimeout
		}
		r.commands[name] = &desc
		return nil
	}

	logger.Warn("command already defined, config entry overrides it",
		"name", name, "previous_path", existing.ResolvedPath)
	merged := *existing
	merged.Source = desc.Source
	if desc.BinPath != "" {
		merged.BinPath = desc.BinPath
	}
	if desc.URL != "" {
		merged.URL = desc.URL
		merged.BinPath = ""
	}
	merged.ResolvedPath = desc.ResolvedPath
	merged.Digest = desc.Digest
	if desc.Help != "" {
		merged.Help = desc.Help
	}
	if entry.Timeout > 0 {
		merged.Timeout = desc.Timeout
	}
	r.commands[name] = &merged
	return nil
}

// checkExecutable drops descriptors whose resolved path is missing execute
// permission. Dispatch never sees a descriptor that cannot be spawned.
func (r *Registry) checkExecutable(logger *slog.Logger) {
	for name, d := range r.commands {
		info, err := os.Stat(d.ResolvedPath)
		switch {
		case err != nil:
			delete(r.commands, name)
			logger.Error("dropping command, executable missing", "name", name, "path", d.ResolvedPath, "error", err)
			r.skipped = append(r.skipped, Skipped{Name: name, Reason: fmt.Sprintf("executable missing: %v", err)})
		case info.IsDir() || info.Mode()&0111 == 0:
			delete(r.commands, name)
			logger.Error("dropping command, not executable", "name", name, "path", d.ResolvedPath)
			r.skipped = append(r.skipped, Skipped{Name: name, Reason: fmt.Sprintf("%s is not executable", d.ResolvedPath)})
		}
	}
}

// resolveHelp fills in help text for descriptors that lack it. Failures fall
// back to a generic message; help resolution never fails a build.
func (r *Registry) resolveHelp(ctx context.Context, resolver HelpResolver, logger *slog.Logger) {
	for _, d := range r.commands {
		if d.Help != "" {
			continue
		}
		if resolver == nil {
			d.Help = fallbackHelp
			continue
		}
		help, err := resolver.Resolve(ctx, d.ResolvedPath)
		if err != nil || help == "" {
			logger.Debug("help resolution failed, using fallback", "name", d.Name, "error", err)
			d.Help = fallbackHelp
			continue
		}
		d.Help = help
	}
}
