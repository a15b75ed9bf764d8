package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/chatexec/internal/api"
	"github.com/mattjoyce/chatexec/internal/chat"
	"github.com/mattjoyce/chatexec/internal/config"
	"github.com/mattjoyce/chatexec/internal/dispatch"
	"github.com/mattjoyce/chatexec/internal/fetch"
	"github.com/mattjoyce/chatexec/internal/help"
	"github.com/mattjoyce/chatexec/internal/history"
	"github.com/mattjoyce/chatexec/internal/lock"
	"github.com/mattjoyce/chatexec/internal/log"
	"github.com/mattjoyce/chatexec/internal/registry"
	"github.com/mattjoyce/chatexec/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "registry":
		return runRegistryNoun(args)

	// --- ROOT ACTIONS ---
	case "run":
		return runOnce(args)
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func runRegistryNoun(args []string) int {
	if len(args) < 1 {
		printRegistryNounHelp(os.Stderr)
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printRegistryListHelp()
			return 0
		}
		return runRegistryList(actionArgs)
	case "help":
		printRegistryNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown registry action: %s\n\n", action)
		printRegistryNounHelp(os.Stderr)
		return 1
	}
}

// --- ACTION IMPLEMENTATIONS ---

// buildRegistry wires the fetcher and help prober and scans the bin dir.
func buildRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, error) {
	fetcher := fetch.New(fetch.Options{
		TempDir:         cfg.TempPath,
		MaxDownloadSize: cfg.Fetch.MaxDownloadSize,
		ReuseExisting:   !cfg.Fetch.RefetchEnabled(),
	})
	resolver := &help.Resolver{
		Timeout: cfg.Help.Timeout,
		Flag:    cfg.Help.Flag,
	}
	return registry.Build(ctx, registry.BuildOptions{
		BinDir:         cfg.BinPath,
		ConfDir:        cfg.ConfPath,
		Exclusions:     cfg.Exclusions,
		DefaultTimeout: cfg.Dispatch.Timeout,
		Fetcher:        fetcher,
		Help:           resolver,
	})
}

// storeReloader rebuilds the registry and swaps it into the store. It backs
// both POST /reload and SIGHUP.
type storeReloader struct {
	cfg   *config.Config
	store *registry.Store
}

func (r *storeReloader) Reload(ctx context.Context) error {
	reg, err := buildRegistry(ctx, r.cfg)
	if err != nil {
		return err
	}
	r.store.Swap(reg)
	return nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("chatexec starting", "version", version, "bin_path", cfg.BinPath)

	pidLock, err := lock.Acquire(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	if cfg.TempCreated {
		defer func() {
			if err := config.CleanupTempDir(cfg.TempPath); err != nil {
				logger.Warn("temp dir cleanup failed", "path", cfg.TempPath, "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		logger.Error("registry build failed", "bin_path", cfg.BinPath, "error", err)
		return 1
	}
	store := registry.NewStore(reg)
	logger.Info("registry ready", "commands", reg.Len(), "skipped", len(reg.Skipped()))

	var hist *history.Store
	if cfg.History.Path != "" {
		hist, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Error("failed to open history database", "path", cfg.History.Path, "error", err)
			return 1
		}
		defer hist.Close()
		logger.Info("history enabled", "path", cfg.History.Path)
	}

	disp := dispatch.New(store, dispatch.Options{
		Grace:          cfg.Dispatch.Grace,
		MaxOutputBytes: cfg.Dispatch.MaxOutputBytes,
	})
	var recorder chat.Recorder
	if hist != nil {
		recorder = hist
	}
	gateway := chat.NewGateway(disp, recorder)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errCh := make(chan error, 1)
	reloader := &storeReloader{cfg: cfg, store: store}

	if cfg.API.Enabled {
		var histReader api.HistoryReader
		if hist != nil {
			histReader = hist
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, gateway, store, reloader, histReader, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("chatexec running (press Ctrl+C to stop)")

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("reloading registry on SIGHUP")
				if err := reloader.Reload(ctx); err != nil {
					logger.Error("registry reload failed", "error", err)
				} else {
					logger.Info("registry reloaded", "commands", store.Current().Len())
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			logger.Info("chatexec stopped")
			return 0
		case err := <-errCh:
			logger.Error("component failed", "error", err)
			cancel()
			return 1
		}
	}
}

// runOnce dispatches a single command locally, without the API server.
func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	rawOut := fs.Bool("json", false, "Print the structured result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chatexec run [flags] <command> [args...]")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("ERROR") // keep the chat reply clean on stdout
	if cfg.TempCreated {
		defer config.CleanupTempDir(cfg.TempPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registry build failed: %v\n", err)
		return 1
	}

	disp := dispatch.New(registry.NewStore(reg), dispatch.Options{
		Grace:          cfg.Dispatch.Grace,
		MaxOutputBytes: cfg.Dispatch.MaxOutputBytes,
	})
	res := disp.Dispatch(ctx, fs.Arg(0), fs.Args()[1:])

	if *rawOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render result JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(chat.FormatResult(res))
	}

	if res.OK() {
		return 0
	}
	return 1
}

func runRegistryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output the registry as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("ERROR")
	if cfg.TempCreated {
		defer config.CleanupTempDir(cfg.TempPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registry build failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		out := struct {
			Commands []*registry.Descriptor `json:"commands"`
			Skipped  []registry.Skipped     `json:"skipped,omitempty"`
		}{reg.All(), reg.Skipped()}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	for _, d := range reg.All() {
		fmt.Printf("%-24s %-7s timeout=%-6s %s\n",
			d.Name, d.Source, d.Timeout, firstLine(d.Help))
	}
	for _, s := range reg.Skipped() {
		name := s.Name
		if name == "" {
			name = s.File
		}
		fmt.Printf("%-24s skipped: %s\n", name, s.Reason)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("CHATEXEC_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or CHATEXEC_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("chatexec %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- HELPERS / HELP TEXT ---

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "--help" || a == "help" {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func printUsage() {
	fmt.Print(`chatexec - Expose a directory of executables as chat commands

Usage:
  chatexec <noun> <action> [flags]

System Commands:
  system start      Start the service in foreground (registry + HTTP API)
  system watch      Real-time monitoring TUI over the API

Registry Commands:
  registry list     Build the registry and print every command

One-shot Execution:
  run <cmd> [args]  Build the registry, dispatch one command, print the reply

General:
  version           Show version information
  help              Show this help message

Configuration is read from --config (YAML) plus CA_BINPATH, CA_CONFPATH,
CA_TMPPATH, COPS_EXCLUSIONS, COPS_TIMEOUT and COPS_MAX_DL environment
variables; environment wins over the file.
`)
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: chatexec system <action> [flags]

Actions:
  start    Start the service in foreground
  watch    Real-time monitoring TUI
`)
}

func printRegistryNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: chatexec registry <action> [flags]

Actions:
  list     Build the registry and print every command
`)
}

func printSystemStartHelp() {
	fmt.Println("Usage: chatexec system start [--config PATH]")
	fmt.Println()
	fmt.Println("Scans bin_path for executables, resolves help text, and serves the")
	fmt.Println("HTTP API when api.enabled is set. SIGHUP rebuilds the registry.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: chatexec system watch [flags]")
	fmt.Println()
	fmt.Println("Live view of registered commands and recent executions.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Service API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or CHATEXEC_API_KEY env var)")
}

func printRegistryListHelp() {
	fmt.Println("Usage: chatexec registry list [--config PATH] [--json]")
	fmt.Println("Build the registry locally and print commands plus skipped entries.")
}
