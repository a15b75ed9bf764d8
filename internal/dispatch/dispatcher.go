package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/chatexec/internal/log"
	"github.com/mattjoyce/chatexec/internal/registry"
)

// Options tune execution behavior shared by all commands.
type Options struct {
	// Grace is the time a timed-out child gets between SIGTERM and SIGKILL.
	Grace time.Duration
	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int
}

const (
	defaultGrace          = 5 * time.Second
	defaultMaxOutputBytes = 64 * 1024
)

func (o Options) withDefaults() Options {
	if o.Grace <= 0 {
		o.Grace = defaultGrace
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = defaultMaxOutputBytes
	}
	return o
}

// Dispatcher executes registered commands. It reads registry snapshots and
// holds no mutable state of its own, so concurrent Dispatch calls are safe
// for different commands and for the same command.
type Dispatcher struct {
	store  *registry.Store
	opts   Options
	logger *slog.Logger
}

// New creates a Dispatcher over the registry store.
func New(store *registry.Store, opts Options) *Dispatcher {
	return &Dispatcher{
		store:  store,
		opts:   opts.withDefaults(),
		logger: log.WithComponent("dispatch"),
	}
}

// Dispatch looks up name in the current registry snapshot and executes it
// with args passed verbatim to the child. It blocks until the child exits,
// the timeout fires, or spawning fails; every path yields a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args []string) *Result {
	desc, ok := d.store.Current().Get(name)
	if !ok {
		d.logger.Warn("command not found", "command", name)
		return &Result{
			ExecutionID: newExecutionID(),
			Command:     registry.Canonicalize(name),
			Args:        args,
			Outcome:     OutcomeNotFound,
			Reason:      fmt.Sprintf("command %q not found in registry", registry.Canonicalize(name)),
			StartedAt:   time.Now(),
		}
	}

	res := Execute(ctx, Spec{
		Path:           desc.ResolvedPath,
		Args:           args,
		Timeout:        desc.Timeout,
		Grace:          d.opts.Grace,
		MaxOutputBytes: d.opts.MaxOutputBytes,
	})
	res.Command = desc.Name

	execLogger := log.WithCommand(desc.Name).With("execution_id", res.ExecutionID)
	switch res.Outcome {
	case OutcomeCompleted:
		execLogger.Info("command completed",
			"exit_code", *res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
		)
	case OutcomeTimedOut:
		execLogger.Warn("command timed out",
			"timeout", desc.Timeout,
			"duration_ms", res.Duration.Milliseconds(),
		)
	default:
		execLogger.Error("command did not complete",
			"outcome", res.Outcome,
			"reason", res.Reason,
		)
	}
	return res
}
