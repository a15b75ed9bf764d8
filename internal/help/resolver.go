// Package help obtains usage text from executables by running them with a
// help flag under a short timeout.
package help

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/chatexec/internal/dispatch"
	"github.com/mattjoyce/chatexec/internal/log"
)

const (
	defaultTimeout = 5 * time.Second
	defaultFlag    = "--help"
	maxHelpBytes   = 16 * 1024
)

// Resolver runs executables with a help flag and captures what they print.
// A misbehaving executable costs at most the timeout plus the kill grace.
type Resolver struct {
	// Timeout bounds the help invocation. Defaults to 5 seconds.
	Timeout time.Duration
	// Flag is the argument passed to request help. Defaults to --help.
	Flag string
}

// Resolve invokes binPath with the help flag and returns its output. It
// errors on timeout, spawn failure, or empty output; the caller substitutes
// fallback text.
func (r *Resolver) Resolve(ctx context.Context, binPath string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	flag := r.Flag
	if flag == "" {
		flag = defaultFlag
	}

	res := dispatch.Execute(ctx, dispatch.Spec{
		Path:           binPath,
		Args:           []string{flag},
		Timeout:        timeout,
		Grace:          time.Second,
		MaxOutputBytes: maxHelpBytes,
	})
	if res.Outcome != dispatch.OutcomeCompleted {
		log.WithComponent("help").Debug("help invocation failed",
			"path", binPath, "outcome", res.Outcome, "reason", res.Reason)
		return "", fmt.Errorf("run %s %s: %s", binPath, flag, res.Outcome)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		return "", fmt.Errorf("run %s %s: nonzero exit", binPath, flag)
	}

	text := strings.TrimSpace(res.Stdout)
	if text == "" {
		return "", fmt.Errorf("%s produced no help output", binPath)
	}
	return text, nil
}
