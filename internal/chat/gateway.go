package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/chatexec/internal/dispatch"
	"github.com/mattjoyce/chatexec/internal/log"
)

// Runner is the dispatch surface the gateway needs.
type Runner interface {
	Dispatch(ctx context.Context, name string, args []string) *dispatch.Result
}

// Recorder persists results. A nil Recorder disables history.
type Recorder interface {
	Record(ctx context.Context, res *dispatch.Result) error
}

// Gateway adapts inbound chat commands to the dispatcher and renders replies.
// It owns no transport; hosts hand it the command name and raw argument text.
type Gateway struct {
	runner   Runner
	recorder Recorder
	logger   *slog.Logger
}

// NewGateway creates a Gateway. recorder may be nil.
func NewGateway(runner Runner, recorder Recorder) *Gateway {
	return &Gateway{
		runner:   runner,
		recorder: recorder,
		logger:   log.WithComponent("chat"),
	}
}

// OnCommand tokenizes rawArgs, dispatches name, and returns the chat reply.
// Tokenization errors come back as a reply too, so a host can always relay
// something to the user.
func (g *Gateway) OnCommand(ctx context.Context, name, rawArgs string) string {
	args, err := Tokenize(rawArgs)
	if err != nil {
		g.logger.Warn("rejected malformed arguments", "command", name, "error", err)
		return fmt.Sprintf("Could not parse arguments: %v", err)
	}

	res := g.Run(ctx, name, args)
	return FormatResult(res)
}

// Run dispatches with an already-split argument vector and records the
// result. Recording failures are logged and never affect the result.
func (g *Gateway) Run(ctx context.Context, name string, args []string) *dispatch.Result {
	res := g.runner.Dispatch(ctx, name, args)
	if g.recorder != nil {
		if err := g.recorder.Record(ctx, res); err != nil {
			log.WithExecution(res.ExecutionID).Error("failed to record execution", "error", err)
		}
	}
	return res
}
