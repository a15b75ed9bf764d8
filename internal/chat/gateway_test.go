package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/chatexec/internal/dispatch"
)

type fakeRunner struct {
	lastName string
	lastArgs []string
	result   *dispatch.Result
}

func (f *fakeRunner) Dispatch(_ context.Context, name string, args []string) *dispatch.Result {
	f.lastName = name
	f.lastArgs = args
	return f.result
}

type fakeRecorder struct {
	recorded []*dispatch.Result
	err      error
}

func (f *fakeRecorder) Record(_ context.Context, res *dispatch.Result) error {
	f.recorded = append(f.recorded, res)
	return f.err
}

func completedResult(command, stdout string, code int) *dispatch.Result {
	return &dispatch.Result{
		ExecutionID: "test-id",
		Command:     command,
		Outcome:     dispatch.OutcomeCompleted,
		ExitCode:    &code,
		Stdout:      stdout,
		StartedAt:   time.Now(),
	}
}

func TestOnCommand_TokenizesAndDispatches(t *testing.T) {
	runner := &fakeRunner{result: completedResult("deploy", "done\n", 0)}
	g := NewGateway(runner, nil)

	reply := g.OnCommand(context.Background(), "deploy", `web-1 "with spaces"`)

	assert.Equal(t, "deploy", runner.lastName)
	assert.Equal(t, []string{"web-1", "with spaces"}, runner.lastArgs)
	assert.Equal(t, "```\ndone\n```", reply)
}

func TestOnCommand_MalformedArgs(t *testing.T) {
	runner := &fakeRunner{}
	g := NewGateway(runner, nil)

	reply := g.OnCommand(context.Background(), "deploy", `"unterminated`)

	assert.Contains(t, reply, "Could not parse arguments")
	assert.Empty(t, runner.lastName, "dispatch must not happen for malformed input")
}

func TestOnCommand_RecordsResult(t *testing.T) {
	runner := &fakeRunner{result: completedResult("status", "up\n", 0)}
	rec := &fakeRecorder{}
	g := NewGateway(runner, rec)

	g.OnCommand(context.Background(), "status", "")

	assert.Len(t, rec.recorded, 1)
	assert.Equal(t, "status", rec.recorded[0].Command)
}

func TestOnCommand_RecorderFailureDoesNotLoseReply(t *testing.T) {
	runner := &fakeRunner{result: completedResult("status", "up\n", 0)}
	rec := &fakeRecorder{err: errors.New("disk full")}
	g := NewGateway(runner, rec)

	reply := g.OnCommand(context.Background(), "status", "")

	assert.Equal(t, "```\nup\n```", reply)
}

func TestFormatResult(t *testing.T) {
	code0, code2 := 0, 2
	tests := []struct {
		name string
		res  *dispatch.Result
		want string
	}{
		{
			name: "clean success",
			res:  &dispatch.Result{Command: "ls", Outcome: dispatch.OutcomeCompleted, ExitCode: &code0, Stdout: "a\nb\n"},
			want: "```\na\nb\n```",
		},
		{
			name: "success with no output",
			res:  &dispatch.Result{Command: "noop", Outcome: dispatch.OutcomeCompleted, ExitCode: &code0},
			want: "`noop` completed with no output.",
		},
		{
			name: "nonzero exit annotated",
			res:  &dispatch.Result{Command: "check", Outcome: dispatch.OutcomeCompleted, ExitCode: &code2, Stderr: "bad config\n"},
			want: "`check` exited with status 2.\nstderr:\n```\nbad config\n```",
		},
		{
			name: "not found",
			res:  &dispatch.Result{Command: "nope", Outcome: dispatch.OutcomeNotFound, Reason: `command "nope" not found in registry`},
			want: "Unknown command `nope`.",
		},
		{
			name: "timeout keeps partial output",
			res: &dispatch.Result{
				Command: "slow", Outcome: dispatch.OutcomeTimedOut,
				Reason: "timed out after 30s", Stdout: "partial", TruncatedByTimeout: true,
			},
			want: "`slow` timed out after 30s and was terminated.\n```\npartial\n```\n(output cut off by timeout)",
		},
		{
			name: "spawn failure",
			res:  &dispatch.Result{Command: "broken", Outcome: dispatch.OutcomeSpawnFailed, Reason: "start process: permission denied"},
			want: "Could not start `broken`: start process: permission denied",
		},
		{
			name: "truncated output annotated",
			res: &dispatch.Result{
				Command: "chatty", Outcome: dispatch.OutcomeCompleted, ExitCode: &code0,
				Stdout: "xxx", StdoutTruncated: true,
			},
			want: "```\nxxx\n```\n(output truncated)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatResult(tt.res))
		})
	}
}
