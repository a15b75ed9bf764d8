package chat

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/chatexec/internal/dispatch"
)

// FormatResult renders a dispatch result as chat text: output in a code
// block, with a status line when the run was not a clean success.
func FormatResult(res *dispatch.Result) string {
	var b strings.Builder

	switch res.Outcome {
	case dispatch.OutcomeNotFound:
		fmt.Fprintf(&b, "Unknown command `%s`.", res.Command)
		return b.String()
	case dispatch.OutcomeSpawnFailed:
		fmt.Fprintf(&b, "Could not start `%s`: %s", res.Command, res.Reason)
		return b.String()
	case dispatch.OutcomeTimedOut:
		fmt.Fprintf(&b, "`%s` %s and was terminated.\n", res.Command, res.Reason)
	case dispatch.OutcomeKilled:
		fmt.Fprintf(&b, "`%s` was killed: %s\n", res.Command, res.Reason)
	case dispatch.OutcomeCompleted:
		if res.ExitCode != nil && *res.ExitCode != 0 {
			fmt.Fprintf(&b, "`%s` exited with status %d.\n", res.Command, *res.ExitCode)
		}
	}

	out := strings.TrimRight(res.Stdout, "\n")
	errOut := strings.TrimRight(res.Stderr, "\n")
	if out == "" && errOut == "" {
		if b.Len() == 0 {
			fmt.Fprintf(&b, "`%s` completed with no output.", res.Command)
		}
		return strings.TrimRight(b.String(), "\n")
	}

	if out != "" {
		fmt.Fprintf(&b, "```\n%s\n```", out)
	}
	if errOut != "" {
		if out != "" {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "stderr:\n```\n%s\n```", errOut)
	}
	if res.StdoutTruncated || res.StderrTruncated {
		b.WriteString("\n(output truncated)")
	}
	if res.TruncatedByTimeout {
		b.WriteString("\n(output cut off by timeout)")
	}
	return b.String()
}
