package dispatch

import "time"

// Outcome is the terminal classification of one dispatch attempt.
type Outcome string

const (
	// OutcomeCompleted means the child exited on its own, with any exit code.
	OutcomeCompleted Outcome = "completed"
	// OutcomeTimedOut means the timeout fired and the child was terminated.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeSpawnFailed means the child never started (missing binary,
	// permission denied) or waiting on it failed.
	OutcomeSpawnFailed Outcome = "spawn_failed"
	// OutcomeNotFound means the command name has no registry entry; no
	// process was spawned.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeKilled means the child died from a signal that was not our
	// timeout termination, or the dispatch context was cancelled.
	OutcomeKilled Outcome = "killed"
)

// Result is the outcome of a single dispatch. Each Result is owned solely by
// the caller that issued the dispatch; nothing is shared between concurrent
// executions.
type Result struct {
	ExecutionID string   `json:"execution_id"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`

	Outcome Outcome `json:"outcome"`
	// ExitCode is set only when the child completed; absent for timeouts,
	// kills, spawn failures and lookup misses.
	ExitCode *int   `json:"exit_code,omitempty"`
	Reason   string `json:"reason,omitempty"`

	Stdout             string `json:"stdout"`
	Stderr             string `json:"stderr"`
	StdoutTruncated    bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated    bool   `json:"stderr_truncated,omitempty"`
	TruncatedByTimeout bool   `json:"truncated_by_timeout,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the dispatch completed with exit code zero.
func (r *Result) OK() bool {
	return r.Outcome == OutcomeCompleted && r.ExitCode != nil && *r.ExitCode == 0
}
