package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Spec describes one execution for the low-level executor.
type Spec struct {
	Path string
	// Args are handed to the child as a discrete argument vector. No shell
	// is involved at any point, so metacharacters reach the child verbatim.
	Args           []string
	Timeout        time.Duration
	Grace          time.Duration
	MaxOutputBytes int
}

// Execute runs one child process under a timeout and returns a Result. It is
// the single process-lifecycle implementation; Dispatcher and the help
// resolver both go through it.
//
// The child is started in its own process group. On timeout the whole group
// receives SIGTERM, then SIGKILL after the grace period, so descendants the
// child spawned are terminated with it.
func Execute(ctx context.Context, spec Spec) *Result {
	if spec.Timeout <= 0 {
		spec.Timeout = 30 * time.Second
	}
	if spec.Grace <= 0 {
		spec.Grace = defaultGrace
	}
	if spec.MaxOutputBytes <= 0 {
		spec.MaxOutputBytes = defaultMaxOutputBytes
	}

	res := &Result{
		ExecutionID: newExecutionID(),
		Args:        spec.Args,
		StartedAt:   time.Now(),
	}

	// Don't use CommandContext: termination is managed here so the process
	// group dies, not just the direct child.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newLimitWriter(spec.MaxOutputBytes)
	stderr := newLimitWriter(spec.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		res.Outcome = OutcomeSpawnFailed
		res.Reason = fmt.Sprintf("start process: %v", err)
		res.Duration = time.Since(res.StartedAt)
		return res
	}

	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timer.C:
		terminateGroup(cmd, spec.Grace, waitErr)
		res.Outcome = OutcomeTimedOut
		res.Reason = fmt.Sprintf("timed out after %s", spec.Timeout)
		res.TruncatedByTimeout = true

	case <-ctx.Done():
		terminateGroup(cmd, spec.Grace, waitErr)
		res.Outcome = OutcomeKilled
		res.Reason = fmt.Sprintf("dispatch cancelled: %v", ctx.Err())

	case err := <-waitErr:
		classifyExit(res, err)
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.StdoutTruncated = stdout.Truncated()
	res.StderrTruncated = stderr.Truncated()
	res.Duration = time.Since(res.StartedAt)
	return res
}

// classifyExit maps cmd.Wait's error into an outcome and exit code.
func classifyExit(res *Result, err error) {
	if err == nil {
		code := 0
		res.Outcome = OutcomeCompleted
		res.ExitCode = &code
		return
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// I/O error while waiting; the process state is unknown.
		res.Outcome = OutcomeSpawnFailed
		res.Reason = fmt.Sprintf("wait for process: %v", err)
		return
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Outcome = OutcomeKilled
		res.Reason = fmt.Sprintf("killed by signal %s", ws.Signal())
		return
	}

	code := exitErr.ExitCode()
	res.Outcome = OutcomeCompleted
	res.ExitCode = &code
}

// terminateGroup sends SIGTERM to the child's process group, waits out the
// grace period, then SIGKILLs the group and reaps the child. It only returns
// once cmd.Wait has delivered, so no process outlives the dispatch.
func terminateGroup(cmd *exec.Cmd, grace time.Duration, waitErr <-chan error) {
	signalGroup(cmd, syscall.SIGTERM)

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-waitErr:
		// Exited within the grace period.
	case <-graceTimer.C:
		signalGroup(cmd, syscall.SIGKILL)
		<-waitErr
	}
}

// signalGroup signals the child's process group, falling back to the direct
// child when the group is already gone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		_ = cmd.Process.Signal(sig)
	}
}

func newExecutionID() string {
	return uuid.NewString()
}

// limitWriter captures up to limit bytes and discards the rest, recording
// that truncation happened. Capture stays continuous so a child that fills
// the OS pipe buffer cannot deadlock against exit-time draining.
type limitWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitWriter(limit int) *limitWriter {
	return &limitWriter{limit: limit}
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Report all bytes consumed to avoid short-write errors upstream.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *limitWriter) String() string { return w.buf.String() }

func (w *limitWriter) Truncated() bool { return w.truncated }
