package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/mattjoyce/chatexec/internal/log"
	"github.com/mattjoyce/chatexec/internal/registry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// writeScript drops an executable shell script into binDir.
func writeScript(t *testing.T, binDir, name, body string) string {
	t.Helper()
	path := filepath.Join(binDir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func setupDispatcher(t *testing.T, binDir string, timeout time.Duration) *Dispatcher {
	t.Helper()
	reg, err := registry.Build(context.Background(), registry.BuildOptions{
		BinDir:         binDir,
		DefaultTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return New(registry.NewStore(reg), Options{Grace: 2 * time.Second})
}

func TestDispatch_Success(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, binDir, "ok", "#!/bin/bash\nprintf OK\n")
	d := setupDispatcher(t, binDir, 5*time.Second)

	res := d.Dispatch(context.Background(), "ok", nil)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want %s (reason: %s)", res.Outcome, OutcomeCompleted, res.Reason)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", res.ExitCode)
	}
	if res.Stdout != "OK" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "OK")
	}
	if !res.OK() {
		t.Error("expected OK() to be true")
	}
	if res.ExecutionID == "" {
		t.Error("expected non-empty execution id")
	}
}

func TestDispatch_NonZeroExit(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, binDir, "fail", "#!/bin/bash\necho -n boom >&2\nexit 3\n")
	d := setupDispatcher(t, binDir, 5*time.Second)

	res := d.Dispatch(context.Background(), "fail", nil)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeCompleted)
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", res.ExitCode)
	}
	if res.Stderr != "boom" {
		t.Errorf("stderr = %q, want %q", res.Stderr, "boom")
	}
	if res.OK() {
		t.Error("expected OK() to be false for exit 3")
	}
}

func TestDispatch_NotFound(t *testing.T) {
	binDir := t.TempDir()
	d := setupDispatcher(t, binDir, 5*time.Second)

	res := d.Dispatch(context.Background(), "nonexistent", []string{"a"})

	if res.Outcome != OutcomeNotFound {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeNotFound)
	}
	if res.ExitCode != nil {
		t.Errorf("exit code = %v, want nil", res.ExitCode)
	}
	if !strings.Contains(res.Reason, "not found") {
		t.Errorf("reason = %q, want mention of not found", res.Reason)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	binDir := t.TempDir()
	pidFile := filepath.Join(t.TempDir(), "pid")
	// Write the pid, emit partial output, then hang.
	writeScript(t, binDir, "sleeper", "#!/bin/bash\necho $$ > "+pidFile+"\nprintf partial\nexec sleep 30\n")
	d := setupDispatcher(t, binDir, 1*time.Second)

	start := time.Now()
	res := d.Dispatch(context.Background(), "sleeper", nil)
	elapsed := time.Since(start)

	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s, want %s (reason: %s)", res.Outcome, OutcomeTimedOut, res.Reason)
	}
	if !res.TruncatedByTimeout {
		t.Error("expected truncated-by-timeout flag")
	}
	if res.Stdout != "partial" {
		t.Errorf("stdout = %q, want partial output preserved", res.Stdout)
	}
	if res.ExitCode != nil {
		t.Errorf("exit code = %v, want nil on timeout", res.ExitCode)
	}
	// 1s timeout + 2s grace + margin.
	if elapsed > 5*time.Second {
		t.Errorf("dispatch took too long: %v", elapsed)
	}

	// The child must not survive the dispatch returning.
	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	if err := syscall.Kill(pid, 0); err != syscall.ESRCH {
		t.Errorf("child pid %d still alive after dispatch returned (kill err: %v)", pid, err)
	}
}

func TestDispatch_ArgsPassedVerbatim(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, binDir, "echo-args", "#!/bin/bash\nprintf '%s\\n' \"$@\"\n")
	d := setupDispatcher(t, binDir, 5*time.Second)

	args := []string{"; rm -rf /", "$(whoami)", "a b c", "&&", "|"}
	res := d.Dispatch(context.Background(), "echo-args", args)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeCompleted)
	}
	want := strings.Join(args, "\n") + "\n"
	if res.Stdout != want {
		t.Errorf("stdout = %q, want %q (args must reach the child uninterpreted)", res.Stdout, want)
	}
}

func TestDispatch_OutputTruncation(t *testing.T) {
	binDir := t.TempDir()
	// Emit well past the 1 KiB cap.
	writeScript(t, binDir, "chatty", "#!/bin/bash\nhead -c 8192 /dev/zero | tr '\\0' 'x'\n")

	reg, err := registry.Build(context.Background(), registry.BuildOptions{
		BinDir:         binDir,
		DefaultTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	d := New(registry.NewStore(reg), Options{MaxOutputBytes: 1024})

	res := d.Dispatch(context.Background(), "chatty", nil)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeCompleted)
	}
	if len(res.Stdout) != 1024 {
		t.Errorf("stdout length = %d, want 1024", len(res.Stdout))
	}
	if !res.StdoutTruncated {
		t.Error("expected stdout truncation flag")
	}
	if res.TruncatedByTimeout {
		t.Error("size truncation must not be flagged as timeout truncation")
	}
}

func TestDispatch_Concurrent(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, binDir, "echo-arg", "#!/bin/bash\nprintf '%s' \"$1\"\n")
	d := setupDispatcher(t, binDir, 5*time.Second)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Result, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.Dispatch(context.Background(), "echo-arg", []string{strconv.Itoa(i)})
		}()
	}
	wg.Wait()

	for i, res := range results {
		if res.Outcome != OutcomeCompleted {
			t.Errorf("dispatch %d: outcome = %s, want %s", i, res.Outcome, OutcomeCompleted)
			continue
		}
		if res.Stdout != strconv.Itoa(i) {
			t.Errorf("dispatch %d: stdout = %q, want %q", i, res.Stdout, strconv.Itoa(i))
		}
	}
}

func TestExecute_SpawnFailed(t *testing.T) {
	res := Execute(context.Background(), Spec{
		Path:    "/no/such/binary",
		Timeout: time.Second,
	})

	if res.Outcome != OutcomeSpawnFailed {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeSpawnFailed)
	}
	if res.Reason == "" {
		t.Error("expected the underlying OS error in the reason")
	}
	if res.ExitCode != nil {
		t.Errorf("exit code = %v, want nil", res.ExitCode)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	binDir := t.TempDir()
	path := writeScript(t, binDir, "hang", "#!/bin/bash\nexec sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := Execute(ctx, Spec{Path: path, Timeout: 30 * time.Second, Grace: time.Second})

	if res.Outcome != OutcomeKilled {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeKilled)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancel took too long: %v", elapsed)
	}
}

func TestLimitWriter(t *testing.T) {
	tests := []struct {
		name      string
		writes    []string
		limit     int
		want      string
		truncated bool
	}{
		{name: "under limit", writes: []string{"abc"}, limit: 10, want: "abc", truncated: false},
		{name: "exactly at limit", writes: []string{"abcde"}, limit: 5, want: "abcde", truncated: false},
		{name: "single write over limit", writes: []string{"abcdefgh"}, limit: 5, want: "abcde", truncated: true},
		{name: "second write discarded", writes: []string{"abcde", "fgh"}, limit: 5, want: "abcde", truncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newLimitWriter(tt.limit)
			for _, s := range tt.writes {
				n, err := w.Write([]byte(s))
				if err != nil {
					t.Fatalf("write: %v", err)
				}
				if n != len(s) {
					t.Errorf("short write reported: %d != %d", n, len(s))
				}
			}
			if w.String() != tt.want {
				t.Errorf("captured = %q, want %q", w.String(), tt.want)
			}
			if w.Truncated() != tt.truncated {
				t.Errorf("truncated = %v, want %v", w.Truncated(), tt.truncated)
			}
		})
	}
}
