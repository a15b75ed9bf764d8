package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/chatexec/internal/api/mocks"
	"github.com/mattjoyce/chatexec/internal/dispatch"
	"github.com/mattjoyce/chatexec/internal/history"
	"github.com/mattjoyce/chatexec/internal/log"
	"github.com/mattjoyce/chatexec/internal/registry"
)

const testAPIKey = "test-key"

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(context.Context) error {
	f.calls++
	return f.err
}

type fakeHistory struct {
	entries []history.Entry
	err     error
}

func (f *fakeHistory) Recent(context.Context, int) ([]history.Entry, error) {
	return f.entries, f.err
}

// testRegistry builds a registry over one real executable.
func testRegistry(t *testing.T) *registry.Store {
	t.Helper()
	binDir := t.TempDir()
	script := filepath.Join(binDir, "deploy")
	if err := os.WriteFile(script, []byte("#!/bin/bash\necho ok\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	reg, err := registry.Build(context.Background(), registry.BuildOptions{
		BinDir:         binDir,
		DefaultTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return registry.NewStore(reg)
}

func newTestServer(t *testing.T, runner CommandRunner, reloader Reloader, hist HistoryReader) *Server {
	t.Helper()
	if reloader == nil {
		reloader = &fakeReloader{}
	}
	return New(Config{Listen: "127.0.0.1:0", APIKey: testAPIKey},
		runner, testRegistry(t), reloader, hist, log.WithComponent("api-test"))
}

func doRequest(s *Server, method, path string, body []byte, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec := doRequest(s, http.MethodGet, "/healthz", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.CommandsLoaded != 1 {
		t.Errorf("commands_loaded = %d, want 1", resp.CommandsLoaded)
	}
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/commands"},
		{http.MethodPost, "/run/deploy"},
		{http.MethodPost, "/reload"},
		{http.MethodGet, "/history"},
	} {
		rec := doRequest(s, tc.method, tc.path, nil, false)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCommands(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec := doRequest(s, http.MethodGet, "/commands", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var out []CommandInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Name != "deploy" {
		t.Fatalf("commands = %+v, want the one registered command", out)
	}
	if out[0].TimeoutSeconds != 5 {
		t.Errorf("timeout_seconds = %d, want 5", out[0].TimeoutSeconds)
	}
}

func TestRun_WithArgs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	code := 0
	runner := mocks.NewMockCommandRunner(ctrl)
	runner.EXPECT().
		Run(gomock.Any(), "deploy", []string{"web-1", "--fast"}).
		Return(&dispatch.Result{
			ExecutionID: "id-1",
			Command:     "deploy",
			Outcome:     dispatch.OutcomeCompleted,
			ExitCode:    &code,
			Stdout:      "deployed\n",
		})

	s := newTestServer(t, runner, nil, nil)
	body, _ := json.Marshal(RunRequest{Args: []string{"web-1", "--fast"}})

	rec := doRequest(s, http.MethodPost, "/run/deploy", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body)
	}

	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Outcome != dispatch.OutcomeCompleted {
		t.Errorf("outcome = %s", resp.Result.Outcome)
	}
	if resp.Reply != "```\ndeployed\n```" {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestRun_WithRaw(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	runner := mocks.NewMockCommandRunner(ctrl)
	runner.EXPECT().
		Run(gomock.Any(), "deploy", []string{"two words", "x"}).
		Return(&dispatch.Result{Command: "deploy", Outcome: dispatch.OutcomeCompleted, ExitCode: new(int)})

	s := newTestServer(t, runner, nil, nil)
	body, _ := json.Marshal(RunRequest{Raw: `"two words" x`})

	rec := doRequest(s, http.MethodPost, "/run/deploy", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body)
	}
}

func TestRun_BadRequests(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "args and raw together", body: `{"args":["a"],"raw":"b"}`},
		{name: "unterminated quote in raw", body: `{"raw":"\"oops"}`},
		{name: "invalid json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodPost, "/run/deploy", []byte(tt.body), true)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body: %s)", rec.Code, rec.Body)
			}
		})
	}
}

func TestRun_NotFoundCommandStillReturns200(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	runner := mocks.NewMockCommandRunner(ctrl)
	runner.EXPECT().
		Run(gomock.Any(), "ghost", gomock.Any()).
		Return(&dispatch.Result{Command: "ghost", Outcome: dispatch.OutcomeNotFound, Reason: "command \"ghost\" not found in registry"})

	s := newTestServer(t, runner, nil, nil)

	rec := doRequest(s, http.MethodPost, "/run/ghost", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Outcome != dispatch.OutcomeNotFound {
		t.Errorf("outcome = %s, want not_found", resp.Result.Outcome)
	}
}

func TestReload(t *testing.T) {
	reloader := &fakeReloader{}
	s := newTestServer(t, nil, reloader, nil)

	rec := doRequest(s, http.MethodPost, "/reload", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body)
	}
	if reloader.calls != 1 {
		t.Errorf("reloader calls = %d, want 1", reloader.calls)
	}

	var resp ReloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Commands != 1 {
		t.Errorf("commands = %d, want 1", resp.Commands)
	}
}

func TestReload_Failure(t *testing.T) {
	s := newTestServer(t, nil, &fakeReloader{err: errors.New("bin dir vanished")}, nil)

	rec := doRequest(s, http.MethodPost, "/reload", nil, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{entries: []history.Entry{
		{ExecutionID: "id-1", Command: "deploy", Outcome: "completed"},
	}}
	s := newTestServer(t, nil, nil, hist)

	rec := doRequest(s, http.MethodGet, "/history?limit=5", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body)
	}

	var out []history.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Command != "deploy" {
		t.Errorf("history = %+v", out)
	}
}

func TestHistory_Disabled(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec := doRequest(s, http.MethodGet, "/history", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when history is disabled", rec.Code)
	}
}

func TestHistory_BadLimit(t *testing.T) {
	s := newTestServer(t, nil, nil, &fakeHistory{})

	rec := doRequest(s, http.MethodGet, "/history?limit=-1", nil, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
