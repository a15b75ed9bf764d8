package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/chatexec/internal/chat"
	"github.com/mattjoyce/chatexec/internal/history"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	reg := s.registry.Current()
	resp := HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		CommandsLoaded:  reg.Len(),
		RegistryBuiltAt: reg.BuiltAt(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCommands handles GET /commands.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	descs := s.registry.Current().All()
	out := make([]CommandInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, CommandInfo{
			Name:           d.Name,
			Source:         string(d.Source),
			Help:           d.Help,
			TimeoutSeconds: int64(d.Timeout.Seconds()),
			Digest:         d.Digest,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleRun handles POST /run/{command}. The dispatch happens synchronously
// inside the request; a missing command still returns 200 with a not_found
// result, because the dispatch itself worked.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "command")

	var req RunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if len(req.Args) > 0 && req.Raw != "" {
		s.writeError(w, http.StatusBadRequest, "args and raw are mutually exclusive")
		return
	}

	args := req.Args
	if req.Raw != "" {
		var err error
		args, err = chat.Tokenize(req.Raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res := s.runner.Run(r.Context(), name, args)
	s.writeJSON(w, http.StatusOK, RunResponse{
		Result: res,
		Reply:  chat.FormatResult(res),
	})
}

// handleReload handles POST /reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.reloader.Reload(r.Context()); err != nil {
		s.logger.Error("registry reload failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	reg := s.registry.Current()
	s.writeJSON(w, http.StatusOK, ReloadResponse{
		Commands: reg.Len(),
		Skipped:  len(reg.Skipped()),
		BuiltAt:  reg.BuiltAt(),
	})
}

// handleHistory handles GET /history?limit=n.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
