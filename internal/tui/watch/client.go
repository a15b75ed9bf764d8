package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/chatexec/internal/api"
	"github.com/mattjoyce/chatexec/internal/history"
)

// --- Message types ---

type healthMsg api.HealthzResponse

type commandsMsg []api.CommandInfo

type historyMsg []history.Entry

type tickMsg time.Time

type errMsg error

// --- Commands ---

func getJSON(apiURL, apiKey, path string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest("GET", apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var h healthMsg
		if err := getJSON(apiURL, apiKey, "/healthz", &h); err != nil {
			return errMsg(err)
		}
		return h
	}
}

// fetchCommands queries the /commands endpoint.
func fetchCommands(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var cmds commandsMsg
		if err := getJSON(apiURL, apiKey, "/commands", &cmds); err != nil {
			return errMsg(err)
		}
		return cmds
	}
}

// fetchHistory queries the /history endpoint. History may be disabled
// server-side; that comes back as an errMsg and the pane shows the error.
func fetchHistory(apiURL, apiKey string, limit int) tea.Cmd {
	return func() tea.Msg {
		var entries historyMsg
		path := fmt.Sprintf("/history?limit=%d", limit)
		if err := getJSON(apiURL, apiKey, path, &entries); err != nil {
			return errMsg(err)
		}
		return entries
	}
}
