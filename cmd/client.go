package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// envelope mirrors server.ok/server.fail's {"status","data"|"error"} shape.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func postJSON(url string, body interface{}, out interface{}) error {
	return doJSON(http.MethodPost, url, body, out)
}

func getJSON(url string, out interface{}) error {
	return doJSON(http.MethodGet, url, nil, out)
}

func deleteJSON(url string, out interface{}) error {
	return doJSON(http.MethodDelete, url, nil, out)
}

func doJSON(method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("katod server unreachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Status != "success" {
		return fmt.Errorf("server error: %s", env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// ensureSession returns the --session flag's value, or creates a fresh
// session (creating --kb first, idempotently) if none was given.
func ensureSession(cmd *cobra.Command) (string, error) {
	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID != "" {
		return sessionID, nil
	}

	kbID, _ := cmd.Flags().GetString("kb")
	if err := postJSON(apiURL(cmd, "/api/kb/"+kbID), nil, nil); err != nil {
		return "", fmt.Errorf("create kb %q: %w", kbID, err)
	}

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := postJSON(apiURL(cmd, "/api/sessions/"), map[string]string{"kb_id": kbID}, &created); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return created.SessionID, nil
}
