// Command notifier is the tiny sibling binary the agent CLI invokes at
// turn-complete. Its sole job is to read the agent's turn payload from
// stdin and POST codex.turn_complete to the ingress endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type turnPayload struct {
	LastAssistantMessage string `json:"last_assistant_message"`
	ThreadID             string `json:"thread_id"`
	TurnID               string `json:"turn_id"`
	Cwd                  string `json:"cwd"`
	InputMessages        any    `json:"input_messages"`
}

func main() {
	root := &cobra.Command{
		Use:   "notifier",
		Short: "posts codex.turn_complete to the ingress endpoint",
		RunE:  run,
	}

	root.Flags().String("endpoint", "", "ingress base URL, e.g. http://127.0.0.1:4173")
	root.Flags().String("session-id", "", "session id the turn belongs to")
	root.Flags().String("project-root", "", "project root directory")
	root.MarkFlagRequired("endpoint")
	root.MarkFlagRequired("session-id")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	endpoint, _ := cmd.Flags().GetString("endpoint")
	sessionID, _ := cmd.Flags().GetString("session-id")
	projectRoot, _ := cmd.Flags().GetString("project-root")

	var payload turnPayload
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("notifier: read stdin: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			fmt.Fprintf(os.Stderr, "notifier: ignoring unparseable hook payload: %v\n", err)
		}
	}

	body := map[string]any{
		"type":         "codex.turn_complete",
		"session_id":   sessionID,
		"project_root": projectRoot,
	}
	if payload.LastAssistantMessage != "" {
		body["last_assistant_message"] = payload.LastAssistantMessage
	}
	if payload.ThreadID != "" {
		body["thread_id"] = payload.ThreadID
	}
	if payload.TurnID != "" {
		body["turn_id"] = payload.TurnID
	}
	if payload.Cwd != "" {
		body["cwd"] = payload.Cwd
	}
	if payload.InputMessages != nil {
		body["input_messages"] = payload.InputMessages
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("notifier: marshal: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(endpoint+"/ingest", "application/json", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("notifier: post to ingest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("notifier: ingest returned %s", resp.Status)
	}
	return nil
}
