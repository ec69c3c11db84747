package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cc-spec/agentsup/internal/logger"
)

// controlPayload is the wire shape of a codex.control event.
type controlPayload struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Action      string `json:"action"`
	Text        string `json:"text"`
	RequestID   string `json:"request_id"`
	RequestedBy string `json:"requested_by"`
}

// sseClient consumes GET /events, assembling event:/data: blocks and
// converting codex.control payloads scoped to sessionID into control
// values delivered on controls. It closes done when the connection
// drops — there is no reconnection policy; the caller reacts by killing
// the child and exiting.
type sseClient struct {
	controls chan control
	done     chan struct{}
}

func connectSSE(ingressURL, sessionID string) (*sseClient, error) {
	resp, err := http.Get(strings.TrimRight(ingressURL, "/") + "/events")
	if err != nil {
		return nil, fmt.Errorf("relay: connect to ingress SSE: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("relay: ingress SSE returned status %d", resp.StatusCode)
	}

	c := &sseClient{
		controls: make(chan control, 16),
		done:     make(chan struct{}),
	}

	go func() {
		defer resp.Body.Close()
		defer close(c.done)
		defer close(c.controls)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)

		var eventName, dataLine string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if dataLine != "" {
					c.handleBlock(eventName, dataLine, sessionID)
				}
				eventName, dataLine = "", ""
			case strings.HasPrefix(line, ":"):
				// heartbeat / ok comment — nothing to do
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()

	return c, nil
}

func (c *sseClient) handleBlock(eventName, data, sessionID string) {
	if eventName != "codex.control" {
		return
	}
	var p controlPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		logger.Log.Warn("relay: malformed codex.control payload", "error", err)
		return
	}
	if p.SessionID != "" && p.SessionID != sessionID {
		return
	}
	c.controls <- control{
		action:      p.Action,
		text:        p.Text,
		requestID:   p.RequestID,
		requestedBy: p.RequestedBy,
	}
}
