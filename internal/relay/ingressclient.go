package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cc-spec/agentsup/internal/logger"
)

// ingressClient POSTs lifecycle events to the supervisor's /ingest route.
// A transport failure here is logged and the event is dropped — there
// is no retry.
type ingressClient struct {
	baseURL string
	client  *http.Client
}

func newIngressClient(ingressURL string) *ingressClient {
	return &ingressClient{
		baseURL: strings.TrimRight(ingressURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *ingressClient) post(eventType, sessionID, projectRoot string, fields map[string]any) {
	body := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		body[k] = v
	}
	body["type"] = eventType
	body["ts"] = time.Now().UTC().Format(time.RFC3339)
	body["session_id"] = sessionID
	body["project_root"] = projectRoot

	data, err := json.Marshal(body)
	if err != nil {
		logger.Log.Warn("relay: marshal ingest body failed", "type", eventType, "error", err)
		return
	}

	resp, err := c.client.Post(c.baseURL+"/ingest", "application/json", bytes.NewReader(data))
	if err != nil {
		logger.Log.Warn("relay: ingest POST failed, dropping event", "type", eventType, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		logger.Log.Warn("relay: ingest POST rejected", "type", eventType, "status", resp.StatusCode)
	}
}
