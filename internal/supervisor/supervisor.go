// Package supervisor implements the pending-request / auto-retry state
// machine and exit-cause bookkeeping. It is the Dispatcher the ingress
// hands every recognized POST /ingest event to, and
// the method surface the Command Surface RPCs call directly for
// GUI-originated input/pause/kill.
package supervisor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cc-spec/agentsup/internal/bus"
	"github.com/cc-spec/agentsup/internal/classify"
	"github.com/cc-spec/agentsup/internal/logger"
	"github.com/cc-spec/agentsup/internal/sessionstore"
)

// maxRetries bounds the Supervisor's auto-retry broadcasts per
// PendingRequest.
const maxRetries = 3

// PendingRequest is an outstanding send_input awaiting a turn_complete.
type PendingRequest struct {
	RequestID   string
	Prompt      string
	RequestedBy string
	CreatedAtMs int64
}

// SupervisorSession is the in-memory per-session state.
type SupervisorSession struct {
	ProjectRoot           string
	Pending               *PendingRequest
	RetryCount            int
	LastStopRequestedBy   string
	LastStopRequestedAtMs int64
}

// Supervisor owns the in-memory session map and the durable Session Store,
// and publishes synthesized events directly onto the bus.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*SupervisorSession

	store *sessionstore.Store
	bus   *bus.Bus
}

// New builds a Supervisor wired to store and b.
func New(store *sessionstore.Store, b *bus.Bus) *Supervisor {
	return &Supervisor{
		sessions: make(map[string]*SupervisorSession),
		store:    store,
		bus:      b,
	}
}

func (s *Supervisor) sessionLocked(sessionID, projectRoot string) *SupervisorSession {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &SupervisorSession{ProjectRoot: projectRoot}
		s.sessions[sessionID] = sess
	} else if projectRoot != "" {
		sess.ProjectRoot = projectRoot
	}
	return sess
}

// Forget drops a session's in-memory state (called on explicit delete or
// successful reconcile_stale).
func (s *Supervisor) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Known reports whether sessionID currently has in-memory state.
func (s *Supervisor) Known(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// InstallPendingRequest registers a PendingRequest for a GUI-originated
// send_input and publishes the codex.control event the Relay consumes.
// Used directly by the Command Surface's send_input RPC.
func (s *Supervisor) InstallPendingRequest(projectRoot, sessionID, text, requestedBy string) string {
	requestID := uuid.NewString()

	s.mu.Lock()
	sess := s.sessionLocked(sessionID, projectRoot)
	sess.Pending = &PendingRequest{
		RequestID:   requestID,
		Prompt:      text,
		RequestedBy: requestedBy,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	s.mu.Unlock()

	s.publishControl(sessionID, projectRoot, "send_input", text, requestID, requestedBy)
	return requestID
}

// PublishControl records stop-request bookkeeping (for pause/kill/restart)
// and publishes the codex.control event, used directly by the Command
// Surface's pause_session/kill_session RPCs.
func (s *Supervisor) PublishControl(projectRoot, sessionID, action, requestedBy string) {
	if action != "send_input" {
		s.mu.Lock()
		sess := s.sessionLocked(sessionID, projectRoot)
		sess.LastStopRequestedBy = requestedBy
		sess.LastStopRequestedAtMs = time.Now().UnixMilli()
		s.mu.Unlock()
	}
	s.publishControl(sessionID, projectRoot, action, "", "", requestedBy)
}

func (s *Supervisor) publishControl(sessionID, projectRoot, action, text, requestID, requestedBy string) {
	fields := map[string]any{"action": action}
	if text != "" {
		fields["text"] = text
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if requestedBy != "" {
		fields["requested_by"] = requestedBy
	}
	ev, err := bus.NewEvent("codex.control", sessionID, projectRoot, fields)
	if err != nil {
		logger.Log.Warn("supervisor: failed to build codex.control event", "error", err)
		return
	}
	s.bus.Publish(ev)
}

// Dispatch routes a recognized POST /ingest event to its handler.
// Unrecognized types are a no-op here; ingress still broadcasts them
// verbatim on the bus.
func (s *Supervisor) Dispatch(eventType string, raw json.RawMessage) {
	switch eventType {
	case "codex.session.started":
		s.handleSessionStarted(raw)
	case "codex.session.exited":
		s.handleSessionExited(raw)
	case "codex.turn_complete":
		s.handleTurnComplete(raw)
	case "codex.control.error":
		s.handleControlError(raw)
	case "codex.control":
		s.handleExternalControl(raw)
	}
}

type baseEnvelope struct {
	SessionID   string `json:"session_id"`
	ProjectRoot string `json:"project_root"`
}

func (s *Supervisor) handleSessionStarted(raw json.RawMessage) {
	var p struct {
		baseEnvelope
		PID int `json:"pid"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		logger.Log.Warn("supervisor: malformed session.started", "error", err)
		return
	}

	s.mu.Lock()
	s.sessionLocked(p.SessionID, p.ProjectRoot)
	s.mu.Unlock()

	pid := p.PID
	clearedReason := ""
	_, err := s.store.Upsert(p.ProjectRoot, p.SessionID, sessionstore.Patch{
		State:          strp("running"),
		PID:            &pid,
		LastExitReason: &clearedReason,
	})
	if err != nil {
		logger.Log.Error("supervisor: upsert on session.started failed", "session_id", p.SessionID, "error", err)
	}
}

func (s *Supervisor) handleSessionExited(raw json.RawMessage) {
	var p struct {
		baseEnvelope
		ExitCode   int    `json:"exit_code"`
		ExitReason string `json:"exit_reason"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		logger.Log.Warn("supervisor: malformed session.exited", "error", err)
		return
	}

	exitCode := p.ExitCode
	_, err := s.store.Upsert(p.ProjectRoot, p.SessionID, sessionstore.Patch{
		State:          strp("exited"),
		ExitCode:       &exitCode,
		LastExitReason: &p.ExitReason,
	})
	if err != nil {
		logger.Log.Error("supervisor: upsert on session.exited failed", "session_id", p.SessionID, "error", err)
	}

	if !isRetryableReason(p.ExitReason) {
		return
	}

	s.mu.Lock()
	sess := s.sessionLocked(p.SessionID, p.ProjectRoot)
	pending := sess.Pending
	if pending == nil {
		s.mu.Unlock()
		return
	}
	sess.RetryCount++
	attempt := sess.RetryCount
	exhausted := attempt > maxRetries
	s.mu.Unlock()

	if exhausted {
		logger.Log.Warn("supervisor: retry budget exhausted, leaving pending request in place", "session_id", p.SessionID)
		return
	}

	s.publishControl(p.SessionID, p.ProjectRoot, "retry", pending.Prompt, pending.RequestID, pending.RequestedBy)

	ev, err := bus.NewEvent("codex.retry_scheduled", p.SessionID, p.ProjectRoot, map[string]any{
		"request_id": pending.RequestID,
		"attempt":    attempt,
	})
	if err == nil {
		s.bus.Publish(ev)
	}
}

func isRetryableReason(reason string) bool {
	switch classify.Reason(reason) {
	case classify.CrashOrUnknown:
		return true
	}
	return reason == "crash" || reason == "unknown"
}

func (s *Supervisor) handleTurnComplete(raw json.RawMessage) {
	var p struct {
		baseEnvelope
		LastAssistantMessage string `json:"last_assistant_message"`
		ThreadID             string `json:"thread_id"`
		TurnID               string `json:"turn_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		logger.Log.Warn("supervisor: malformed turn_complete", "error", err)
		return
	}

	_, err := s.store.Upsert(p.ProjectRoot, p.SessionID, sessionstore.Patch{
		State:    strp("running"),
		Message:  &p.LastAssistantMessage,
		ThreadID: &p.ThreadID,
		TurnID:   &p.TurnID,
	})
	if err != nil {
		logger.Log.Error("supervisor: upsert on turn_complete failed", "session_id", p.SessionID, "error", err)
	}

	s.mu.Lock()
	sess := s.sessionLocked(p.SessionID, p.ProjectRoot)
	pending := sess.Pending
	sess.Pending = nil
	sess.RetryCount = 0
	s.mu.Unlock()

	if pending == nil {
		return
	}

	ev, err := bus.NewEvent("codex.managed.turn_complete", p.SessionID, p.ProjectRoot, map[string]any{
		"request_id":              pending.RequestID,
		"requested_by":            pending.RequestedBy,
		"created_at_ms":           pending.CreatedAtMs,
		"last_assistant_message":  p.LastAssistantMessage,
		"thread_id":               p.ThreadID,
		"turn_id":                 p.TurnID,
	})
	if err == nil {
		s.bus.Publish(ev)
	}
}

func (s *Supervisor) handleControlError(raw json.RawMessage) {
	var p struct {
		baseEnvelope
		Action      string `json:"action"`
		Error       string `json:"error"`
		RequestID   string `json:"request_id"`
		RequestedBy string `json:"requested_by"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		logger.Log.Warn("supervisor: malformed control.error", "error", err)
		return
	}

	msg := p.Action + " failed: " + p.Error
	_, err := s.store.Upsert(p.ProjectRoot, p.SessionID, sessionstore.Patch{Message: &msg})
	if err != nil {
		logger.Log.Error("supervisor: upsert on control.error failed", "session_id", p.SessionID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessionLocked(p.SessionID, p.ProjectRoot)
	if sess.Pending == nil {
		return
	}
	if p.RequestID == "" || sess.Pending.RequestID == p.RequestID {
		sess.Pending = nil
	}
}

func (s *Supervisor) handleExternalControl(raw json.RawMessage) {
	var p struct {
		baseEnvelope
		Action      string `json:"action"`
		Text        string `json:"text"`
		RequestID   string `json:"request_id"`
		RequestedBy string `json:"requested_by"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		logger.Log.Warn("supervisor: malformed control", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessionLocked(p.SessionID, p.ProjectRoot)

	switch p.Action {
	case "send_input":
		if p.Text == "" {
			return
		}
		requestID := p.RequestID
		if requestID == "" {
			requestID = uuid.NewString()
		}
		sess.Pending = &PendingRequest{
			RequestID:   requestID,
			Prompt:      p.Text,
			RequestedBy: p.RequestedBy,
			CreatedAtMs: time.Now().UnixMilli(),
		}
	case "pause", "kill", "restart", "retry":
		sess.LastStopRequestedBy = p.RequestedBy
		sess.LastStopRequestedAtMs = time.Now().UnixMilli()
	}
}

func strp(s string) *string { return &s }
