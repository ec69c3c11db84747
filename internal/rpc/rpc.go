// Package rpc implements the Command Surface: the GUI-facing
// JSON-over-unix-socket RPC layer fronting the Admission Controller,
// Session Store and Supervisor. It is the only component that spawns
// Relay processes and the only one that touches the external settings
// store and project registry.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cc-spec/agentsup/internal/admission"
	"github.com/cc-spec/agentsup/internal/config"
	"github.com/cc-spec/agentsup/internal/external"
	"github.com/cc-spec/agentsup/internal/logger"
	"github.com/cc-spec/agentsup/internal/sessionstore"
	"github.com/cc-spec/agentsup/internal/supervisor"
)

const defaultGracefulWaitSecs = 3

// RelaySpawnConfig is what LaunchRelay needs to start one Relay process.
type RelaySpawnConfig struct {
	ProjectRoot  string
	SessionID    string
	AgentName    string
	AgentBinPath string
}

// Server is the Command Surface: a chi router served over a unix
// socket, sharing its router family and middleware with internal/ingress.
type Server struct {
	Admission  *admission.Controller
	Settings   external.SettingsStore
	Projects   external.ProjectRegistry
	Store      *sessionstore.Store
	Supervisor *supervisor.Supervisor
	IngressURL string

	// LaunchRelay spawns a Relay process for a freshly registered session.
	// Wired by cmd/supervisord to exec the relay binary; tests substitute a
	// fake that just records the call.
	LaunchRelay func(cfg RelaySpawnConfig) error

	// LaunchPeerTerminal opens an OS terminal window running the peer
	// agent. Wired by cmd/supervisord to a platform-specific terminal
	// launcher; tests substitute a fake.
	LaunchPeerTerminal func(projectRoot, sessionID string) error

	socketPath string
	httpServer *http.Server
	listener   net.Listener
}

// ListenUnix binds a unix socket at socketPath, removing any stale socket
// left behind by a previous (crashed) instance first.
func (s *Server) ListenUnix(socketPath string) error {
	os.Remove(socketPath)
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen unix %s: %w", socketPath, err)
	}
	s.socketPath = socketPath
	s.listener = lis
	return nil
}

// Serve blocks, running the HTTP server on the already-bound listener.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{Handler: s.router()}
	return s.httpServer.Serve(s.listener)
}

// Close shuts the server down and removes the socket file.
func (s *Server) Close() error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Close()
	}
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	return err
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/get_settings", s.handleGetSettings)
	r.Post("/set_settings", s.handleSetSettings)
	r.Post("/launch_peer_terminal", s.handleLaunchPeerTerminal)
	r.Post("/start_interactive_session", s.handleStartInteractiveSession)
	r.Post("/send_input", s.handleSendInput)
	r.Post("/pause_session", s.handlePauseSession)
	r.Post("/kill_session", s.handleKillSession)
	r.Post("/delete_session", s.handleDeleteSession)
	r.Post("/graceful_stop_session", s.handleGracefulStopSession)
	r.Get("/load_sessions", s.handleLoadSessions)
	r.Get("/get_concurrency_status", s.handleGetConcurrencyStatus)
	r.Post("/cancel_queued_task", s.handleCancelQueuedTask)
	r.Post("/update_concurrency_limits", s.handleUpdateConcurrencyLimits)

	return r
}

// --- settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Settings.Get())
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var settings config.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Settings.Set(settings); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// --- sessions ---

type launchPeerTerminalRequest struct {
	ProjectRoot string `json:"project_root"`
	SessionID   string `json:"session_id"`
}

var errNotInitialized = errors.New("project has not completed initialization")

func (s *Server) handleLaunchPeerTerminal(w http.ResponseWriter, r *http.Request) {
	var req launchPeerTerminalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProjectRoot == "" {
		writeError(w, http.StatusBadRequest, "project_root is required")
		return
	}
	if err := checkInitialized(req.ProjectRoot); err != nil {
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	}
	if s.Projects != nil && !s.Projects.IsRegistered(req.ProjectRoot) {
		writeError(w, http.StatusPreconditionFailed, "project is not registered")
		return
	}
	if s.LaunchPeerTerminal == nil {
		writeError(w, http.StatusInternalServerError, "no terminal launcher configured")
		return
	}
	if err := s.LaunchPeerTerminal(req.ProjectRoot, req.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "launched"})
}

// checkInitialized reads the project init sentinel directly; it is a
// plain on-disk check, not proxied through ProjectRegistry, because the
// sentinel is owned by the indexing pipeline rather than the GUI registry.
func checkInitialized(projectRoot string) error {
	data, err := os.ReadFile(config.InitStatusPath(projectRoot))
	if err != nil {
		return fmt.Errorf("%w: %v", errNotInitialized, err)
	}
	var status struct {
		Initialized bool `json:"initialized"`
	}
	if err := json.Unmarshal(data, &status); err != nil || !status.Initialized {
		return errNotInitialized
	}
	return nil
}

type startInteractiveSessionRequest struct {
	ProjectRoot string `json:"project_root"`
	AgentName   string `json:"agent_name"`
}

func (s *Server) handleStartInteractiveSession(w http.ResponseWriter, r *http.Request) {
	var req startInteractiveSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProjectRoot == "" {
		writeError(w, http.StatusBadRequest, "project_root is required")
		return
	}

	sessionID := newSessionID()
	kind := "terminal"
	_, err := s.Store.Upsert(req.ProjectRoot, sessionID, sessionstore.Patch{Kind: &kind})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.LaunchRelay != nil {
		if err := s.LaunchRelay(RelaySpawnConfig{
			ProjectRoot: req.ProjectRoot,
			SessionID:   sessionID,
			AgentName:   req.AgentName,
		}); err != nil {
			s.Store.Delete(req.ProjectRoot, sessionID)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

type sessionActionRequest struct {
	ProjectRoot string `json:"project_root"`
	SessionID   string `json:"session_id"`
	Text        string `json:"text"`
	RequestedBy string `json:"requested_by"`
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	var req sessionActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProjectRoot == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "project_root and session_id are required")
		return
	}
	requestID := s.Supervisor.InstallPendingRequest(req.ProjectRoot, req.SessionID, req.Text, req.RequestedBy)
	writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID})
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	s.publishSessionAction(w, r, "pause")
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	s.publishSessionAction(w, r, "kill")
}

func (s *Server) publishSessionAction(w http.ResponseWriter, r *http.Request, action string) {
	var req sessionActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProjectRoot == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "project_root and session_id are required")
		return
	}
	s.Supervisor.PublishControl(req.ProjectRoot, req.SessionID, action, req.RequestedBy)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deleteSessionRequest struct {
	ProjectRoot string `json:"project_root"`
	SessionID   string `json:"session_id"`
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	var req deleteSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Store.Delete(req.ProjectRoot, req.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Supervisor.Forget(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type gracefulStopRequest struct {
	ProjectRoot string `json:"project_root"`
	SessionID   string `json:"session_id"`
	WaitSecs    int    `json:"wait_secs"`
}

type gracefulStopResponse struct {
	Success bool `json:"success"`
	Forced  bool `json:"forced"`
}

// handleGracefulStopSession implements a soft-signal-then-hard-kill
// sequence directly against the recorded pid, independent of whatever
// control channel the Relay itself may be using.
func (s *Server) handleGracefulStopSession(w http.ResponseWriter, r *http.Request) {
	var req gracefulStopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WaitSecs <= 0 {
		req.WaitSecs = defaultGracefulWaitSecs
	}

	doc, err := s.Store.Load(req.ProjectRoot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec := doc.Sessions[req.SessionID]
	if rec == nil || rec.PID == nil {
		writeJSON(w, http.StatusOK, gracefulStopResponse{Success: true, Forced: false})
		return
	}
	pid := *rec.PID

	if !sessionstore.ProcessAlive(pid) {
		writeJSON(w, http.StatusOK, gracefulStopResponse{Success: true, Forced: false})
		return
	}

	if err := sessionstore.SoftStop(pid); err != nil {
		logger.Log.Warn("rpc: soft stop failed", "pid", pid, "error", err)
	}

	deadline := time.Now().Add(time.Duration(req.WaitSecs) * time.Second)
	for time.Now().Before(deadline) {
		if !sessionstore.ProcessAlive(pid) {
			writeJSON(w, http.StatusOK, gracefulStopResponse{Success: true, Forced: false})
			return
		}
		time.Sleep(500 * time.Millisecond)
	}

	forced := false
	if sessionstore.ProcessAlive(pid) {
		forced = true
		if err := sessionstore.HardKill(pid); err != nil {
			logger.Log.Warn("rpc: hard kill failed", "pid", pid, "error", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	success := !sessionstore.ProcessAlive(pid)
	writeJSON(w, http.StatusOK, gracefulStopResponse{Success: success, Forced: forced})
}

func (s *Server) handleLoadSessions(w http.ResponseWriter, r *http.Request) {
	projectRoot := r.URL.Query().Get("project_root")
	if projectRoot == "" {
		writeError(w, http.StatusBadRequest, "project_root is required")
		return
	}
	staleIDs, err := s.Store.ReconcileStale(projectRoot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, id := range staleIDs {
		s.Supervisor.Forget(id)
	}
	doc, err := s.Store.Load(projectRoot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// --- concurrency ---

func (s *Server) handleGetConcurrencyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Admission.Status())
}

type cancelQueuedTaskRequest struct {
	TaskID uint64 `json:"task_id"`
}

func (s *Server) handleCancelQueuedTask(w http.ResponseWriter, r *http.Request) {
	var req cancelQueuedTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.Admission.CancelQueued(req.TaskID) {
		writeError(w, http.StatusNotFound, admission.ErrNotQueued.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateConcurrencyLimitsRequest struct {
	LimitC    int `json:"limit_c"`
	LimitX    int `json:"limit_x"`
	GlobalCap int `json:"global_cap"`
}

func (s *Server) handleUpdateConcurrencyLimits(w http.ResponseWriter, r *http.Request) {
	var req updateConcurrencyLimitsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.Admission.SetLimits(req.LimitC, req.LimitX, req.GlobalCap)
	writeJSON(w, http.StatusOK, s.Admission.Status())
}

// --- helpers ---

var sessionIDCounter uint64

func newSessionID() string {
	n := atomic.AddUint64(&sessionIDCounter, 1)
	return fmt.Sprintf("s-%s-%03d", time.Now().Format("20060102150405"), n)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
