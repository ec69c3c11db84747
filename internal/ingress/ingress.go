// Package ingress implements the loopback HTTP endpoint children POST
// lifecycle events to, and the SSE stream the GUI and Relay subscribe to.
// It binds to 127.0.0.1 only; there is no authentication because the
// socket never leaves the host.
package ingress

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cc-spec/agentsup/internal/bus"
	"github.com/cc-spec/agentsup/internal/logger"
)

const (
	maxHeaderBytes = 16 * 1024
	maxBodyBytes   = 1 << 20 // generous ceiling; most ingest bodies are tiny
	heartbeatEvery = 10 * time.Second
)

// Dispatcher is implemented by internal/supervisor: the Supervisor ingests
// every recognized event type and updates its in-memory + on-disk state.
type Dispatcher interface {
	Dispatch(eventType string, raw json.RawMessage)
}

// Server is the ingress HTTP endpoint: GET /events (SSE) and POST /ingest.
type Server struct {
	Bus        *bus.Bus
	Dispatcher Dispatcher

	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server wired to bus and dispatcher; call Listen then Serve.
func New(b *bus.Bus, d Dispatcher) *Server {
	return &Server{Bus: b, Dispatcher: d}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/events", s.handleEvents)
	r.Post("/ingest", s.handleIngest)
	return r
}

// Listen binds to 127.0.0.1:port. port == 0 lets the OS choose one; if a
// nonzero configured port is already in use, it falls back to an
// OS-assigned port (a dev-mode fallback so multiple instances can run
// side by side).
func (s *Server) Listen(port uint16) (actualPort int, err error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil && port != 0 {
		logger.Log.Warn("ingress: configured port busy, falling back to OS-assigned", "port", port, "error", err)
		lis, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return 0, fmt.Errorf("ingress: listen: %w", err)
	}
	s.listener = lis
	return lis.Addr().(*net.TCPAddr).Port, nil
}

// Serve blocks, running the HTTP server on the already-bound listener.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{
		Handler:        s.router(),
		MaxHeaderBytes: maxHeaderBytes,
	}
	return s.httpServer.Serve(s.listener)
}

// Close shuts the server down.
func (s *Server) Close() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	// Subscribe before the ": ok" comment so that every event published
	// after the client has seen it is delivered.
	recv := s.Bus.Subscribe()
	defer recv.Close()

	if _, err := io.WriteString(w, ": ok\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-recv.C():
			if !ok {
				return // dropped as a slow subscriber
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.Raw); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength < 0 {
		http.Error(w, "Content-Length required", http.StatusLengthRequired)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	var envelope struct {
		Type        string `json:"type"`
		SessionID   string `json:"session_id"`
		ProjectRoot string `json:"project_root"`
	}
	eventType := "codex.stream"
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Type != "" {
		eventType = envelope.Type
		s.Dispatcher.Dispatch(envelope.Type, body)
	} else {
		logger.Log.Warn("ingress: ingest body has no recognizable type, broadcasting as codex.stream")
	}

	s.Bus.Publish(bus.Event{
		Type:        eventType,
		SessionID:   envelope.SessionID,
		ProjectRoot: envelope.ProjectRoot,
		Raw:         json.RawMessage(body),
		Ts:          time.Now().UTC(),
	})

	w.WriteHeader(http.StatusAccepted)
	io.WriteString(w, "ok")
}

// HeaderByteLimit is exposed for tests asserting the 16 KiB request
// header ceiling.
func HeaderByteLimit() int { return maxHeaderBytes }
