// Package relay implements the Subprocess Relay: a dedicated per-session
// process that bridges a terminal window, one agent
// CLI child, and the supervisor's SSE bus.
package relay

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cc-spec/agentsup/internal/agentprofile"
	"github.com/cc-spec/agentsup/internal/classify"
	"github.com/cc-spec/agentsup/internal/logger"
)

// Config carries the arguments the Supervisor invokes a Relay with:
// ingress host, port, project root, session id, optional agent binary
// path.
type Config struct {
	IngressURL   string
	ProjectRoot  string
	SessionID    string
	AgentName    string // profile key, e.g. "agentc" or "agentx"
	AgentBinPath string
	NotifierPath string
	Cols, Rows   uint16
}

// loopMsg is the single-consumer event queue's element type: a control
// command parsed from SSE, a childExited notification from the
// child-wait goroutine, or a stdin-ETX interrupt sighting.
type loopMsg struct {
	ctrl      *control
	exited    *childExited
	interrupt *time.Time
}

// Relay owns exactly one child generation at a time and serializes all
// control handling through its main loop.
type Relay struct {
	cfg    Config
	ingest *ingressClient
	sse    *sseClient

	generation int
	cur        *spawnedChild

	lastStopRequestedBy string
	lastStopRequestedAt time.Time
	lastUserInterruptAt time.Time

	queue chan loopMsg
}

// New builds a Relay ready to Run.
func New(cfg Config) *Relay {
	return &Relay{
		cfg:    cfg,
		ingest: newIngressClient(cfg.IngressURL),
		queue:  make(chan loopMsg, 64),
	}
}

// Run executes the Relay's full lifecycle: connect to the bus, spawn the
// initial child, and serve the main loop until the child is killed or the
// SSE connection drops. It returns when the Relay process should exit.
func (r *Relay) Run() error {
	sse, err := connectSSE(r.cfg.IngressURL, r.cfg.SessionID)
	if err != nil {
		return err
	}
	r.sse = sse

	if staged, err := stageNotifierBinary(r.cfg.ProjectRoot, r.cfg.SessionID, r.cfg.NotifierPath); err != nil {
		logger.Log.Warn("relay: notifier staging failed, using original path", "error", err)
	} else {
		r.cfg.NotifierPath = staged
	}

	go func() {
		for c := range sse.controls {
			c := c
			r.queue <- loopMsg{ctrl: &c}
		}
	}()

	if err := r.spawnNewChild(""); err != nil {
		logger.Log.Error("relay: initial spawn failed", "session_id", r.cfg.SessionID, "error", err)
		r.ingest.post("codex.session.exited", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
			"exit_code":   -1,
			"exit_reason": "spawn_failed",
		})
		return err
	}

	for {
		select {
		case msg := <-r.queue:
			if msg.ctrl != nil {
				if done := r.handleControl(*msg.ctrl); done {
					return nil
				}
			}
			if msg.exited != nil {
				r.handleChildExited(*msg.exited)
			}
			if msg.interrupt != nil {
				r.lastUserInterruptAt = *msg.interrupt
			}
		case <-sse.done:
			logger.Log.Warn("relay: SSE connection dropped, killing child and exiting", "session_id", r.cfg.SessionID)
			if r.cur != nil {
				r.cur.Kill()
			}
			return fmt.Errorf("relay: ingress SSE connection dropped")
		}
	}
}

// startupWatchdogTimeout bounds how long the Relay waits for the child's
// first PTY byte before logging a warning to aid debugging an agent CLI
// that is hung or waiting on something the Relay never sends.
const startupWatchdogTimeout = 15 * time.Second

// spawnNewChild starts a fresh child generation, POSTs session.started,
// and, if injectText is non-empty, writes it plus a newline to the child
// right away.
func (r *Relay) spawnNewChild(injectText string) error {
	r.generation++
	gen := r.generation
	var gotOutput atomic.Bool

	profile := agentprofile.Lookup(r.cfg.AgentName)
	env := agentprofile.BuildEnv(r.cfg.AgentName, map[string]string{
		"PROJECT_ROOT": r.cfg.ProjectRoot,
		"INGRESS_URL":  r.cfg.IngressURL,
		"SESSION_ID":   r.cfg.SessionID,
	})
	args := notifierArgs(profile.NotifierFlag, r.cfg.NotifierPath, r.cfg.IngressURL, r.cfg.SessionID, r.cfg.ProjectRoot)

	child, err := spawnChild(spawnConfig{
		BinPath: r.cfg.AgentBinPath,
		Args:    args,
		Env:     env,
		Cwd:     r.cfg.ProjectRoot,
		Cols:    r.cfg.Cols,
		Rows:    r.cfg.Rows,
		OnInterrupt: func() {
			now := time.Now()
			r.queue <- loopMsg{interrupt: &now}
		},
		OnStream: func(stream string, p []byte) {
			gotOutput.Store(true)
			r.ingest.post("codex.stream", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
				"stream": stream,
				"text":   string(p),
			})
		},
	})
	if err != nil {
		return err
	}
	r.cur = child

	go func(gen int, ch <-chan int) {
		code := <-ch
		r.queue <- loopMsg{exited: &childExited{generation: gen, exitCode: code}}
	}(gen, child.exit)

	r.ingest.post("codex.session.started", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
		"pid": child.pid,
	})

	time.AfterFunc(startupWatchdogTimeout, func() {
		if r.generation == gen && !gotOutput.Load() {
			logger.Log.Warn("relay: no PTY output received since spawn", "session_id", r.cfg.SessionID, "generation", gen, "since", startupWatchdogTimeout)
		}
	})

	if injectText != "" {
		if err := child.WriteInput([]byte(injectText + "\n")); err != nil {
			logger.Log.Warn("relay: failed to inject text after spawn", "error", err)
		}
	}
	return nil
}

// notifierArgs appends the notifier flag (if any) so the agent CLI can
// invoke the sibling notifier binary at turn-complete.
func notifierArgs(flag, notifierPath, ingressURL, sessionID, projectRoot string) []string {
	if flag == "" || notifierPath == "" {
		return nil
	}
	return []string{flag, fmt.Sprintf("%s --endpoint=%s --session-id=%s --project-root=%s", notifierPath, ingressURL, sessionID, projectRoot)}
}

// handleControl applies one control command. It returns true when the
// Relay should terminate (Kill).
func (r *Relay) handleControl(c control) bool {
	switch c.action {
	case actionSendInput:
		if c.text == "" {
			return false
		}
		if r.cur == nil {
			if err := r.spawnNewChild(c.text); err != nil {
				r.ingest.post("codex.control.error", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
					"action":       c.action,
					"error":        err.Error(),
					"request_id":   c.requestID,
					"requested_by": c.requestedBy,
				})
			}
			return false
		}
		if err := r.cur.WriteInput([]byte(c.text + "\n")); err != nil {
			r.ingest.post("codex.control.error", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
				"action":       c.action,
				"error":        err.Error(),
				"request_id":   c.requestID,
				"requested_by": c.requestedBy,
			})
		}

	case actionPause:
		r.recordStopRequest(c.requestedBy)
		if r.cur != nil {
			r.cur.Interrupt()
		}

	case actionKill:
		r.recordStopRequest(c.requestedBy)
		if r.cur == nil {
			// Already exited — handleChildExited already posted the real
			// exit_code/exit_reason. Killing a dead session is a no-op.
			return true
		}
		reason := classify.ToolRequested
		if c.requestedBy == classify.PeerAgentRequester {
			reason = classify.ClaudeRequested
		}
		r.cur.Kill()
		r.ingest.post("codex.session.exited", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
			"exit_code":   137,
			"exit_reason": string(reason),
		})
		return true

	case actionRetry:
		r.recordStopRequest(c.requestedBy)
		if r.cur != nil {
			r.cur.Kill()
			r.cur = nil
		}
		if err := r.spawnNewChild(c.text); err != nil {
			r.ingest.post("codex.control.error", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
				"action":       c.action,
				"error":        err.Error(),
				"request_id":   c.requestID,
				"requested_by": c.requestedBy,
			})
		}

	case actionRestart:
		r.recordStopRequest(c.requestedBy)
		if r.cur != nil {
			r.cur.Kill()
			r.cur = nil
		}
		if err := r.spawnNewChild(""); err != nil {
			r.ingest.post("codex.control.error", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
				"action":       c.action,
				"error":        err.Error(),
				"request_id":   c.requestID,
				"requested_by": c.requestedBy,
			})
		}
	}
	return false
}

func (r *Relay) recordStopRequest(requestedBy string) {
	r.lastStopRequestedBy = requestedBy
	r.lastStopRequestedAt = time.Now()
}

// handleChildExited classifies an exit and emits session.exited, ignoring
// messages from a generation that has since been replaced.
func (r *Relay) handleChildExited(e childExited) {
	if e.generation != r.generation {
		return // stale wait from a replaced generation
	}
	r.cur = nil

	reason := classify.Classify(classify.Observation{
		StopRequestedBy:     r.lastStopRequestedBy,
		StopRequestedAt:     r.lastStopRequestedAt,
		LastUserInterruptAt: r.lastUserInterruptAt,
		ExitCode:            e.exitCode,
		Now:                 time.Now(),
	})

	r.ingest.post("codex.session.exited", r.cfg.SessionID, r.cfg.ProjectRoot, map[string]any{
		"exit_code":   e.exitCode,
		"exit_reason": string(reason),
	})
}
