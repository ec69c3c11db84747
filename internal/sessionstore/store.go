// Package sessionstore implements the per-project durable session record
// file: a single JSON document at
// <project_root>/.cc-spec/runtime/codex/sessions.json, rewritten
// atomically under one process-wide mutex.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cc-spec/agentsup/internal/config"
	"github.com/cc-spec/agentsup/internal/logger"
)

const schemaVersion = 1

// Record is one session's persisted state.
type Record struct {
	SessionID     string    `json:"session_id"`
	ProjectRoot   string    `json:"project_root"`
	Kind          string    `json:"kind"` // "terminal"
	Mode          string    `json:"mode,omitempty"`
	State         string    `json:"state"` // starting|running|idle|exited
	PID           *int      `json:"pid"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ExitCode      *int      `json:"exit_code"`
	LastExitReason string   `json:"last_exit_reason,omitempty"`
	TaskSummary   string    `json:"task_summary,omitempty"`
	Message       string    `json:"message,omitempty"`
	ThreadID      string    `json:"thread_id,omitempty"`
	TurnID        string    `json:"turn_id,omitempty"`
}

// Document is the full on-disk shape.
type Document struct {
	SchemaVersion int                `json:"schema_version"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Sessions      map[string]*Record `json:"sessions"`
}

func emptyDocument() *Document {
	return &Document{SchemaVersion: schemaVersion, Sessions: map[string]*Record{}}
}

// Patch describes a partial update to a Record. Nil fields are left
// unchanged; the Clear* flags explicitly null out a nullable field.
type Patch struct {
	Kind          *string
	Mode          *string
	State         *string
	PID           *int
	ClearPID      bool
	ExitCode      *int
	ClearExitCode bool
	LastExitReason *string
	TaskSummary   *string
	Message       *string
	ThreadID      *string
	TurnID        *string
}

func (p Patch) apply(r *Record) {
	if p.Kind != nil {
		r.Kind = *p.Kind
	}
	if p.Mode != nil {
		r.Mode = *p.Mode
	}
	if p.State != nil {
		r.State = *p.State
	}
	if p.ClearPID {
		r.PID = nil
	} else if p.PID != nil {
		r.PID = p.PID
	}
	if p.ClearExitCode {
		r.ExitCode = nil
	} else if p.ExitCode != nil {
		r.ExitCode = p.ExitCode
	}
	if p.LastExitReason != nil {
		r.LastExitReason = *p.LastExitReason
	}
	if p.TaskSummary != nil {
		r.TaskSummary = *p.TaskSummary
	}
	if p.Message != nil {
		r.Message = *p.Message
	}
	if p.ThreadID != nil {
		r.ThreadID = *p.ThreadID
	}
	if p.TurnID != nil {
		r.TurnID = *p.TurnID
	}
}

// Store owns all sessions.json files under one process-wide mutex: it
// exclusively owns its on-disk file, and all writers go through a single
// mutex and an atomic replace.
type Store struct {
	mu sync.Mutex

	// processAlive is injectable for tests; defaults to the real OS check.
	processAlive func(pid int) bool
}

// New creates a Store using the real OS liveness check.
func New() *Store {
	return &Store{processAlive: ProcessAlive}
}

func (s *Store) loadLocked(projectRoot string) (*Document, error) {
	path := config.SessionsFilePath(projectRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return nil, fmt.Errorf("sessionstore: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Malformed JSON is treated as empty, not an error.
		logger.Log.Warn("sessionstore: malformed document, treating as empty", "path", path, "error", err)
		return emptyDocument(), nil
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]*Record{}
	}
	return &doc, nil
}

func (s *Store) saveLocked(projectRoot string, doc *Document) error {
	path := config.SessionsFilePath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("sessionstore: mkdir: %w", err)
	}
	doc.SchemaVersion = schemaVersion
	doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Load returns the current document for a project, never erroring on a
// missing or malformed file (returns an empty document instead).
func (s *Store) Load(projectRoot string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(projectRoot)
}

// Upsert merges patch into sessions[sessionID], creating the entry (with
// CreatedAt set) if absent, and atomically rewrites the file.
func (s *Store) Upsert(projectRoot, sessionID string, patch Patch) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(projectRoot)
	if err != nil {
		return nil, err
	}

	rec, ok := doc.Sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		rec = &Record{
			SessionID:   sessionID,
			ProjectRoot: projectRoot,
			Kind:        "terminal",
			State:       "starting",
			CreatedAt:   now,
		}
		doc.Sessions[sessionID] = rec
	}
	patch.apply(rec)
	rec.UpdatedAt = time.Now().UTC()

	if err := s.saveLocked(projectRoot, doc); err != nil {
		return nil, err
	}
	cp := *rec
	return &cp, nil
}

// Delete removes a session record entirely. This is the only path by
// which a record is hard-deleted.
func (s *Store) Delete(projectRoot, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(projectRoot)
	if err != nil {
		return err
	}
	if _, ok := doc.Sessions[sessionID]; !ok {
		return nil
	}
	delete(doc.Sessions, sessionID)
	return s.saveLocked(projectRoot, doc)
}

// ReconcileStale patches every running record whose pid the OS no longer
// knows about to exited/stale_pid. It returns the session ids that were
// changed, so the caller can also drop them from the Supervisor's
// in-memory map.
func (s *Store) ReconcileStale(projectRoot string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(projectRoot)
	if err != nil {
		return nil, err
	}

	var changed []string
	for id, rec := range doc.Sessions {
		if rec.State != "running" || rec.PID == nil || *rec.PID <= 0 {
			continue
		}
		if s.processAlive(*rec.PID) {
			continue
		}
		rec.State = "exited"
		rec.LastExitReason = "stale_pid"
		rec.ExitCode = nil
		rec.UpdatedAt = time.Now().UTC()
		changed = append(changed, id)
	}
	if len(changed) > 0 {
		if err := s.saveLocked(projectRoot, doc); err != nil {
			return nil, err
		}
	}
	return changed, nil
}
