package sessionstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cc-spec/agentsup/internal/config"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestUpsertCreatesRecordWithCreatedAt(t *testing.T) {
	dir := t.TempDir()
	s := New()

	rec, err := s.Upsert(dir, "s1", Patch{State: strp("starting")})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be set")
	}
	if rec.State != "starting" {
		t.Fatalf("want state starting, got %s", rec.State)
	}

	doc, err := s.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Sessions) != 1 {
		t.Fatalf("want 1 session, got %d", len(doc.Sessions))
	}
}

func TestUpsertIdempotentModuloUpdatedAt(t *testing.T) {
	dir := t.TempDir()
	s := New()

	patch := Patch{State: strp("running"), PID: intp(1234)}
	r1, _ := s.Upsert(dir, "s1", patch)
	r2, _ := s.Upsert(dir, "s1", patch)

	if r1.State != r2.State || *r1.PID != *r2.PID {
		t.Fatalf("expected same record modulo UpdatedAt: %+v vs %+v", r1, r2)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Upsert(dir, "s1", Patch{})
	if err := s.Delete(dir, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	doc, _ := s.Load(dir)
	if _, ok := doc.Sessions["s1"]; ok {
		t.Fatalf("expected session removed")
	}
}

func TestMalformedDocumentTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := config.SessionsFilePath(dir)
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte("{not json"), 0644)

	s := New()
	doc, err := s.Load(dir)
	if err != nil {
		t.Fatalf("Load should not error on malformed JSON: %v", err)
	}
	if len(doc.Sessions) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}

	// And a subsequent Upsert must still work (overwriting the bad file).
	if _, err := s.Upsert(dir, "s1", Patch{}); err != nil {
		t.Fatalf("Upsert after malformed read: %v", err)
	}
}

func TestReconcileStaleMarksDeadPidsExited(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.processAlive = func(pid int) bool { return pid == 100 } // only 100 "alive"

	s.Upsert(dir, "alive", Patch{State: strp("running"), PID: intp(100)})
	s.Upsert(dir, "dead", Patch{State: strp("running"), PID: intp(99999)})
	s.Upsert(dir, "not-running", Patch{State: strp("idle"), PID: intp(5)})

	changed, err := s.ReconcileStale(dir)
	if err != nil {
		t.Fatalf("ReconcileStale: %v", err)
	}
	if len(changed) != 1 || changed[0] != "dead" {
		t.Fatalf("expected exactly [\"dead\"] to change, got %v", changed)
	}

	doc, _ := s.Load(dir)
	if doc.Sessions["alive"].State != "running" {
		t.Fatalf("alive session should remain running")
	}
	dead := doc.Sessions["dead"]
	if dead.State != "exited" || dead.LastExitReason != "stale_pid" || dead.ExitCode != nil {
		t.Fatalf("dead session not reconciled correctly: %+v", dead)
	}
	if doc.Sessions["not-running"].State != "idle" {
		t.Fatalf("idle session should be untouched")
	}

	// Idempotent: reconciling again reports no further change.
	changed2, err := s.ReconcileStale(dir)
	if err != nil || len(changed2) != 0 {
		t.Fatalf("expected second reconcile to be a no-op: changed=%v err=%v", changed2, err)
	}
}

func TestProcessAliveSelf(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Fatalf("expected current process to be alive")
	}
}
