package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cc-spec/agentsup/internal/classify"
)

type capturedPost struct {
	eventType string
	body      map[string]any
}

func newCapturingIngress(t *testing.T) (*httptest.Server, *[]capturedPost, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var posts []capturedPost
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		posts = append(posts, capturedPost{eventType: body["type"].(string), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv, &posts, &mu
}

func newTestRelay(ingressURL string) *Relay {
	return New(Config{
		IngressURL:  ingressURL,
		ProjectRoot: "/proj",
		SessionID:   "s1",
		AgentName:   "agentc",
	})
}

func TestHandleControlKillByPeerAgentEmitsClaudeRequested(t *testing.T) {
	srv, posts, mu := newCapturingIngress(t)
	r := newTestRelay(srv.URL)
	r.cur = &spawnedChild{kill: func() error { return nil }}

	done := r.handleControl(control{action: actionKill, requestedBy: classify.PeerAgentRequester})
	if !done {
		t.Fatalf("expected Kill to terminate the relay loop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*posts) != 1 {
		t.Fatalf("expected exactly one post, got %d", len(*posts))
	}
	p := (*posts)[0]
	if p.eventType != "codex.session.exited" {
		t.Fatalf("want codex.session.exited, got %s", p.eventType)
	}
	if p.body["exit_reason"] != string(classify.ClaudeRequested) {
		t.Fatalf("want claude_requested, got %v", p.body["exit_reason"])
	}
	if p.body["exit_code"].(float64) != 137 {
		t.Fatalf("want exit_code 137, got %v", p.body["exit_code"])
	}
}

func TestHandleControlKillByOtherEmitsToolRequested(t *testing.T) {
	srv, posts, mu := newCapturingIngress(t)
	r := newTestRelay(srv.URL)
	r.cur = &spawnedChild{kill: func() error { return nil }}

	r.handleControl(control{action: actionKill, requestedBy: "gui"})

	mu.Lock()
	defer mu.Unlock()
	p := (*posts)[0]
	if p.body["exit_reason"] != string(classify.ToolRequested) {
		t.Fatalf("want tool_requested, got %v", p.body["exit_reason"])
	}
}

func TestHandleControlKillOnAlreadyExitedChildIsNoop(t *testing.T) {
	srv, posts, mu := newCapturingIngress(t)
	r := newTestRelay(srv.URL)
	// r.cur is nil: the child already exited and handleChildExited already
	// posted the real exit_code/exit_reason.

	done := r.handleControl(control{action: actionKill, requestedBy: "gui"})
	if !done {
		t.Fatalf("expected Kill to still terminate the relay loop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*posts) != 0 {
		t.Fatalf("expected no synthetic session.exited post for an already-dead child, got %v", *posts)
	}
}

func TestHandlePauseRecordsStopRequest(t *testing.T) {
	srv, _, _ := newCapturingIngress(t)
	r := newTestRelay(srv.URL)

	r.handleControl(control{action: actionPause, requestedBy: "gui"})
	if r.lastStopRequestedBy != "gui" {
		t.Fatalf("expected lastStopRequestedBy to be recorded")
	}
	if time.Since(r.lastStopRequestedAt) > time.Second {
		t.Fatalf("expected lastStopRequestedAt to be recent")
	}
}

func TestHandleChildExitedIgnoresStaleGeneration(t *testing.T) {
	srv, posts, mu := newCapturingIngress(t)
	r := newTestRelay(srv.URL)
	r.generation = 2

	r.handleChildExited(childExited{generation: 1, exitCode: 1})

	mu.Lock()
	defer mu.Unlock()
	if len(*posts) != 0 {
		t.Fatalf("expected stale generation's exit to be ignored, got %d posts", len(*posts))
	}
}

func TestHandleChildExitedClassifiesCleanExitAsUserRequested(t *testing.T) {
	srv, posts, mu := newCapturingIngress(t)
	r := newTestRelay(srv.URL)
	r.generation = 1

	r.handleChildExited(childExited{generation: 1, exitCode: 0})

	mu.Lock()
	defer mu.Unlock()
	p := (*posts)[0]
	if p.body["exit_reason"] != string(classify.UserRequested) {
		t.Fatalf("want user_requested, got %v", p.body["exit_reason"])
	}
}

func TestNotifierArgsOmittedWhenNoFlagOrPath(t *testing.T) {
	if args := notifierArgs("", "/bin/notifier", "http://x", "s1", "/p"); args != nil {
		t.Fatalf("expected nil args without a flag, got %v", args)
	}
	if args := notifierArgs("--on-turn-complete", "", "http://x", "s1", "/p"); args != nil {
		t.Fatalf("expected nil args without a notifier path, got %v", args)
	}
}

func TestNotifierArgsIncludesEndpointAndSession(t *testing.T) {
	args := notifierArgs("--on-turn-complete", "/bin/notifier", "http://x:1", "s1", "/p")
	if len(args) != 2 || args[0] != "--on-turn-complete" {
		t.Fatalf("unexpected args: %v", args)
	}
	if want := "/bin/notifier --endpoint=http://x:1 --session-id=s1 --project-root=/p"; args[1] != want {
		t.Fatalf("notifier command = %q, want %q", args[1], want)
	}
}
