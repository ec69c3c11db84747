package ingress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cc-spec/agentsup/internal/bus"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	seen []string
}

func (f *fakeDispatcher) Dispatch(eventType string, raw json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, eventType)
}

func startServer(t *testing.T) (*Server, *fakeDispatcher, string) {
	t.Helper()
	b := bus.New()
	d := &fakeDispatcher{}
	s := New(b, d)
	port, err := s.Listen(0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s, d, "http://127.0.0.1:" + strconv.Itoa(port)
}

func TestIngestRecognizedTypeDispatchedAndBroadcast(t *testing.T) {
	_, d, base := startServer(t)

	body := []byte(`{"type":"codex.session.started","session_id":"s1","pid":123}`)
	resp, err := http.Post(base+"/ingest", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}

	time.Sleep(20 * time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.seen) != 1 || d.seen[0] != "codex.session.started" {
		t.Fatalf("expected dispatch of codex.session.started, got %v", d.seen)
	}
}

func TestIngestUnknownTypeStillAcceptedAndBroadcastAsStream(t *testing.T) {
	s, _, base := startServer(t)
	recv := s.Bus.Subscribe()
	defer recv.Close()

	body := []byte(`{"foo":"bar"}`)
	resp, err := http.Post(base+"/ingest", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202 regardless of recognition, got %d", resp.StatusCode)
	}

	select {
	case e := <-recv.C():
		if e.Type != "codex.stream" {
			t.Fatalf("want broadcast as codex.stream, got %q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the unrecognized body to be broadcast on the bus")
	}
}

func TestEventsStreamEmitsOkThenPublishedEvents(t *testing.T) {
	s, _, base := startServer(t)

	resp, err := http.Get(base + "/events")
	if err != nil {
		t.Fatalf("get /events: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": ok") {
		t.Fatalf("expected leading ': ok' comment, got %q (err=%v)", line, err)
	}

	ev, err := bus.NewEvent("codex.turn_complete", "s1", "/proj", map[string]any{"last_assistant_message": "hi"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	s.Bus.Publish(ev)

	// Skip the blank separator line from ": ok\n\n" and read the event block.
	reader.ReadString('\n')
	eventLine, _ := reader.ReadString('\n')
	if !strings.HasPrefix(eventLine, "event: codex.turn_complete") {
		t.Fatalf("expected event line, got %q", eventLine)
	}
}
