package classify

import (
	"testing"
	"time"
)

func TestClassifyPeerKillWithinWindow(t *testing.T) {
	now := time.Now()
	r := Classify(Observation{
		StopRequestedBy: PeerAgentRequester,
		StopRequestedAt: now.Add(-3 * time.Second),
		ExitCode:        1,
		Now:             now,
	})
	if r != ClaudeRequested {
		t.Fatalf("want claude_requested, got %s", r)
	}
}

func TestClassifyOtherKillWithinWindow(t *testing.T) {
	now := time.Now()
	r := Classify(Observation{
		StopRequestedBy: "gui",
		StopRequestedAt: now.Add(-4 * time.Second),
		ExitCode:        1,
		Now:             now,
	})
	if r != ToolRequested {
		t.Fatalf("want tool_requested, got %s", r)
	}
}

func TestClassifyStaleStopRequestFallsThrough(t *testing.T) {
	now := time.Now()
	r := Classify(Observation{
		StopRequestedBy: PeerAgentRequester,
		StopRequestedAt: now.Add(-10 * time.Second), // outside 5s window
		ExitCode:        1,
		Now:             now,
	})
	if r != CrashOrUnknown {
		t.Fatalf("want crash_or_unknown, got %s", r)
	}
}

func TestClassifyUserETXWithinWindow(t *testing.T) {
	now := time.Now()
	r := Classify(Observation{
		LastUserInterruptAt: now.Add(-1 * time.Second),
		ExitCode:            130,
		Now:                 now,
	})
	if r != UserRequested {
		t.Fatalf("want user_requested, got %s", r)
	}
}

func TestClassifyCleanExitNoStopRequested(t *testing.T) {
	now := time.Now()
	r := Classify(Observation{
		ExitCode: 0,
		Now:      now,
	})
	if r != UserRequested {
		t.Fatalf("want user_requested, got %s", r)
	}
}

func TestClassifyDefaultCrashOrUnknown(t *testing.T) {
	now := time.Now()
	r := Classify(Observation{
		ExitCode: 1,
		Now:      now,
	})
	if r != CrashOrUnknown {
		t.Fatalf("want crash_or_unknown, got %s", r)
	}
}

func TestClassifyStopRequestTakesPriorityOverETX(t *testing.T) {
	now := time.Now()
	r := Classify(Observation{
		StopRequestedBy:     PeerAgentRequester,
		StopRequestedAt:     now.Add(-1 * time.Second),
		LastUserInterruptAt: now.Add(-1 * time.Second),
		ExitCode:            1,
		Now:                 now,
	})
	if r != ClaudeRequested {
		t.Fatalf("want claude_requested to take priority, got %s", r)
	}
}
