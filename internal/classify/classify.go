// Package classify implements the exit-cause classification table shared
// by the Relay (which classifies with full knowledge of its own control
// history) and the Supervisor (which classifies at lower confidence when
// only a raw exit_code is available).
package classify

import "time"

// Reason is one of the taxonomy values carried on session.exited events.
type Reason string

const (
	ClaudeRequested Reason = "claude_requested"
	ToolRequested   Reason = "tool_requested"
	UserRequested   Reason = "user_requested"
	CrashOrUnknown  Reason = "crash_or_unknown"
)

// PeerAgentRequester is the requested_by value identifying the peer agent
// (as opposed to the GUI tool or a human).
const PeerAgentRequester = "peer_agent"

// stopWindow and interruptWindow are the lookback windows the
// classification table applies before an observed exit.
const (
	stopWindow      = 5 * time.Second
	interruptWindow = 2 * time.Second
)

// Observation carries everything the classification table needs.
type Observation struct {
	// StopRequestedBy/At describe the most recent stop-type control (the
	// Relay records pause, kill, retry and restart) received for this
	// session, if any.
	StopRequestedBy string
	StopRequestedAt time.Time

	// LastUserInterruptAt is the timestamp of the most recent ETX (0x03)
	// byte seen on the child's stdin, if any.
	LastUserInterruptAt time.Time

	ExitCode int
	Now      time.Time
}

// Classify applies the classification table in priority order.
func Classify(obs Observation) Reason {
	now := obs.Now
	if now.IsZero() {
		now = time.Now()
	}

	if !obs.StopRequestedAt.IsZero() && now.Sub(obs.StopRequestedAt) <= stopWindow {
		if obs.StopRequestedBy == PeerAgentRequester {
			return ClaudeRequested
		}
		return ToolRequested
	}

	if !obs.LastUserInterruptAt.IsZero() && now.Sub(obs.LastUserInterruptAt) <= interruptWindow {
		return UserRequested
	}

	if obs.StopRequestedAt.IsZero() && obs.ExitCode == 0 {
		return UserRequested
	}

	return CrashOrUnknown
}
