package relay

// control is the parsed form of a codex.control payload consumed from the
// bus. action is one of send_input|pause|kill|retry|restart.
type control struct {
	action      string
	text        string
	requestID   string
	requestedBy string
}

const (
	actionSendInput = "send_input"
	actionPause     = "pause"
	actionKill      = "kill"
	actionRetry     = "retry"
	actionRestart   = "restart"
)

// childExited is delivered by the child-wait goroutine when the attached
// process terminates. generation pins it to the spawn it came from so a
// stale message from a since-replaced child is ignored.
type childExited struct {
	generation int
	exitCode   int
	spawnErr   error // non-nil => spawn_failed, not a real child exit
}
