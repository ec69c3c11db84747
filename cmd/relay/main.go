// Command relay is the Subprocess Relay: one process per session, spawned
// by supervisord, bridging a terminal, one agent CLI child and the
// ingress SSE bus.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cc-spec/agentsup/internal/logger"
	"github.com/cc-spec/agentsup/internal/relay"
)

func main() {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Agent Supervisor Core subprocess relay",
		RunE:  run,
	}

	root.Flags().String("ingress-url", "", "ingress base URL, e.g. http://127.0.0.1:4173")
	root.Flags().String("project-root", "", "project root directory")
	root.Flags().String("session-id", "", "session id this relay owns")
	root.Flags().String("agent", "agentc", "agent profile: agentc or agentx")
	root.Flags().String("agent-bin", "", "agent CLI binary path (default: resolved from agent profile)")
	root.Flags().String("notifier-bin", "", "path to the sibling notifier binary")
	root.MarkFlagRequired("ingress-url")
	root.MarkFlagRequired("project-root")
	root.MarkFlagRequired("session-id")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := logger.Init("info", ""); err != nil {
		return err
	}

	ingressURL, _ := cmd.Flags().GetString("ingress-url")
	projectRoot, _ := cmd.Flags().GetString("project-root")
	sessionID, _ := cmd.Flags().GetString("session-id")
	agentName, _ := cmd.Flags().GetString("agent")
	agentBin, _ := cmd.Flags().GetString("agent-bin")
	notifierBin, _ := cmd.Flags().GetString("notifier-bin")

	if agentBin == "" || agentBin == "auto" {
		resolved, err := exec.LookPath(agentName)
		if err != nil {
			return fmt.Errorf("relay: no agent-bin given and %q not on PATH: %w", agentName, err)
		}
		agentBin = resolved
	}

	cols, rows := termSize()

	r := relay.New(relay.Config{
		IngressURL:   ingressURL,
		ProjectRoot:  projectRoot,
		SessionID:    sessionID,
		AgentName:    agentName,
		AgentBinPath: agentBin,
		NotifierPath: notifierBin,
		Cols:         cols,
		Rows:         rows,
	})

	return r.Run()
}

// termSize reads the Relay's own controlling terminal size, falling back
// to the PTY spawn's built-in default when stdout isn't a terminal
// (e.g. when launched detached).
func termSize() (uint16, uint16) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0
	}
	return uint16(w), uint16(h)
}
