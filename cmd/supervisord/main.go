// Command supervisord is the Agent Supervisor Core daemon: it wires the
// event bus, admission controller, session store, ingress HTTP endpoint,
// supervisor and Command Surface together and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cc-spec/agentsup/internal/admission"
	"github.com/cc-spec/agentsup/internal/bus"
	"github.com/cc-spec/agentsup/internal/config"
	"github.com/cc-spec/agentsup/internal/external"
	"github.com/cc-spec/agentsup/internal/ingress"
	"github.com/cc-spec/agentsup/internal/logger"
	"github.com/cc-spec/agentsup/internal/rpc"
	"github.com/cc-spec/agentsup/internal/sessionstore"
	"github.com/cc-spec/agentsup/internal/supervisor"
)

func main() {
	root := &cobra.Command{
		Use:   "supervisord",
		Short: "Agent Supervisor Core daemon",
		RunE:  run,
	}

	root.Flags().String("log-level", "info", "debug|info|warn|error")
	root.Flags().String("log-file", "", "additionally append logs to this file")
	root.Flags().String("socket", "", "Command Surface unix socket path (default ~/.agentsup/supervisord.sock)")
	root.Flags().String("relay-bin", "", "path to the relay binary (default: alongside this executable)")
	root.Flags().String("notifier-bin", "", "path to the notifier binary (default: alongside this executable)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	socketFlag, _ := cmd.Flags().GetString("socket")
	relayBinFlag, _ := cmd.Flags().GetString("relay-bin")
	notifierBinFlag, _ := cmd.Flags().GetString("notifier-bin")

	if err := logger.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("supervisord: init logger: %w", err)
	}

	settingsPath, err := config.SettingsPath()
	if err != nil {
		return fmt.Errorf("supervisord: settings path: %w", err)
	}
	cfgMgr, err := config.NewManager(settingsPath)
	if err != nil {
		return fmt.Errorf("supervisord: load settings: %w", err)
	}
	defer cfgMgr.Close()

	settings := cfgMgr.Get()
	admissionCtrl := admission.New(settings.LimitC, settings.LimitX, settings.GlobalCap)
	cfgMgr.OnLimitsChanged(func(limitC, limitX, globalCap int) {
		admissionCtrl.SetLimits(limitC, limitX, globalCap)
	})
	if err := cfgMgr.Watch(); err != nil {
		logger.Log.Warn("supervisord: settings watch failed, continuing without hot-reload", "error", err)
	}

	eventBus := bus.New()
	store := sessionstore.New()
	sup := supervisor.New(store, eventBus)

	ingressSrv := ingress.New(eventBus, sup)
	actualPort, err := ingressSrv.Listen(settings.Port)
	if err != nil {
		return fmt.Errorf("supervisord: ingress listen: %w", err)
	}
	ingressURL := fmt.Sprintf("http://127.0.0.1:%d", actualPort)
	logger.Log.Info("supervisord: ingress listening", "url", ingressURL)

	relayBin, err := resolveSiblingBinary(relayBinFlag, "relay")
	if err != nil {
		return fmt.Errorf("supervisord: resolve relay binary: %w", err)
	}
	notifierBin, err := resolveSiblingBinary(notifierBinFlag, "notifier")
	if err != nil {
		logger.Log.Warn("supervisord: notifier binary not found, turn-complete notifications will be skipped", "error", err)
		notifierBin = ""
	}

	socketPath := socketFlag
	if socketPath == "" {
		dir, err := config.UserConfigDir()
		if err != nil {
			return fmt.Errorf("supervisord: user config dir: %w", err)
		}
		socketPath = filepath.Join(dir, "supervisord.sock")
	}

	rpcSrv := &rpc.Server{
		Admission:  admissionCtrl,
		Settings:   cfgMgr,
		Projects:   external.NewInMemoryProjectRegistry(),
		Store:      store,
		Supervisor: sup,
		IngressURL: ingressURL,
		LaunchRelay: func(spawn rpc.RelaySpawnConfig) error {
			if spawn.AgentBinPath == "" {
				spawn.AgentBinPath = cfgMgr.Get().AgentBinaryPath
			}
			return launchRelay(relayBin, notifierBin, ingressURL, spawn)
		},
		LaunchPeerTerminal: func(projectRoot, sessionID string) error {
			return launchPeerTerminal(cfgMgr.Get().PeerBinaryPath, ingressURL, projectRoot, sessionID)
		},
	}
	if err := rpcSrv.ListenUnix(socketPath); err != nil {
		return fmt.Errorf("supervisord: rpc listen: %w", err)
	}
	logger.Log.Info("supervisord: command surface listening", "socket", socketPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- ingressSrv.Serve() }()
	go func() { errCh <- rpcSrv.Serve() }()

	select {
	case <-ctx.Done():
		logger.Log.Info("supervisord: shutting down")
		ingressSrv.Close()
		rpcSrv.Close()
		return nil
	case err := <-errCh:
		ingressSrv.Close()
		rpcSrv.Close()
		return err
	}
}

// resolveSiblingBinary finds a companion binary, preferring an explicit
// flag, then a file next to the running executable, then $PATH.
func resolveSiblingBinary(flagValue, name string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), binaryName(name))
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return exec.LookPath(binaryName(name))
}

func binaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// launchPeerTerminal opens a new OS terminal window running the peer
// agent binary with PROJECT_ROOT/INGRESS_URL/SESSION_ID in its
// environment. The exact terminal emulator invoked is
// platform-conventional and not configurable beyond peerBinPath; callers
// that need a specific emulator should wrap this binary accordingly.
func launchPeerTerminal(peerBinPath, ingressURL, projectRoot, sessionID string) error {
	if peerBinPath == "" || peerBinPath == "auto" {
		resolved, err := exec.LookPath("peer-agent")
		if err != nil {
			return fmt.Errorf("supervisord: no peer_binary_path configured and peer-agent not on PATH: %w", err)
		}
		peerBinPath = resolved
	}

	env := append(os.Environ(),
		"PROJECT_ROOT="+projectRoot,
		"INGRESS_URL="+ingressURL,
		"SESSION_ID="+sessionID,
	)

	var c *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", "-a", "Terminal", peerBinPath)
	case "windows":
		c = exec.Command("cmd", "/C", "start", "", peerBinPath)
	default:
		c = exec.Command("x-terminal-emulator", "-e", peerBinPath)
	}
	c.Env = env
	c.Dir = projectRoot
	return c.Start()
}

func launchRelay(relayBin, notifierBin, ingressURL string, spawn rpc.RelaySpawnConfig) error {
	args := []string{
		"--ingress-url", ingressURL,
		"--project-root", spawn.ProjectRoot,
		"--session-id", spawn.SessionID,
		"--agent", spawn.AgentName,
	}
	if notifierBin != "" {
		args = append(args, "--notifier-bin", notifierBin)
	}
	if spawn.AgentBinPath != "" && spawn.AgentBinPath != "auto" {
		args = append(args, "--agent-bin", spawn.AgentBinPath)
	}
	c := exec.Command(relayBin, args...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	c.Dir = spawn.ProjectRoot
	return c.Start()
}
