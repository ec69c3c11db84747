//go:build !windows

package relay

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"

	"github.com/cc-spec/agentsup/internal/logger"
)

// dsrRequest is the ANSI Device Status Report cursor-position query
// (ESC [ 6 n). Some agent TUIs blind-query the cursor and stall forever on
// terminals that never answer, so the Relay answers on the agent's
// behalf.
var (
	dsrRequest = []byte("\x1b[6n")
	dsrReply   = []byte("\x1b[1;1R")
)

const fallbackCols, fallbackRows = 120, 40

type spawnConfig struct {
	BinPath     string
	Args        []string
	Env         []string
	Cwd         string
	Cols, Rows  uint16
	OnInterrupt func() // invoked when 0x03 (ETX) is seen on stdin
	OnStream    func(stream string, p []byte)
}

// spawnChild creates a PTY pair, sized to the caller's terminal (falling
// back to 120x40), and execs the agent CLI as a child of a fresh process
// group so Kill/Interrupt can target the whole group.
func spawnChild(cfg spawnConfig) (*spawnedChild, error) {
	cols, rows := cfg.Cols, cfg.Rows
	if cols == 0 || rows == 0 {
		cols, rows = fallbackCols, fallbackRows
	}

	cmd := exec.Command(cfg.BinPath, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("relay: start pty: %w", err)
	}

	exitCh := make(chan int, 1)

	go copyStdinToPTY(ptmx, cfg.OnInterrupt)
	go readPTYOutput(ptmx, cfg.OnStream)
	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
			} else {
				code = -1
			}
		}
		exitCh <- code
	}()

	pgid := cmd.Process.Pid
	return &spawnedChild{
		pid:   cmd.Process.Pid,
		stdin: ptmx,
		exit:  exitCh,
		interrupt: func() error {
			return syscall.Kill(-pgid, syscall.SIGINT)
		},
		kill: func() error {
			return syscall.Kill(-pgid, syscall.SIGKILL)
		},
		close: func() error {
			return ptmx.Close()
		},
	}, nil
}

// copyStdinToPTY bridges the Relay's own stdin to the child's PTY,
// recording ETX (Ctrl-C, 0x03) sightings for exit classification.
func copyStdinToPTY(ptmx *os.File, onInterrupt func()) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if bytes.IndexByte(buf[:n], 0x03) >= 0 && onInterrupt != nil {
				onInterrupt()
			}
			if _, werr := ptmx.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// readPTYOutput copies child output to stdout, intercepts DSR cursor
// queries, and forwards chunks to onStream for publication on the bus.
func readPTYOutput(ptmx *os.File, onStream func(string, []byte)) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if bytes.Contains(chunk, dsrRequest) {
				if _, werr := ptmx.Write(dsrReply); werr != nil {
					logger.Log.Warn("relay: failed to answer DSR query", "error", werr)
				}
			}

			os.Stdout.Write(chunk)
			if onStream != nil {
				onStream("stdout", chunk)
			}
		}
		if err != nil {
			return
		}
	}
}
