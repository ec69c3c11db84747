package relay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cc-spec/agentsup/internal/config"
	"github.com/cc-spec/agentsup/internal/logger"
)

// stageNotifierBinary copies notifierPath into a per-session runtime
// directory and returns the copy's path, so a build system can overwrite
// the original notifier binary while this Relay (and the agent CLI it
// keeps invoking the notifier from) keeps running against a stable file —
// a Windows hot-reload hazard. Only the Relay writes into this directory.
//
// On non-Windows platforms the original path is returned unchanged: the
// OS there lets a running binary's backing file be replaced or unlinked
// without disturbing processes already executing it.
func stageNotifierBinary(projectRoot, sessionID, notifierPath string) (string, error) {
	if notifierPath == "" || runtime.GOOS != "windows" {
		return notifierPath, nil
	}

	dir := filepath.Join(config.RuntimeDir(projectRoot), "bin", sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("relay: stage notifier: mkdir: %w", err)
	}

	dest := filepath.Join(dir, filepath.Base(notifierPath))
	if err := copyFile(notifierPath, dest); err != nil {
		return "", fmt.Errorf("relay: stage notifier: copy: %w", err)
	}
	logger.Log.Debug("relay: staged notifier binary", "session_id", sessionID, "staged_path", dest)
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
