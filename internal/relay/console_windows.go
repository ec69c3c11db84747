//go:build windows

package relay

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const fallbackCols, fallbackRows = 120, 40

type spawnConfig struct {
	BinPath     string
	Args        []string
	Env         []string
	Cwd         string
	Cols, Rows  uint16
	OnInterrupt func() // unused on Windows: the console feeds the child directly
	OnStream    func(stream string, p []byte)
}

const createNewProcessGroup = 0x00000200

// spawnChild attaches the agent CLI directly to the current console window
// (no nested ConPTY: a nested pseudo-console causes an immediate child
// exit), in a new process group so console
// control events can be targeted at it without affecting the Relay itself.
func spawnChild(cfg spawnConfig) (*spawnedChild, error) {
	cmd := exec.Command(cfg.BinPath, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Cwd
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("relay: start console child: %w", err)
	}

	exitCh := make(chan int, 1)
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

	pid := cmd.Process.Pid

	return &spawnedChild{
		pid:   pid,
		stdin: &consoleInputWriter{},
		exit:  exitCh,
		interrupt: func() error {
			// Prefer a synthesized Ctrl-C key record; fall back to the
			// group-wide console control event.
			if err := writeCtrlCKeyEvent(); err == nil {
				return nil
			}
			return generateConsoleCtrlEvent(ctrlBreakEvent, uint32(pid))
		},
		kill: func() error {
			return cmd.Process.Kill()
		},
		close: func() error { return nil },
	}, nil
}

// consoleInputWriter injects keystrokes into the child's console input
// buffer as synthesized key-down/key-up records.
type consoleInputWriter struct{}

func (w *consoleInputWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if err := writeCharKeyEvent(rune(b)); err != nil {
			return 0, err
		}
	}
	if err := writeCharKeyEvent('\r'); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// inputRecord mirrors the fixed-size prefix of Win32's INPUT_RECORD for a
// KEY_EVENT (EventType=1): KeyDown (BOOL), RepeatCount (WORD), VirtualKeyCode
// (WORD), VirtualScanCode (WORD), UnicodeChar (WCHAR), ControlKeyState
// (DWORD), padded to the union's full size.
type inputRecord struct {
	eventType uint16
	_         uint16 // alignment padding
	keyDown   int32
	repeat    uint16
	vk        uint16
	scan      uint16
	char      uint16
	ctrlState uint32
}

const keyEvent = 1

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procWriteConsoleInputW  = kernel32.NewProc("WriteConsoleInputW")
	procGetStdHandle        = kernel32.NewProc("GetStdHandle")
	procGenerateCtrlEvent   = kernel32.NewProc("GenerateConsoleCtrlEvent")
)

const stdInputHandle = ^uintptr(10 - 1) // STD_INPUT_HANDLE = -10

const ctrlBreakEvent = 1

func stdInputHandleValue() (windows.Handle, error) {
	h, _, err := procGetStdHandle.Call(stdInputHandle)
	if h == 0 || h == uintptr(syscall.InvalidHandle) {
		return 0, fmt.Errorf("relay: GetStdHandle: %w", err)
	}
	return windows.Handle(h), nil
}

func writeConsoleInput(h windows.Handle, records []inputRecord) error {
	var written uint32
	n := uint32(len(records))
	ret, _, err := procWriteConsoleInputW.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(&records[0])),
		uintptr(n),
		uintptr(unsafe.Pointer(&written)),
	)
	if ret == 0 {
		return err
	}
	return nil
}

func writeCharKeyEvent(ch rune) error {
	h, err := stdInputHandleValue()
	if err != nil {
		return err
	}
	down := inputRecord{eventType: keyEvent, keyDown: 1, repeat: 1, char: uint16(ch)}
	up := inputRecord{eventType: keyEvent, keyDown: 0, repeat: 1, char: uint16(ch)}
	return writeConsoleInput(h, []inputRecord{down, up})
}

func writeCtrlCKeyEvent() error {
	h, err := stdInputHandleValue()
	if err != nil {
		return err
	}
	// VK_CANCEL (0x03) with ControlKeyState's LEFT_CTRL_PRESSED bit set is
	// the conventional way to synthesize Ctrl-C into a console input buffer.
	const vkCancel = 0x03
	const leftCtrlPressed = 0x0008
	down := inputRecord{eventType: keyEvent, keyDown: 1, repeat: 1, vk: vkCancel, ctrlState: leftCtrlPressed}
	up := inputRecord{eventType: keyEvent, keyDown: 0, repeat: 1, vk: vkCancel, ctrlState: leftCtrlPressed}
	return writeConsoleInput(h, []inputRecord{down, up})
}

func generateConsoleCtrlEvent(event, pid uint32) error {
	ret, _, err := procGenerateCtrlEvent.Call(uintptr(event), uintptr(pid))
	if ret == 0 {
		return err
	}
	return nil
}
