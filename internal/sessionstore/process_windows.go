//go:build windows

package sessionstore

import (
	"syscall"

	"golang.org/x/sys/windows"
)

var kernel32ProcGenerateConsoleCtrlEvent = syscall.NewLazyDLL("kernel32.dll").NewProc("GenerateConsoleCtrlEvent")

// ProcessAlive reports whether the OS still knows about pid, by attempting
// to open a handle to it and checking its exit code.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == 259 // STILL_ACTIVE
}

// SoftStop asks pid to exit via CTRL_BREAK_EVENT, the nearest Windows
// analogue to a POSIX SIGTERM for a console process.
func SoftStop(pid int) error {
	return generateConsoleCtrlEvent(1, uint32(pid)) // CTRL_BREAK_EVENT
}

// HardKill unconditionally terminates pid.
func HardKill(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}

func generateConsoleCtrlEvent(event, pid uint32) error {
	proc := kernel32ProcGenerateConsoleCtrlEvent
	ret, _, err := proc.Call(uintptr(event), uintptr(pid))
	if ret == 0 {
		return err
	}
	return nil
}
