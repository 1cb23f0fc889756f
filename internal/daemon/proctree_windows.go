//go:build windows

package daemon

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate = 0x0001
	processQueryInfo = 0x0400
)

// sysProcAttr puts the child in its own console process group.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminateTree has no graceful signal on Windows; it terminates the
// process directly, same as killTree.
func terminateTree(pid int) error { return terminate(pid) }

func killTree(pid int) error { return terminate(pid) }

func terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	h, err := openProcess(processTerminate, pid)
	if err != nil {
		// process already gone
		return nil
	}
	defer closeHandle(h)
	ret, _, callErr := procTerminateProcess.Call(uintptr(h), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func processAlive(pid int) bool {
	h, err := openProcess(processQueryInfo, pid)
	if err != nil {
		return false
	}
	closeHandle(h)
	return true
}

func openProcess(access uint32, pid int) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(uint32(pid)))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(h syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(h))
}
