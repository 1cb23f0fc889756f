//go:build !windows

package daemon

import "syscall"

// sysProcAttr places the child in its own process group so signals reach
// the dashboard and everything it forks.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree sends SIGTERM to the child's process group.
func terminateTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killTree sends SIGKILL to the child's process group.
func killTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
