//go:build !windows

package spawn

import "syscall"

// sysProcAttr isolates the child into its own process group so terminal
// signals aimed at the parent do not reach it; termination is always driven
// through the handle.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
