//go:build windows

package spawn

import "syscall"

const createNoWindow = 0x08000000

// sysProcAttr suppresses the console window that would otherwise flash up
// when the host runs under the windows GUI subsystem.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}
