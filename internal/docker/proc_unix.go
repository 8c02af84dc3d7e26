//go:build unix

package docker

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(child *exec.Cmd) {
	child.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the child's whole process group so
// shells and the processes they spawned die together.
func killProcessGroup(child *exec.Cmd) error {
	if child.Process == nil {
		return nil
	}
	if err := syscall.Kill(-child.Process.Pid, syscall.SIGKILL); err != nil {
		return child.Process.Kill()
	}
	return nil
}
