//go:build !unix

package docker

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(child *exec.Cmd) error {
	if child.Process == nil {
		return nil
	}
	return child.Process.Kill()
}
