//go:build windows

package service

import "os/exec"

func setProcAttr(*exec.Cmd) {}

// Windows has no SIGTERM for console-less children.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func isNoSuchProcess(error) bool {
	return false
}
