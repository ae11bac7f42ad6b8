//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the decoder in a new process group for group signaling.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
