//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalGroup delivers sig to the whole process group led by pid so helper
// processes spawned by the decoder go down with it.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			// not a group leader (e.g. adopted orphan); fall back to the pid itself
			return syscall.Kill(pid, sig)
		}
		return err
	}
	return nil
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
