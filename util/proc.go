package util

import (
	"os"
	"syscall"
)

// IsProcessAlive reports whether a process with the given pid exists and
// can be signalled. Exited processes that have not been reaped yet still
// count as alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// signal 0 performs the existence and permission checks only
	return process.Signal(syscall.Signal(0)) == nil
}
