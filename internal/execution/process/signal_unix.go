//go:build unix

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// requestStop asks the process to terminate gracefully. Signalling an
// exited process fails with os.ErrProcessDone.
func requestStop(process *os.Process) error {
	return process.Signal(unix.SIGTERM)
}
