//go:build !unix

package process

import "os"

// requestStop asks the process to terminate gracefully. Platforms without
// signals may refuse the request, which is reported to the caller.
func requestStop(process *os.Process) error {
	return process.Signal(os.Interrupt)
}
