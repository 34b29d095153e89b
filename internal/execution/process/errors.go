package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWaitInterrupted = errors.New("wait interrupted")
	ErrEmptyCommand    = errors.New("empty command")
)

// UsageError is returned when a caller violates a precondition, like
// running a process twice or asking for its pid before it started.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func newUsageError(op, reason string) *UsageError {
	return &UsageError{Op: op, Reason: reason}
}

// LaunchError is returned when the operating system refused to create
// the process.
type LaunchError struct {
	Command []string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// AbnormalExitError is returned when the process exited with a non-zero
// status. RecentErrors holds the last lines the process wrote to stderr.
type AbnormalExitError struct {
	Status       int
	Signal       *int
	RecentErrors string
}

func (e *AbnormalExitError) Error() string {
	var msg string
	if e.Signal != nil {
		msg = fmt.Sprintf("process terminated by signal %d", *e.Signal)
	} else {
		msg = fmt.Sprintf("process exited with status %d", e.Status)
	}

	if e.RecentErrors == "" {
		return msg
	}

	return fmt.Sprintf("%s, recent errors:\n%s", msg, e.RecentErrors)
}

func IsUsageError(err error) bool {
	var usageErr *UsageError
	return errors.As(err, &usageErr)
}

func IsLaunchError(err error) bool {
	var launchErr *LaunchError
	return errors.As(err, &launchErr)
}

func IsAbnormalExit(err error) bool {
	var exitErr *AbnormalExitError
	return errors.As(err, &exitErr)
}
