package process

import (
	"time"

	"github.com/lambda-feedback/jobproc/internal/execution/history"
)

const (
	// UnknownPid is reported when the process identifier is not available.
	UnknownPid = -1

	// UnknownExitStatus is reported when the process did not exit with a
	// status code, e.g. because it was terminated by a signal.
	UnknownExitStatus = -1

	// DefaultDrainTimeout is how long each output stream may take to flush
	// after the process exited.
	DefaultDrainTimeout = 5 * time.Second

	// DefaultKillTimeout is how long a soft kill waits for the process.
	DefaultKillTimeout = 10 * time.Second

	// DefaultHistoryLines is the number of recent lines kept per stream.
	DefaultHistoryLines = history.DefaultCapacity
)

type StartConfig struct {
	// Command is the executable followed by its arguments
	Command []string `conf:"command"`

	// Cwd is the working directory in which the command is
	// executed. It must exist. Empty means the current directory.
	Cwd string `conf:"cwd"`

	// Env is merged into the inherited environment of the process
	Env map[string]string `conf:"env"`
}

type Config struct {
	// DrainTimeout is the grace period each output stream gets to
	// flush buffered lines after the process exited
	DrainTimeout time.Duration `conf:"drain_timeout"`

	// HistoryLines is the number of recent lines retained per stream
	HistoryLines int `conf:"history_lines"`

	// KillTimeout is the duration to wait for the process to honour
	// a soft kill before it is killed forcefully
	KillTimeout time.Duration `conf:"kill_timeout"`
}

// DefaultConfig returns the config used for unset fields.
func DefaultConfig() Config {
	return Config{
		DrainTimeout: DefaultDrainTimeout,
		HistoryLines: DefaultHistoryLines,
		KillTimeout:  DefaultKillTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}

	if c.HistoryLines <= 0 {
		c.HistoryLines = def.HistoryLines
	}

	if c.KillTimeout <= 0 {
		c.KillTimeout = def.KillTimeout
	}

	return c
}

type ExitEvent struct {
	// Code is the exit code of the process
	Code *int

	// Signal is the signal that caused the process to exit
	Signal *int
}

// Status returns the exit code, or UnknownExitStatus if there is none.
func (e ExitEvent) Status() int {
	if e.Code == nil {
		return UnknownExitStatus
	}

	return *e.Code
}
