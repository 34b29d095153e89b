package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/lambda-feedback/jobproc/internal/execution/process"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Process is the part of *process.Process the dispatcher relies on.
type Process interface {
	Run(context.Context) error
	SoftKill(time.Duration) (bool, error)
	HardKill() error
	IsRunning() bool
}

var _ Process = (*process.Process)(nil)

type ProcessFactory func(process.Params) Process

type Dispatcher interface {
	// Run runs a single job in a free slot and blocks until it completed
	Run(context.Context, Job) Result

	// Dispatch runs all jobs, at most MaxProcs at a time, and returns
	// their results in the order of jobs
	Dispatch(context.Context, []Job) []Result

	// Shutdown stops all running jobs and waits for them to finish
	Shutdown(context.Context) error
}

type Job struct {
	// Name identifies the job in logs and results
	Name string

	// Start describes the command to launch
	Start process.StartConfig

	// KillTimeout overrides the configured soft kill timeout
	KillTimeout time.Duration
}

type Result struct {
	Job Job

	// Err is the error returned by the run, nil on success
	Err error

	// Duration is the wall time of the run
	Duration time.Duration
}

func defaultProcessFactory(params process.Params) Process {
	return process.New(params)
}
