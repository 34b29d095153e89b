// Package runner wires process supervision into the fx application
// lifecycle: jobs start with the application and ask it to shut down once
// they completed.
package runner

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
	"github.com/lambda-feedback/jobproc/internal/execution/process"
	"github.com/lambda-feedback/jobproc/internal/shell"
	"github.com/lambda-feedback/jobproc/util/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// LaunchFailedExitCode is the exit code used when the command could not
// be launched, following the convention of shells.
const LaunchFailedExitCode = 127

type Params struct {
	fx.In

	// Context is the application context, cancelled after shutdown
	Context context.Context

	Start      process.StartConfig
	Config     process.Config
	Shutdowner fx.Shutdowner
	Log        *zap.Logger
}

// Runner runs a single process for the lifetime of the application.
type Runner struct {
	ctx        context.Context
	process    *process.Process
	config     process.Config
	shutdowner fx.Shutdowner

	done chan struct{}
	err  error

	log *zap.Logger
}

func New(params Params) *Runner {
	if params.Config.KillTimeout <= 0 {
		params.Config.KillTimeout = process.DefaultKillTimeout
	}

	return &Runner{
		ctx: params.Context,
		process: process.New(process.Params{
			Start:  params.Start,
			Config: params.Config,
			Log:    params.Log,
		}),
		config:     params.Config,
		shutdowner: params.Shutdowner,
		done:       make(chan struct{}),
		log:        params.Log,
	}
}

// Module runs the process described by start.
func Module(start process.StartConfig) fx.Option {
	return fx.Module(
		"runner",

		logging.DecorateLogger("runner", zap.Strings("command", start.Command)),

		// provide the command to run
		fx.Supply(start),

		// provide the runner, it decides the exit code
		fx.Provide(
			New,
			shell.AsExitCoder(func(r *Runner) *Runner { return r }),
		),

		// bind the runner to the app lifecycle
		fx.Invoke(func(lc fx.Lifecycle, r *Runner) {
			lc.Append(fx.Hook{
				OnStart: r.Start,
				OnStop:  r.Stop,
			})
		}),
	)
}

// Start launches the process in the background and returns once it has
// started. A failed launch is not a start error: the run already asked the
// application to shut down with LaunchFailedExitCode.
func (r *Runner) Start(ctx context.Context) error {
	go r.run()

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// a failed launch never fires the start latch
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-startCtx.Done():
		}
	}()

	if err := r.process.AwaitStart(startCtx); err != nil {
		select {
		case <-r.done:
			return nil
		default:
			return err
		}
	}

	pid, _ := r.process.Pid()
	r.log.Info("process started", zap.Int("pid", pid))

	return nil
}

func (r *Runner) run() {
	defer close(r.done)

	r.err = r.process.Run(r.ctx)

	report(r.err, r.log)

	if err := r.shutdowner.Shutdown(fx.ExitCode(ExitCode(r.err))); err != nil {
		r.log.Error("failed to request shutdown", zap.Error(err))
	}
}

// Stop soft kills the process if it is still running, hard kills it if it
// does not exit within the kill timeout, and waits for the run to return.
func (r *Runner) Stop(ctx context.Context) error {
	if r.process.IsRunning() {
		killed, err := r.process.SoftKill(r.config.KillTimeout)
		if err != nil {
			r.log.Error("failed to stop process", zap.Error(err))
		}

		if !killed {
			r.log.Warn("process did not stop in time, killing it",
				zap.Duration("timeout", r.config.KillTimeout),
			)

			if err := r.process.HardKill(); err != nil {
				r.log.Error("failed to kill process", zap.Error(err))
			}
		}
	}

	// the run never started if the launch failed
	if !r.process.IsStarted() {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the exit code for the result of the run, or 0 if the
// run has not returned yet.
func (r *Runner) ExitCode() int {
	select {
	case <-r.done:
		return ExitCode(r.err)
	default:
		return 0
	}
}

// Err returns the result of the run. It must only be called after Done
// has been closed.
func (r *Runner) Err() error {
	return r.err
}

// Done returns a channel that is closed once the run returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Process returns the supervised process.
func (r *Runner) Process() *process.Process {
	return r.process
}

// ExitCode maps the result of a run to the exit code of jobproc.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *process.AbnormalExitError
	if errors.As(err, &exitErr) {
		if exitErr.Signal != nil {
			return 128 + *exitErr.Signal
		}
		if exitErr.Status > 0 {
			return exitErr.Status
		}
		return 1
	}

	if process.IsLaunchError(err) {
		return LaunchFailedExitCode
	}

	return 1
}

// MARK: - Helpers

// report sends actionable failures to sentry.
func report(err error, log *zap.Logger) {
	if err == nil {
		return
	}

	log.Error("process failed", zap.Error(err))

	if process.IsAbnormalExit(err) || process.IsLaunchError(err) {
		sentry.CaptureException(err)
	}
}
