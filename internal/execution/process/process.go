// Package process supervises a single child process: it launches it,
// drains its output into a logging sink and offers start/completion
// synchronisation as well as soft and hard kills.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lambda-feedback/jobproc/internal/execution/drainer"
	"github.com/lambda-feedback/jobproc/internal/execution/latch"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink receives one record per output line of the process.
type Sink = drainer.Sink

type Params struct {
	// Start describes the command to launch
	Start StartConfig

	// Config tunes draining and killing
	Config Config

	// Sink receives the output lines. Defaults to Log.
	Sink Sink

	// Log is the logger for diagnostics
	Log *zap.Logger
}

// Process supervises one child process. A Process is single-use: once Run
// has been called, calling it again is a usage error.
type Process struct {
	command []string
	cwd     string
	env     map[string]string
	config  Config

	sink Sink
	log  *zap.Logger

	used      atomic.Bool
	started   *latch.Latch
	completed *latch.Latch

	// written once before started fires
	cmd    *exec.Cmd
	pid    int
	stdout *drainer.Drainer
	stderr *drainer.Drainer

	// written once before completed fires
	exit ExitEvent
}

func New(params Params) *Process {
	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}

	// child output is not a jobproc failure, stderr lines get no stacktrace
	var sink Sink = log.WithOptions(
		zap.AddStacktrace(zapcore.FatalLevel),
		zap.WithCaller(false),
	)
	if params.Sink != nil {
		sink = params.Sink
	}

	command := make([]string, len(params.Start.Command))
	copy(command, params.Start.Command)

	env := make(map[string]string, len(params.Start.Env))
	for k, v := range params.Start.Env {
		env[k] = v
	}

	return &Process{
		command:   command,
		cwd:       params.Start.Cwd,
		env:       env,
		config:    params.Config.withDefaults(),
		sink:      sink,
		log:       log.Named("process"),
		pid:       UnknownPid,
		started:   latch.New(),
		completed: latch.New(),
	}
}

// Run launches the process and blocks until it has exited and its output
// has been drained. A non-zero exit status is reported as an
// *AbnormalExitError. If ctx is cancelled while waiting, the process is
// killed and Run returns once it has exited.
func (p *Process) Run(ctx context.Context) error {
	// a failed launch fires no latch, so only the flag tells a used process
	if !p.used.CompareAndSwap(false, true) {
		return newUsageError("run", "already used")
	}

	p.log.With(
		zap.Strings("command", p.command),
		zap.String("cwd", p.cwd),
		zap.Any("env", p.env),
	).Debug("starting process")

	cmd, stdout, stderr, err := p.launch()
	if err != nil {
		return &LaunchError{Command: p.command, Err: err}
	}

	p.cmd = cmd
	p.pid = pidOf(cmd)
	p.stdout = drainer.New(stdout, p.sink, drainer.Config{
		Name:         "stdout",
		Level:        zapcore.InfoLevel,
		HistoryLines: p.config.HistoryLines,
	})
	p.stderr = drainer.New(stderr, p.sink, drainer.Config{
		Name:         "stderr",
		Level:        zapcore.ErrorLevel,
		HistoryLines: p.config.HistoryLines,
	})

	p.started.Fire()

	if p.pid == UnknownPid {
		p.log.Debug("spawned process with unknown process id")
	} else {
		p.log.Debug("spawned process", zap.Int("pid", p.pid))
	}

	// drain both pipes right away, a full pipe would stall the child
	p.stdout.Start()
	p.stderr.Start()

	p.exit = getExitEvent(p.wait(ctx))
	p.completed.Fire()

	// give the drainers a chance to log everything before returning,
	// drainers that are still busy are abandoned and asked to stop
	for _, d := range []*drainer.Drainer{p.stdout, p.stderr} {
		if !d.AwaitCompletion(p.config.DrainTimeout) {
			d.Stop()
		}
	}

	if status := p.exit.Status(); status != 0 {
		return &AbnormalExitError{
			Status:       status,
			Signal:       p.exit.Signal,
			RecentErrors: p.stderr.RecentHistory(),
		}
	}

	return nil
}

// AwaitStart blocks until the process has started. On ctx cancellation an
// error matching ErrWaitInterrupted is returned.
func (p *Process) AwaitStart(ctx context.Context) error {
	if err := p.started.Wait(ctx); err != nil {
		return fmt.Errorf("await start: %w: %w", ErrWaitInterrupted, err)
	}

	return nil
}

// AwaitCompletion blocks until the process has exited. On ctx cancellation
// an error matching ErrWaitInterrupted is returned.
func (p *Process) AwaitCompletion(ctx context.Context) error {
	if err := p.completed.Wait(ctx); err != nil {
		return fmt.Errorf("await completion: %w: %w", ErrWaitInterrupted, err)
	}

	return nil
}

// Pid returns the native process identifier, or UnknownPid if it could
// not be determined.
func (p *Process) Pid() (int, error) {
	if !p.IsStarted() {
		return UnknownPid, newUsageError("pid", "not started")
	}

	return p.pid, nil
}

// SoftKill asks the process to stop and waits up to timeout for it to
// exit. It reports whether the process exited in time. Failing to deliver
// the request is logged and reported as false.
func (p *Process) SoftKill(timeout time.Duration) (bool, error) {
	if !p.IsStarted() {
		return false, newUsageError("soft kill", "not started")
	}

	if !p.IsRunning() || p.pid == UnknownPid {
		return false, nil
	}

	log := p.log.With(zap.Int("pid", p.pid))
	log.Info("requesting process to stop")

	// the process may exit after the check above, the handle then
	// refuses to signal a recycled pid
	if err := requestStop(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Error("kill attempt failed", zap.Error(err))
		return false, nil
	}

	return p.completed.WaitFor(timeout), nil
}

// HardKill kills the process without further ado. It is a no-op if the
// process has already exited.
func (p *Process) HardKill() error {
	if !p.IsStarted() {
		return newUsageError("hard kill", "not started")
	}

	if !p.IsRunning() {
		return nil
	}

	p.log.Info("killing process", zap.Int("pid", p.pid))

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}

	return nil
}

// ExitEvent returns how the process exited.
func (p *Process) ExitEvent() (ExitEvent, error) {
	if !p.IsComplete() {
		return ExitEvent{}, newUsageError("exit event", "not complete")
	}

	return p.exit, nil
}

// Stdout returns the drainer of the standard output stream, or nil if the
// process has not started.
func (p *Process) Stdout() *drainer.Drainer {
	if !p.IsStarted() {
		return nil
	}

	return p.stdout
}

// Stderr returns the drainer of the standard error stream, or nil if the
// process has not started.
func (p *Process) Stderr() *drainer.Drainer {
	if !p.IsStarted() {
		return nil
	}

	return p.stderr
}

func (p *Process) IsStarted() bool {
	return p.started.IsFired()
}

func (p *Process) IsComplete() bool {
	return p.completed.IsFired()
}

func (p *Process) IsRunning() bool {
	return p.IsStarted() && !p.IsComplete()
}

func (p *Process) String() string {
	return fmt.Sprintf("Process(cmd = %s, env = %v, cwd = %s)",
		strings.Join(p.command, " "), p.env, p.cwd)
}

// launch starts the command with its output connected to fresh pipes.
// The read ends are returned to be owned by the drainers. The pipes are
// not created with cmd.StdoutPipe, as cmd.Wait would close them while
// the drainers may still be reading.
func (p *Process) launch() (*exec.Cmd, *os.File, *os.File, error) {
	if len(p.command) == 0 {
		return nil, nil, nil, ErrEmptyCommand
	}

	cmd := exec.Command(p.command[0], p.command[1:]...)
	cmd.Dir = p.cwd
	cmd.Env = mergeEnv(os.Environ(), p.env)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, err
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, nil, err
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()

	// the child holds its own copies of the write ends
	stdoutW.Close()
	stderrW.Close()

	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, nil, nil, err
	}

	return cmd, stdoutR, stderrR, nil
}

// wait blocks until the process exited. Cancelling ctx interrupts the
// wait, which is logged, and the process is killed so that the wait can
// still observe its exit.
func (p *Process) wait(ctx context.Context) error {
	done := make(chan error, 1)

	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.log.Info("process wait interrupted", zap.Error(ctx.Err()))
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Error("failed to kill interrupted process", zap.Error(err))
	}

	return <-done
}

// MARK: - Helpers

func pidOf(cmd *exec.Cmd) int {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return UnknownPid
	}

	return cmd.Process.Pid
}

// mergeEnv appends the overlay to base. exec uses the last value of
// duplicate keys, so the overlay wins.
func mergeEnv(base []string, overlay map[string]string) []string {
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(overlay))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}

	return env
}

func getExitEvent(err error) ExitEvent {
	var cell int
	var exitStatus *int
	var signo *int

	var exitError *exec.ExitError

	if err == nil {
		// the process exited successfully, set the exit code to 0
		exitStatus = &cell
	} else if errors.As(err, &exitError) {
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			// the process was terminated by a signal
			cell = int(status.Signal())
			signo = &cell
		} else if code := exitError.ExitCode(); code >= 0 {
			// the process exited with an exit code
			cell = code
			exitStatus = &cell
		}
	}

	// exit status and signal stay unset if neither could be determined

	return ExitEvent{
		Code:   exitStatus,
		Signal: signo,
	}
}
