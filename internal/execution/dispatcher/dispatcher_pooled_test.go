package dispatcher_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/lambda-feedback/jobproc/internal/execution/dispatcher"
	"github.com/lambda-feedback/jobproc/internal/execution/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createPooledDispatcher(
	t *testing.T,
	maxProcs int,
	factory dispatcher.ProcessFactory,
) *dispatcher.PooledDispatcher {
	d, err := dispatcher.NewPooledDispatcher(dispatcher.Params{
		Config: dispatcher.Config{
			MaxProcs: maxProcs,
			Process:  process.Config{KillTimeout: time.Second},
		},
		ProcessFactory: factory,
		Log:            zap.NewNop(),
	})
	require.NoError(t, err)

	return d
}

// startedProcesses wraps the default factory and reports every process
// once it has started.
func startedProcesses() (dispatcher.ProcessFactory, <-chan *process.Process) {
	started := make(chan *process.Process, 16)

	factory := func(params process.Params) dispatcher.Process {
		p := process.New(params)
		go func() {
			if err := p.AwaitStart(context.Background()); err == nil {
				started <- p
			}
		}()
		return p
	}

	return factory, started
}

func TestPooledDispatcher_New_UsesCPUCoreFallback(t *testing.T) {
	d, err := dispatcher.NewPooledDispatcher(dispatcher.Params{
		Config: dispatcher.Config{MaxProcs: 0},
	})
	assert.NoError(t, err)
	assert.NotNil(t, d)
}

func TestPooledDispatcher_Run_PassesJobToFactory(t *testing.T) {
	p := newMockProcess(t)
	p.On("Run", mock.Anything).Return(nil)

	var params process.Params
	factory := func(pp process.Params) dispatcher.Process {
		params = pp
		return p
	}

	d := createPooledDispatcher(t, 1, factory)

	job := dispatcher.Job{
		Name: "test",
		Start: process.StartConfig{
			Command: []string{"true"},
			Cwd:     "/tmp",
			Env:     map[string]string{"A": "b"},
		},
	}

	res := d.Run(context.Background(), job)
	assert.NoError(t, res.Err)
	assert.Equal(t, "test", res.Job.Name)

	assert.Equal(t, job.Start, params.Start)
	assert.Equal(t, time.Second, params.Config.KillTimeout)
	assert.NotNil(t, params.Log)
}

func TestPooledDispatcher_Run_ReturnsProcessError(t *testing.T) {
	p := newMockProcess(t)
	p.On("Run", mock.Anything).Return(assert.AnError)

	d := createPooledDispatcher(t, 1, func(process.Params) dispatcher.Process { return p })

	res := d.Run(context.Background(), dispatcher.Job{Name: "failing"})
	assert.ErrorIs(t, res.Err, assert.AnError)
}

func TestPooledDispatcher_Run_FailsIfContextCancelledWhileAcquiring(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := newMockProcess(t)
	p.On("Run", mock.Anything).Run(func(mock.Arguments) { <-block }).Return(nil)

	d := createPooledDispatcher(t, 1, func(process.Params) dispatcher.Process { return p })

	// occupy the only slot
	go d.Run(context.Background(), dispatcher.Job{Name: "blocking"})

	require.Eventually(t, func() bool {
		return d.Stat().AcquiredResources() == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := d.Run(ctx, dispatcher.Job{Name: "starved"})
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestPooledDispatcher_Dispatch_BoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	var current, peak int

	factory := func(process.Params) dispatcher.Process {
		p := &mockProcess{}
		p.On("Run", mock.Anything).Run(func(mock.Arguments) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}).Return(nil)
		return p
	}

	d := createPooledDispatcher(t, 2, factory)

	jobs := make([]dispatcher.Job, 6)
	for i := range jobs {
		jobs[i] = dispatcher.Job{Name: fmt.Sprintf("job-%d", i)}
	}

	results := d.Dispatch(context.Background(), jobs)
	require.Len(t, results, len(jobs))

	for i, res := range results {
		assert.NoError(t, res.Err)
		assert.Equal(t, jobs[i].Name, res.Job.Name)
	}

	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}

func TestPooledDispatcher_Dispatch_RunsRealProcesses(t *testing.T) {
	d := createPooledDispatcher(t, 2, nil)

	results := d.Dispatch(context.Background(), []dispatcher.Job{
		{Name: "ok", Start: process.StartConfig{Command: []string{"sh", "-c", "echo ok"}}},
		{Name: "fails", Start: process.StartConfig{Command: []string{"sh", "-c", "exit 4"}}},
		{Name: "missing", Start: process.StartConfig{Command: []string{"/nonexistent/binary"}}},
	})

	assert.NoError(t, results[0].Err)

	var exitErr *process.AbnormalExitError
	require.True(t, errors.As(results[1].Err, &exitErr))
	assert.Equal(t, 4, exitErr.Status)

	assert.True(t, process.IsLaunchError(results[2].Err))
}

func TestPooledDispatcher_Shutdown_SoftKillsRunningProcesses(t *testing.T) {
	factory, started := startedProcesses()
	d := createPooledDispatcher(t, 1, factory)

	resCh := make(chan dispatcher.Result, 1)
	go func() {
		resCh <- d.Run(context.Background(), dispatcher.Job{
			Name:  "sleeper",
			Start: process.StartConfig{Command: []string{"sleep", "10"}},
		})
	}()

	<-started

	require.NoError(t, d.Shutdown(context.Background()))

	res := <-resCh

	var exitErr *process.AbnormalExitError
	require.True(t, errors.As(res.Err, &exitErr))
	require.NotNil(t, exitErr.Signal)
	assert.Equal(t, syscall.SIGTERM, syscall.Signal(*exitErr.Signal))
}

func TestPooledDispatcher_Shutdown_HardKillsStubbornProcesses(t *testing.T) {
	factory, started := startedProcesses()
	d := createPooledDispatcher(t, 1, factory)

	resCh := make(chan dispatcher.Result, 1)
	go func() {
		resCh <- d.Run(context.Background(), dispatcher.Job{
			Name:        "stubborn",
			Start:       process.StartConfig{Command: []string{"sh", "-c", "trap '' TERM; echo ready; exec sleep 10"}},
			KillTimeout: 50 * time.Millisecond,
		})
	}()

	p := <-started

	// TERM is only ignored once the shell ran the trap
	require.Eventually(t, func() bool {
		return slices.Contains(p.Stdout().RecentLines(), "ready")
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, d.Shutdown(ctx))

	res := <-resCh

	var exitErr *process.AbnormalExitError
	require.True(t, errors.As(res.Err, &exitErr))
	require.NotNil(t, exitErr.Signal)
	assert.Equal(t, syscall.SIGKILL, syscall.Signal(*exitErr.Signal))
}

func TestPooledDispatcher_Shutdown_HardKillsIfSoftKillFails(t *testing.T) {
	release := make(chan struct{})

	p := newMockProcess(t)
	p.On("Run", mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)
	p.On("IsRunning").Return(true)
	p.On("SoftKill", 30*time.Millisecond).Return(false, nil)
	p.On("HardKill").Run(func(mock.Arguments) { close(release) }).Return(nil)

	d := createPooledDispatcher(t, 1, func(process.Params) dispatcher.Process { return p })

	resCh := make(chan dispatcher.Result, 1)
	go func() {
		resCh <- d.Run(context.Background(), dispatcher.Job{Name: "mock", KillTimeout: 30 * time.Millisecond})
	}()

	require.Eventually(t, func() bool {
		return d.Stat().AcquiredResources() == 1
	}, time.Second, 5*time.Millisecond)

	// the process may not be tracked yet when the slot is acquired
	require.Eventually(t, func() bool {
		return d.Running() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Shutdown(context.Background()))

	res := <-resCh
	assert.NoError(t, res.Err)
}

func TestPooledDispatcher_Run_FailsAfterShutdown(t *testing.T) {
	d := createPooledDispatcher(t, 1, nil)

	require.NoError(t, d.Shutdown(context.Background()))

	res := d.Run(context.Background(), dispatcher.Job{
		Name:  "late",
		Start: process.StartConfig{Command: []string{"true"}},
	})
	assert.Error(t, res.Err)
}
