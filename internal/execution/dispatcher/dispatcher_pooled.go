package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/lambda-feedback/jobproc/internal/execution/process"
	"go.uber.org/zap"
)

type Config struct {
	// MaxProcs is the maximum number of concurrently running jobs.
	// Defaults to the number of CPU cores.
	MaxProcs int `conf:"max_procs"`

	// Process is the config passed on to every process
	Process process.Config `conf:"process"`
}

type Params struct {
	// Config is the config for the dispatcher and its processes
	Config Config

	// ProcessFactory creates the process for a job
	ProcessFactory ProcessFactory

	// Log is the logger to use for the dispatcher
	Log *zap.Logger
}

// slot is a permit to run one job. The pool of slots bounds the number
// of concurrently running jobs.
type slot struct {
	id int
}

// PooledDispatcher runs jobs with bounded concurrency. Processes are
// single-use, so every job gets a fresh one.
type PooledDispatcher struct {
	pool          *puddle.Pool[*slot]
	config        Config
	createProcess ProcessFactory

	// stopCtx is cancelled once shutdown gave up on soft kills
	stopCtx context.Context
	stopAll context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[Process]time.Duration
	runs    sync.WaitGroup

	log *zap.Logger
}

var _ Dispatcher = (*PooledDispatcher)(nil)

func NewPooledDispatcher(params Params) (*PooledDispatcher, error) {
	if params.ProcessFactory == nil {
		params.ProcessFactory = defaultProcessFactory
	}

	if params.Log == nil {
		params.Log = zap.NewNop()
	}

	config := params.Config
	if config.MaxProcs <= 0 {
		config.MaxProcs = runtime.NumCPU()
	}

	pool, err := createPool(config.MaxProcs)
	if err != nil {
		return nil, err
	}

	stopCtx, stopAll := context.WithCancel(context.Background())

	return &PooledDispatcher{
		stopCtx:       stopCtx,
		stopAll:       stopAll,
		pool:          pool,
		config:        config,
		createProcess: params.ProcessFactory,
		running:       make(map[Process]time.Duration),
		log:           params.Log.Named("dispatcher_pooled"),
	}, nil
}

func (d *PooledDispatcher) Dispatch(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			results[i] = d.Run(ctx, job)
		}(i, job)
	}
	wg.Wait()

	return results
}

func (d *PooledDispatcher) Run(ctx context.Context, job Job) Result {
	result := Result{Job: job}

	resource, err := d.pool.Acquire(ctx)
	if err != nil {
		result.Err = fmt.Errorf("error acquiring slot: %w", err)
		return result
	}

	defer resource.Release()

	log := d.log.With(
		zap.String("job", job.Name),
		zap.Int("slot", resource.Value().id),
	)

	p := d.createProcess(process.Params{
		Start:  job.Start,
		Config: d.config.Process,
		Log:    log,
	})

	if err := d.track(p, job); err != nil {
		result.Err = err
		return result
	}

	defer d.untrack(p)

	// a shutdown kills processes that are still running
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(d.stopCtx, cancel)
	defer stop()

	log.Debug("running job")

	started := time.Now()
	result.Err = p.Run(runCtx)
	result.Duration = time.Since(started)

	if result.Err != nil {
		log.Error("job failed", zap.Error(result.Err), zap.Duration("duration", result.Duration))
	} else {
		log.Info("job completed", zap.Duration("duration", result.Duration))
	}

	return result
}

// Shutdown soft kills all running processes, hard killing the ones that
// do not exit within their kill timeout, waits for their runs to return
// and closes the pool.
func (d *PooledDispatcher) Shutdown(ctx context.Context) error {
	d.log.Debug("shutting down dispatcher")

	d.mu.Lock()
	d.closed = true
	running := make(map[Process]time.Duration, len(d.running))
	for p, timeout := range d.running {
		running[p] = timeout
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for p, timeout := range running {
		wg.Add(1)
		go func(p Process, timeout time.Duration) {
			defer wg.Done()
			d.stop(p, timeout)
		}(p, timeout)
	}
	wg.Wait()

	// kill whatever was launched while the others were stopped
	d.stopAll()

	done := make(chan struct{})
	go func() {
		d.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("error waiting for jobs to finish: %w", ctx.Err())
	}

	// all slots are released, so close does not block
	d.pool.Close()

	return nil
}

// Running returns the number of jobs currently running.
func (d *PooledDispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.running)
}

// Stat returns the statistics of the slot pool.
func (d *PooledDispatcher) Stat() *puddle.Stat {
	return d.pool.Stat()
}

func (d *PooledDispatcher) stop(p Process, timeout time.Duration) {
	if !p.IsRunning() {
		return
	}

	killed, err := p.SoftKill(timeout)
	if err != nil {
		d.log.Error("error stopping process", zap.Error(err))
	}

	if killed {
		return
	}

	d.log.Warn("process did not stop in time, killing it", zap.Duration("timeout", timeout))

	if err := p.HardKill(); err != nil {
		d.log.Error("error killing process", zap.Error(err))
	}
}

func (d *PooledDispatcher) track(p Process, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	timeout := job.KillTimeout
	if timeout <= 0 {
		timeout = d.config.Process.KillTimeout
	}
	if timeout <= 0 {
		timeout = process.DefaultKillTimeout
	}

	d.running[p] = timeout
	d.runs.Add(1)

	return nil
}

func (d *PooledDispatcher) untrack(p Process) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.running, p)
	d.runs.Done()
}

// MARK: - Pool

func createPool(maxProcs int) (*puddle.Pool[*slot], error) {
	var nextID atomic.Int64

	constructor := func(context.Context) (*slot, error) {
		return &slot{id: int(nextID.Add(1))}, nil
	}

	destructor := func(*slot) {}

	return puddle.NewPool(&puddle.Config[*slot]{
		Constructor: constructor,
		Destructor:  destructor,
		MaxSize:     int32(maxProcs),
	})
}
