package runner

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lambda-feedback/jobproc/internal/execution/dispatcher"
	"github.com/lambda-feedback/jobproc/internal/jobfile"
	"github.com/lambda-feedback/jobproc/internal/shell"
	"github.com/lambda-feedback/jobproc/util/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type BatchParams struct {
	fx.In

	// Context is the application context, cancelled after shutdown
	Context context.Context

	File       *jobfile.File
	Config     dispatcher.Config
	Shutdowner fx.Shutdowner
	Log        *zap.Logger

	// ProcessFactory overrides how processes are created
	ProcessFactory dispatcher.ProcessFactory `optional:"true"`
}

// Batch runs the jobs of a job file for the lifetime of the application.
type Batch struct {
	ctx        context.Context
	jobs       []dispatcher.Job
	dispatcher *dispatcher.PooledDispatcher
	shutdowner fx.Shutdowner

	done     chan struct{}
	results  []dispatcher.Result
	exitCode int

	log *zap.Logger
}

func NewBatch(params BatchParams) (*Batch, error) {
	config := params.Config

	// the config wins over the job file
	if config.MaxProcs <= 0 {
		config.MaxProcs = params.File.MaxProcs
	}

	d, err := dispatcher.NewPooledDispatcher(dispatcher.Params{
		Config:         config,
		ProcessFactory: params.ProcessFactory,
		Log:            params.Log,
	})
	if err != nil {
		return nil, err
	}

	return &Batch{
		ctx:        params.Context,
		jobs:       params.File.Jobs,
		dispatcher: d,
		shutdowner: params.Shutdowner,
		done:       make(chan struct{}),
		log:        params.Log,
	}, nil
}

// BatchModule runs the jobs of file.
func BatchModule(file *jobfile.File) fx.Option {
	return fx.Module(
		"batch",

		logging.DecorateLogger("batch"),

		// provide the jobs to run
		fx.Supply(file),

		// provide the batch, it decides the exit code
		fx.Provide(
			NewBatch,
			shell.AsExitCoder(func(b *Batch) *Batch { return b }),
		),

		// bind the batch to the app lifecycle
		fx.Invoke(func(lc fx.Lifecycle, b *Batch) {
			lc.Append(fx.Hook{
				OnStart: b.Start,
				OnStop:  b.Stop,
			})
		}),
	)
}

// Start dispatches the jobs in the background.
func (b *Batch) Start(context.Context) error {
	b.log.Info("starting batch", zap.Int("jobs", len(b.jobs)))

	go b.run()

	return nil
}

func (b *Batch) run() {
	defer close(b.done)

	started := time.Now()
	b.results = b.dispatcher.Dispatch(b.ctx, b.jobs)

	exitCode := 0
	failed := 0
	for _, result := range b.results {
		if result.Err == nil {
			continue
		}

		failed++

		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("job", result.Job.Name)
			sentry.CaptureException(result.Err)
		})

		// the first failed job decides the exit code
		if exitCode == 0 {
			exitCode = ExitCode(result.Err)
		}
	}

	b.exitCode = exitCode

	b.log.Info("batch completed",
		zap.Int("jobs", len(b.results)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(started)),
	)

	if err := b.shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
		b.log.Error("failed to request shutdown", zap.Error(err))
	}
}

// Stop shuts the dispatcher down, stopping jobs that are still running,
// and waits for the batch to return.
func (b *Batch) Stop(ctx context.Context) error {
	if err := b.dispatcher.Shutdown(ctx); err != nil {
		return err
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the exit code of the first failed job in the order of
// the job file, or 0 if all jobs succeeded or the batch has not returned.
func (b *Batch) ExitCode() int {
	select {
	case <-b.done:
		return b.exitCode
	default:
		return 0
	}
}

// Results returns the results of the jobs in the order of the job file.
// It must only be called after Done has been closed.
func (b *Batch) Results() []dispatcher.Result {
	return b.results
}

// Done returns a channel that is closed once all jobs returned.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}
