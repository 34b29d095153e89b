package shell

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// ExitCoder is implemented by modules that decide the exit code of the
// application. Its ExitCode is read after the application has stopped.
type ExitCoder interface {
	ExitCode() int
}

// exitCoderGroup is the value group ExitCoders are provided in.
const exitCoderGroup = `group:"exit_coders"`

// AsExitCoder annotates the constructor f so that its result is provided
// as an ExitCoder.
func AsExitCoder(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(ExitCoder)),
		fx.ResultTags(exitCoderGroup),
	)
}

type exitCoders struct {
	fx.In

	Coders []ExitCoder `group:"exit_coders"`
}

// Shell runs an fx application until it is asked to shut down, either
// by a module through fx.Shutdowner or by an OS signal.
type Shell struct {
	log     *zap.Logger
	options []fx.Option
}

func New(log *zap.Logger, options ...fx.Option) *Shell {
	return &Shell{
		log:     log,
		options: options,
	}
}

// Run starts the application, blocks until it shuts down and returns an
// *ExitError for non-zero exit codes.
func (s *Shell) Run(ctx context.Context, options ...fx.Option) error {
	// 0. after run ends, flush the logger
	defer s.log.Sync()

	// 1. create execution context, cancelled once the app has stopped
	appCtx, cancelApp := context.WithCancel(ctx)
	defer cancelApp()

	// 2. create fx application with app context
	var coders exitCoders
	fxApp := s.createFxApp(appCtx, append(options, fx.Populate(&coders))...)

	// 3. create start context w/ timeout
	startCtx, cancelStart := context.WithTimeout(ctx, fxApp.StartTimeout())
	defer cancelStart()

	// 4. start the application, exit on error
	if err := fxApp.Start(startCtx); err != nil {
		s.log.Error("failed to start", zap.Error(err))
		return NewExitError(1)
	}

	// 5. wait for done signal by OS or a module
	sig := <-fxApp.Wait()
	exitCode := sig.ExitCode

	s.log.Debug("shutting down",
		zap.Stringer("signal", sig.Signal),
		zap.Int("exit_code", exitCode),
	)

	// 6. create shutdown context
	stopCtx, cancelStop := context.WithTimeout(ctx, fxApp.StopTimeout())
	defer cancelStop()

	// 7. gracefully shutdown the app, exit on error
	if err := fxApp.Stop(stopCtx); err != nil {
		s.log.Error("failed to stop", zap.Error(err))
		return NewExitError(1)
	}

	// 8. an OS signal carries no exit code, the modules know better
	if exitCode == 0 {
		exitCode = firstExitCode(coders.Coders)
	}

	if exitCode != 0 {
		return NewExitError(exitCode)
	}

	return nil
}

func (s *Shell) createFxApp(ctx context.Context, options ...fx.Option) *fx.App {
	return fx.New(
		// inject global execution context
		fx.Supply(fx.Annotate(ctx, fx.As(new(context.Context)))),

		// inject the logger
		fx.Supply(s.log),

		// use the logger also for fx' logs
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: s.log.Named("fx")}
		}),

		// provide shared options
		fx.Options(s.options...),

		// provide run options
		fx.Options(options...),
	)
}

// MARK: - Helpers

func firstExitCode(coders []ExitCoder) int {
	for _, coder := range coders {
		if code := coder.ExitCode(); code != 0 {
			return code
		}
	}

	return 0
}
