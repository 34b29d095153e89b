package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lambda-feedback/jobproc/config"
	"github.com/lambda-feedback/jobproc/internal/shell"
	"github.com/lambda-feedback/jobproc/util/conf"
	"github.com/lambda-feedback/jobproc/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	appName  = "jobproc"
	appUsage = `Supervise external commands: launch them, forward their
output to structured logs and stop them gracefully.`
	rootApp = &cli.App{
		Name:            appName,
		Usage:           appUsage,
		HideHelpCommand: true,

		// env values may contain commas
		DisableSliceFlagSeparator: true,

		Flags: []cli.Flag{
			// general flags
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the log level. Options: debug, info, warn, error, panic, fatal.",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "set the log format. Options: production, development.",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.PathFlag{
				Name:    "config",
				Usage:   "load the configuration from the given JSON file.",
				Aliases: []string{"C"},
				EnvVars: []string{"JOBPROC_CONFIG"},
			},
			// process flags
			&cli.DurationFlag{
				Name:     "drain-timeout",
				Usage:    "how long to wait for the output of an exited process to be logged.",
				Category: "process",
			},
			&cli.IntFlag{
				Name:     "history-lines",
				Usage:    "the number of recent stderr lines attached to exit errors.",
				Category: "process",
			},
			&cli.DurationFlag{
				Name:     "kill-timeout",
				Usage:    "how long to wait for a process to stop before killing it.",
				Category: "process",
			},
		},
		Before: func(ctx *cli.Context) error {
			// create the logger
			log, err := createLogger(ctx)
			if err != nil {
				return err
			}

			// inject logger into cli context
			ctx.Context = logging.ContextWithLogger(ctx.Context, log)

			return nil
		},
		After: func(ctx *cli.Context) error {
			// Before may have failed before creating the logger
			logging.LoggerFromContextOrNop(ctx.Context).Sync()

			return nil
		},
	}
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:               "version",
		Usage:              "print the version",
		DisableDefaultText: true,
	}
}

type ExecuteParams struct {
	Version  string
	Compiled time.Time
}

func Execute(params ExecuteParams) int {
	rootApp.Version = params.Version
	rootApp.Compiled = params.Compiled

	return run(context.Background(), os.Args)
}

func run(ctx context.Context, args []string) int {
	err := rootApp.RunContext(ctx, args)

	// if app exited without error, return
	if err == nil {
		return 0
	}

	// the shell already logged why it exited
	if !shell.IsExitError(err) {
		fmt.Fprintf(os.Stderr, "exit error: %s\n", err.Error())
	}

	return shell.ExitCode(err)
}

// parseConfig parses the config using defaults, the config file, env vars
// and the flags of the command, and injects it into the cli context.
func parseConfig(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Cli:       ctx,
		CliMap:    config.CliMap,
		Defaults:  config.DefaultConfig,
		EnvPrefix: config.EnvPrefix,
		FileName:  ctx.Path("config"),
		Log:       log,
	})
	if err != nil {
		return err
	}

	// inject the config into the cli context
	ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

	return nil
}

func createLogger(ctx *cli.Context) (*zap.Logger, error) {
	level := getLogLevelFromCLI(ctx)
	format := getLogFormatFromCLI(ctx)

	var config zap.Config
	if format == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	config.InitialFields = map[string]any{
		"app": appName,
	}

	config.Level = level

	return config.Build()
}

func getLogFormatFromCLI(ctx *cli.Context) string {
	format := ctx.String("log-format")
	if format != "" {
		return format
	}

	return "production"
}

func getLogLevelFromCLI(ctx *cli.Context) zap.AtomicLevel {
	lvl := ctx.String("log-level")

	if atom, err := zap.ParseAtomicLevel(lvl); err == nil {
		return atom
	}

	return zap.NewAtomicLevelAt(zap.InfoLevel)
}
