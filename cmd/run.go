package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lambda-feedback/jobproc/app"
	runapp "github.com/lambda-feedback/jobproc/app/run"
	"github.com/lambda-feedback/jobproc/internal/execution/process"
	"github.com/lambda-feedback/jobproc/internal/jobfile"
	"github.com/urfave/cli/v2"
)

var (
	runCmdDescription = `The run command launches the given command and supervises it
until it exits. Everything the command writes to stdout is
logged at info level, everything it writes to stderr at error
level.

On SIGINT or SIGTERM the command is asked to stop and killed
if it does not exit within the kill timeout.

jobproc exits with the exit status of the command, with 128
plus the signal number if the command was killed by a signal,
or with 127 if the command could not be launched.`
	runCmd = &cli.Command{
		Name:        "run",
		Usage:       "Run a command and supervise it until it exits.",
		UsageText:   "jobproc run [options] -- COMMAND [ARG...]",
		Description: runCmdDescription,
		Before:      parseConfig,
		Action:      runAction,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     "cwd",
				Usage:    "the working directory of the command.",
				Category: "command",
			},
			&cli.StringSliceFlag{
				Name:     "env",
				Usage:    "set an env var for the command, as KEY=VALUE.",
				Aliases:  []string{"e"},
				Category: "command",
			},
			&cli.PathFlag{
				Name:     "env-file",
				Usage:    "load env vars for the command from a .env file.",
				Category: "command",
			},
		},
	}
)

var errMissingCommand = errors.New("missing command to run")

func runAction(ctx *cli.Context) error {
	start, err := startConfigFromCLI(ctx)
	if err != nil {
		return err
	}

	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	return app.Run(ctx.Context, runapp.Module(runapp.Config{Start: start}))
}

func startConfigFromCLI(ctx *cli.Context) (process.StartConfig, error) {
	start := process.StartConfig{
		Command: ctx.Args().Slice(),
		Cwd:     ctx.Path("cwd"),
		Env:     map[string]string{},
	}

	if len(start.Command) == 0 {
		return start, errMissingCommand
	}

	// explicit env vars win over the env file
	if path := ctx.Path("env-file"); path != "" {
		env, err := jobfile.LoadEnvFile(path)
		if err != nil {
			return start, err
		}
		for k, v := range env {
			start.Env[k] = v
		}
	}

	for _, pair := range ctx.StringSlice("env") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return start, fmt.Errorf("invalid env var %q, expected KEY=VALUE", pair)
		}
		start.Env[key] = value
	}

	return start, nil
}

func init() {
	rootApp.Commands = append(rootApp.Commands, runCmd)
}
