package cmd

import (
	"errors"

	"github.com/lambda-feedback/jobproc/app"
	"github.com/lambda-feedback/jobproc/app/batch"
	"github.com/lambda-feedback/jobproc/internal/jobfile"
	"github.com/urfave/cli/v2"
)

var (
	batchCmdDescription = `The batch command runs the jobs of a JSON job file, at most
max-procs of them at a time. Each job is supervised like a
command started by the run command.

On SIGINT or SIGTERM all running jobs are asked to stop and
killed if they do not exit within their kill timeout.

jobproc exits with 0 if all jobs succeeded, otherwise with the
exit code of the first failed job in the order of the file.`
	batchCmd = &cli.Command{
		Name:        "batch",
		Usage:       "Run the jobs of a job file.",
		UsageText:   "jobproc batch [options] FILE",
		Description: batchCmdDescription,
		Before:      parseConfig,
		Action:      batchAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "max-procs",
				Usage:    "the maximum number of jobs to run at a time. Defaults to the number of CPU cores.",
				Aliases:  []string{"n"},
				Category: "batch",
				EnvVars:  []string{"JOBPROC_MAX_PROCS"},
			},
		},
	}
)

var errMissingJobFile = errors.New("missing job file")

func batchAction(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return errMissingJobFile
	}

	file, err := jobfile.Load(path)
	if err != nil {
		return err
	}

	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	return app.Run(ctx.Context, batch.Module(batch.Config{File: file}))
}

func init() {
	rootApp.Commands = append(rootApp.Commands, batchCmd)
}
