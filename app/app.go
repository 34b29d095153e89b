package app

import (
	"github.com/lambda-feedback/jobproc/config"
	"github.com/lambda-feedback/jobproc/internal/execution/dispatcher"
	"github.com/lambda-feedback/jobproc/internal/shell"
	"github.com/lambda-feedback/jobproc/util/conf"
	"github.com/lambda-feedback/jobproc/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	config, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(config),
		// provide process config
		fx.Supply(config.Process),
		// provide dispatcher config
		fx.Supply(dispatcher.Config{
			MaxProcs: config.MaxProcs,
			Process:  config.Process,
		}),
	)

	return shell.New(log, sharedModule), nil
}
