package run

import (
	"go.uber.org/fx"

	"github.com/lambda-feedback/jobproc/internal/runner"
	"github.com/lambda-feedback/jobproc/util/logging"
)

func Module(config Config) fx.Option {
	return fx.Module(
		"run",
		// rename logger for module
		logging.DecorateLogger("run"),
		// provide and start the runner
		runner.Module(config.Start),
	)
}
