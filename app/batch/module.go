package batch

import (
	"go.uber.org/fx"

	"github.com/lambda-feedback/jobproc/internal/runner"
	"github.com/lambda-feedback/jobproc/util/logging"
)

func Module(config Config) fx.Option {
	return fx.Module(
		"batch",
		// rename logger for module
		logging.DecorateLogger("jobs"),
		// provide and start the batch
		runner.BatchModule(config.File),
	)
}
