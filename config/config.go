package config

import (
	"github.com/lambda-feedback/jobproc/internal/execution/process"
	"github.com/lambda-feedback/jobproc/util/conf"
)

// EnvPrefix is the prefix of env vars read into the config, e.g.
// JOBPROC_PROCESS__KILL_TIMEOUT for process.kill_timeout.
const EnvPrefix = "JOBPROC_"

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// MaxProcs is the maximum number of jobs a batch runs concurrently.
	// 0 defers to the job file, then to the number of CPU cores.
	MaxProcs int `conf:"max_procs"`

	// Process is the config applied to every supervised process
	Process process.Config `conf:"process"`
}

var DefaultConfig = conf.DefaultConfig(merge(
	map[string]any{
		"log_level":  "info",
		"log_format": "production",
		"max_procs":  0,
	},
	conf.MergeDefaults("process", map[string]any{
		"drain_timeout": process.DefaultDrainTimeout.String(),
		"history_lines": process.DefaultHistoryLines,
		"kill_timeout":  process.DefaultKillTimeout.String(),
	}),
))

// CliMap maps cli flag names to config keys.
var CliMap = map[string]string{
	"log-level":     "log_level",
	"log-format":    "log_format",
	"max-procs":     "max_procs",
	"drain-timeout": "process.drain_timeout",
	"history-lines": "process.history_lines",
	"kill-timeout":  "process.kill_timeout",
}

func merge(maps ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}
