package config_test

import (
	"testing"

	"github.com/lambda-feedback/jobproc/config"
	"github.com/lambda-feedback/jobproc/internal/execution/process"
	"github.com/lambda-feedback/jobproc/util/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Defaults:  config.DefaultConfig,
		EnvPrefix: "JOBPROC_CONFIG_TEST_",
	})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "production", cfg.LogFormat)
	assert.Equal(t, 0, cfg.MaxProcs)
	assert.Equal(t, process.DefaultConfig(), cfg.Process)
}

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("JOBPROC_PROCESS__KILL_TIMEOUT", "250ms")
	t.Setenv("JOBPROC_PROCESS__HISTORY_LINES", "5")
	t.Setenv("JOBPROC_MAX_PROCS", "3")

	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Defaults:  config.DefaultConfig,
		EnvPrefix: config.EnvPrefix,
	})
	require.NoError(t, err)

	assert.Equal(t, "250ms", cfg.Process.KillTimeout.String())
	assert.Equal(t, 5, cfg.Process.HistoryLines)
	assert.Equal(t, 3, cfg.MaxProcs)
	assert.Equal(t, process.DefaultDrainTimeout, cfg.Process.DrainTimeout)
}
