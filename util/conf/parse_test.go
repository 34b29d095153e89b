package conf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	Timeout time.Duration `conf:"timeout"`
	Lines   int           `conf:"lines"`
}

type testConfig struct {
	Level  string `conf:"level"`
	Nested nested `conf:"nested"`
}

func TestTransformEnv(t *testing.T) {
	assert.Equal(t, "nested.timeout", transformEnv("TEST_NESTED__TIMEOUT", "TEST_"))
	assert.Equal(t, "level", transformEnv("LEVEL", ""))
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse[testConfig](ParseOptions{
		Defaults: DefaultConfig{
			"level":          "info",
			"nested.timeout": "2s",
			"nested.lines":   30,
		},
		EnvPrefix: "CONFTEST_DEFAULTS_",
	})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 2*time.Second, cfg.Nested.Timeout)
	assert.Equal(t, 30, cfg.Nested.Lines)
}

func TestParse_EnvOverridesFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"level": "warn", "nested": {"lines": 10}}`), 0o644))

	t.Setenv("CONFTEST_NESTED__LINES", "20")

	cfg, err := Parse[testConfig](ParseOptions{
		Defaults:  DefaultConfig{"level": "info", "nested.lines": 30},
		EnvPrefix: "CONFTEST_",
		FileName:  path,
	})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, 20, cfg.Nested.Lines)
}

func TestParse_FailsForMissingFile(t *testing.T) {
	_, err := Parse[testConfig](ParseOptions{
		FileName:  filepath.Join(t.TempDir(), "missing.json"),
		EnvPrefix: "CONFTEST_MISSING_",
	})
	assert.Error(t, err)
}

func TestMergeDefaults(t *testing.T) {
	merged := MergeDefaults("process", map[string]any{"a": 1}, map[string]any{"b": 2})

	assert.Equal(t, map[string]any{"process.a": 1, "process.b": 2}, merged)
}

func TestMergeDefaults_EmptyNamespace(t *testing.T) {
	merged := MergeDefaults("", map[string]any{"a": 1}, map[string]any{"a": 2})

	assert.Equal(t, map[string]any{"a": 2}, merged)
}

func TestConfigContext(t *testing.T) {
	_, err := GetConfigFromContext[testConfig](context.Background())
	assert.ErrorIs(t, err, ErrNoConfigInContext)

	ctx := ContextWithConfig(context.Background(), testConfig{Level: "debug"})

	cfg, err := GetConfigFromContext[testConfig](ctx)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Level)

	_, err = GetConfigFromContext[string](ctx)
	assert.ErrorIs(t, err, ErrInvalidConfigInContext)
}
