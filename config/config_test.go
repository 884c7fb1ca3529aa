package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefaults(t *testing.T) {
	isolate(t)
	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, 50*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.Research.MaxHypothesisRejections)
	assert.Equal(t, 8, cfg.Research.MaxCycles)
	assert.Equal(t, 2, cfg.Execution.MaxDiffAttempts)
	assert.Equal(t, "warn", cfg.Execution.StalePolicy)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "planwright.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
environment: production
llm:
  model: claude-sonnet-4-5
  timeout: 2m
research:
  max_cycles: 4
`), 0o644))
	t.Setenv("PLANWRIGHT_LLM_MODEL", "claude-opus-4-6")
	t.Setenv("PLANWRIGHT_EXECUTION_MAX_DIFF_ATTEMPTS", "3")

	v, err := NewViper(file)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "claude-opus-4-6", cfg.LLM.Model)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 4, cfg.Research.MaxCycles)
	assert.Equal(t, 3, cfg.Execution.MaxDiffAttempts)
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	isolate(t)
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())

	cfg.LLM.Model = ""
	cfg.Research.MaxCycles = 0
	cfg.Execution.StalePolicy = "panic"
	cfg.Store.Driver = "postgres"
	errs := cfg.Validate()
	require.Len(t, errs, 4)

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	assert.ElementsMatch(t, []string{"llm.model", "research.max_cycles", "execution.stale_policy", "store.driver"}, fields)
	assert.Contains(t, ValidationErrors(errs).Error(), "4 validation errors")
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	isolate(t)
	t.Setenv("PLANWRIGHT_LOGGING_LEVEL", "loud")
	v, err := NewViper("")
	require.NoError(t, err)
	_, err = Load(v)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "logging.level", verrs[0].Field)
}
