package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	t.Setenv("PARLEY_BASE_URL", "")
	t.Setenv("PARLEY_API_KEY", "")

	cfg := &Config{APIKey: "sk-test"}
	require.NoError(t, cfg.applyDefaults())

	assert.Equal(t, defaultBaseURL, cfg.BaseURL)
	assert.Equal(t, defaultModelID, cfg.Model)
	assert.Equal(t, defaultPageSize, cfg.PageSize)
	assert.Equal(t, defaultPollLimit, cfg.PollLimit)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	t.Setenv("PARLEY_BASE_URL", "")
	t.Setenv("PARLEY_API_KEY", "")

	cfg := &Config{
		BaseURL:   "https://proxy.internal/v1",
		APIKey:    "sk-test",
		Model:     "gpt-4o",
		PageSize:  25,
		PollLimit: 50,
	}
	require.NoError(t, cfg.applyDefaults())

	assert.Equal(t, "https://proxy.internal/v1", cfg.BaseURL)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, 50, cfg.PollLimit)
}

func TestApplyDefaultsEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_BASE_URL", "https://env.example.com/v1")
	t.Setenv("PARLEY_API_KEY", "sk-env")

	cfg := &Config{BaseURL: "https://file.example.com/v1", APIKey: "sk-file"}
	require.NoError(t, cfg.applyDefaults())

	assert.Equal(t, "https://env.example.com/v1", cfg.BaseURL)
	assert.Equal(t, "sk-env", cfg.APIKey)
}

func TestApplyDefaultsRequiresAPIKey(t *testing.T) {
	t.Setenv("PARLEY_API_KEY", "")

	cfg := &Config{}
	assert.Error(t, cfg.applyDefaults())
}
