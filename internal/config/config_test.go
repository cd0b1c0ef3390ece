package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	os.Setenv("DAOKIT_DISPATCH_BACKEND", "llm")
	os.Setenv("LLM_API_KEY", "test-key")
	t.Cleanup(func() {
		os.Unsetenv("DAOKIT_DISPATCH_BACKEND")
		os.Unsetenv("LLM_API_KEY")
	})

	cfg, err := config.Load(root)
	require.NoError(t, err)
	require.Equal(t, config.DispatchLLM, cfg.Dispatch.Backend)
	require.Equal(t, "test-key", cfg.Dispatch.LLMAPIKey)
	require.Equal(t, config.StoreDriverFile, cfg.Store.Driver)
	require.Equal(t, 900, cfg.Heartbeat.WarningAfterSeconds)
}

func TestLoadSettingsFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "state"), 0o755))
	settings := `{"store_driver":"sqlite","warning_after_seconds":60,"stale_after_seconds":120,"dispatch_command":["echo","ok"]}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "state", "settings.json"), []byte(settings), 0o644))

	cfg, err := config.Load(root)
	require.NoError(t, err)
	require.Equal(t, config.StoreDriverSQLite, cfg.Store.Driver)
	require.Equal(t, 60, cfg.Heartbeat.WarningAfterSeconds)
	require.Equal(t, 120, cfg.Heartbeat.StaleAfterSeconds)
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "state"), 0o755))
	settings := `{"warning_after_seconds":1000,"stale_after_seconds":100}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "state", "settings.json"), []byte(settings), 0o644))

	_, err := config.Load(root)
	require.Error(t, err)
}

func TestLoadDefaultSubprocessRequiresCommand(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.Load(root)
	require.Error(t, err)
	require.Equal(t, config.Config{}, cfg)
}
