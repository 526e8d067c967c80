package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/config"
	"github.com/mhrishan/desco-monitor/notify"
	"github.com/mhrishan/desco-monitor/store/csvfile"
	"github.com/mhrishan/desco-monitor/store/sqlite"
	"github.com/mhrishan/desco-monitor/store/xlsx"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		Env:     "local",
		Storage: config.StorageConfig{Backend: backend},
		History: config.HistoryConfig{Path: filepath.Join(dir, "history.db")},
	}
	switch backend {
	case config.BackendSQLite:
		cfg.Storage.Path = cfg.History.Path
	case config.BackendXLSX:
		cfg.Storage.Path = filepath.Join(dir, "ledger.xlsx")
	default:
		cfg.Storage.Path = filepath.Join(dir, "ledger.csv")
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestBuild_SelectsBackend(t *testing.T) {
	tests := []struct {
		backend string
		check   func(t *testing.T, c *components)
	}{
		{config.BackendCSV, func(t *testing.T, c *components) {
			assert.IsType(t, &csvfile.Store{}, c.store)
		}},
		{config.BackendXLSX, func(t *testing.T, c *components) {
			assert.IsType(t, &xlsx.Store{}, c.store)
		}},
		{config.BackendSQLite, func(t *testing.T, c *components) {
			// GIVEN the same path, ledger and history share one database
			require.IsType(t, &sqlite.Store{}, c.store)
			assert.Same(t, c.runs, c.store)
			assert.Len(t, c.closers, 1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c, err := build(context.Background(), testConfig(t, tt.backend), afero.NewOsFs())
			require.NoError(t, err)
			defer c.Close()

			tt.check(t, c)
			assert.NotNil(t, c.engine)
			assert.NotNil(t, c.scheduler)
			assert.False(t, c.scheduler.Active())
			assert.Equal(t, "Not started", string(c.tracker.Snapshot().State))
		})
	}
}

func TestBuild_SeparateSQLiteLedger(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "ledger.db")

	c, err := build(context.Background(), cfg, afero.NewOsFs())
	require.NoError(t, err)
	defer c.Close()

	assert.NotSame(t, c.runs, c.store)
	assert.Len(t, c.closers, 2)
}

func TestBuildNotifier(t *testing.T) {
	keyring.MockInit()
	log := zap.NewNop()

	t.Run("nothing configured", func(t *testing.T) {
		n, err := buildNotifier(config.Default(), afero.NewMemMapFs(), log)
		require.NoError(t, err)
		assert.IsType(t, notify.Nop{}, n)
	})

	t.Run("webhook only", func(t *testing.T) {
		cfg := config.Default()
		cfg.Webhook.URL = "http://127.0.0.1:9/hook"

		n, err := buildNotifier(cfg, afero.NewMemMapFs(), log)
		require.NoError(t, err)
		assert.IsType(t, &notify.Webhook{}, n)
	})

	t.Run("email and webhook", func(t *testing.T) {
		cfg := config.Default()
		cfg.Email.Enabled = true
		cfg.Email.From = "me@example.com"
		cfg.Email.Username = "me@example.com"
		cfg.Email.To = []string{"you@example.com"}
		cfg.Email.PasswordFromKeyring = true
		cfg.Webhook.URL = "http://127.0.0.1:9/hook"
		require.NoError(t, notify.StorePassword("me@example.com", "app-password"))

		n, err := buildNotifier(cfg, afero.NewMemMapFs(), log)
		require.NoError(t, err)
		multi, ok := n.(notify.Multi)
		require.True(t, ok)
		assert.Len(t, multi, 2)
	})
}

func TestLoadConfig_Optional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := loadConfig(missing, true)
	require.NoError(t, err)
	assert.Equal(t, "17:50", cfg.Schedule.Time)

	_, err = loadConfig(missing, false)
	assert.Error(t, err)
}
