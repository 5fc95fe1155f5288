package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/sync.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "inmova-sync", cfg.App.Name)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, models.DefaultSyncHorizonDays, cfg.Sync.HorizonDays)
	assert.Equal(t, models.DefaultCadenceHours, cfg.Sync.CadenceHours)
	assert.Equal(t, models.DefaultWorkerCount, cfg.Sync.WorkerCount)
	assert.Equal(t, models.DefaultFailureThreshold, cfg.Sync.FailureThreshold)
	assert.Equal(t, models.DefaultCalendarBatchSize, cfg.Sync.CalendarBatchSize)
	assert.Equal(t, models.DefaultBackoffCapFactor, cfg.Sync.BackoffCapFactor)
	assert.Equal(t, "exports", cfg.Exports.Path)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_SYNC_API_KEY", "secret-from-env")

	path := writeConfig(t, `
database:
  path: /tmp/sync.db
api:
  enabled: true
  auth:
    enabled: true
    api_keys:
      - key: ${TEST_SYNC_API_KEY}
        name: operator
        permissions: ["sync:write"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.API.Auth.APIKeys, 1)
	assert.Equal(t, "secret-from-env", cfg.API.Auth.APIKeys[0].Key)
}

func TestLoad_ValidationFailures(t *testing.T) {
	t.Run("missing database path", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
app:
  name: test
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database path")
	})

	t.Run("auth enabled without keys", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
database:
  path: /tmp/sync.db
api:
  enabled: true
  auth:
    enabled: true
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no api keys")
	})

	t.Run("negative cadence", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
database:
  path: /tmp/sync.db
sync:
  cadence_hours: -1
`))
		require.Error(t, err)
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "database: [unclosed"))
	require.Error(t, err)
}

func TestSyncConfig_Durations(t *testing.T) {
	s := SyncConfig{
		CadenceHours:        6,
		SchedulerTickSec:    30,
		AdapterTimeoutSec:   15,
		ManualSyncWindowSec: 90,
	}
	assert.Equal(t, "6h0m0s", s.Cadence().String())
	assert.Equal(t, "30s", s.SchedulerTick().String())
	assert.Equal(t, "15s", s.AdapterTimeout().String())
	assert.Equal(t, "1m30s", s.ManualSyncWindow().String())
}

func TestLoadListings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listings:
  - id: 1
    name: "Loft Malasaña"
    capacity: 2
    base_price: 95.0
    is_active: true
    season_prices:
      - from: 2026-06-01T00:00:00Z
        to: 2026-09-01T00:00:00Z
        nightly: 130.0
  - id: 2
    name: "Ático Chueca"
    capacity: 4
    base_price: 140.0
    is_active: false
`), 0o644))

	listings, err := LoadListings(path)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "Loft Malasaña", listings[0].Name)
	assert.Len(t, listings[0].SeasonPrices, 1)
	assert.Equal(t, 130.0, listings[0].SeasonPrices[0].Nightly)
	assert.False(t, listings[1].IsActive)
}

func TestValidateListings(t *testing.T) {
	err := ValidateListings([]models.Listing{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	err = ValidateListings([]models.Listing{{ID: 0, Name: "zero"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ID 0")

	assert.NoError(t, ValidateListings([]models.Listing{{ID: 1}, {ID: 2}}))
}
