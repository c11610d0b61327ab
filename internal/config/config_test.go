package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.GeorisquesAPIToken)
	assert.Equal(t, 90*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 12*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2, cfg.FetchRetries)
	assert.Equal(t, 700*time.Millisecond, cfg.FetchBaseDelay)

	assert.Equal(t, 3*time.Minute, cfg.TTLs.Weather)
	assert.Equal(t, 5*time.Minute, cfg.TTLs.River)
	assert.Equal(t, 10*time.Minute, cfg.TTLs.Traffic)
	assert.Equal(t, 15*time.Minute, cfg.TTLs.Registry)
	assert.Equal(t, 15*time.Minute, cfg.TTLs.Boundary)

	assert.Equal(t, []string{"Grenoble"}, cfg.PriorityStations)
	assert.Equal(t, []string{"Grenoble", "Bourgoin-Jallieu", "Vienne", "Voiron"}, cfg.MonitoredCommunes)
	assert.Equal(t, 24, cfg.RiverStationLimit)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("GEORISQUES_API_TOKEN", "secret")
	t.Setenv("REFRESH_INTERVAL", "2m")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("FETCH_RETRIES", "4")
	t.Setenv("FETCH_BASE_DELAY_MS", "250")
	t.Setenv("TTL_RIVER", "120")
	t.Setenv("PRIORITY_STATIONS", "Grenoble, Vienne ,")
	t.Setenv("MONITORED_COMMUNES", "Voiron")
	t.Setenv("RIVER_STATION_LIMIT", "8")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.GeorisquesAPIToken)
	assert.Equal(t, 2*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 4, cfg.FetchRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.FetchBaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.TTLs.River)
	assert.Equal(t, []string{"Grenoble", "Vienne"}, cfg.PriorityStations, "blanks are dropped")
	assert.Equal(t, []string{"Voiron"}, cfg.MonitoredCommunes)
	assert.Equal(t, 8, cfg.RiverStationLimit)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoad_InvalidDurations(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFRESH_INTERVAL")

	t.Setenv("REFRESH_INTERVAL", "90s")
	t.Setenv("HTTP_TIMEOUT", "a while")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_TIMEOUT")
}

func TestLoad_MalformedIntFallsBackToDefault(t *testing.T) {
	t.Setenv("FETCH_RETRIES", "beaucoup")
	t.Setenv("TTL_WEATHER", "NaN")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.FetchRetries)
	assert.Equal(t, 3*time.Minute, cfg.TTLs.Weather)
}
