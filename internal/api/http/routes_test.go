package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspecout/ope-protec/internal/risks"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	clock := clockwork.NewFakeClock()
	now := clock.Now().UTC()
	env := risks.Envelope{Status: risks.StatusOnline, Source: "test", FetchedAt: now}

	fetchers := risks.Fetchers{
		Weather: func(context.Context) *risks.WeatherPayload {
			return &risks.WeatherPayload{Envelope: env, Level: risks.LevelJaune}
		},
		River: func(context.Context) *risks.RiverPayload {
			return &risks.RiverPayload{Envelope: env, Level: risks.LevelVert, Stations: []risks.Station{
				{Code: "W100000001", Name: "L'Isère à Grenoble", River: "L'Isère", Lat: 45.2005, Lon: 5.7204, Level: risks.LevelVert},
			}}
		},
		Road: func(context.Context) *risks.RoadPayload {
			return &risks.RoadPayload{Envelope: env}
		},
		Traffic: func(context.Context) *risks.TrafficPayload {
			return &risks.TrafficPayload{Envelope: env, Level: risks.LevelVert}
		},
		Registry: func(context.Context) *risks.RiskRegistryPayload {
			return &risks.RiskRegistryPayload{Envelope: env, Mode: "v2-token"}
		},
		News: func(context.Context) *risks.NewsPayload {
			return &risks.NewsPayload{Envelope: env}
		},
		Air: func(context.Context) *risks.AirQualityPayload {
			return &risks.AirQualityPayload{Envelope: env, Level: risks.LevelVert}
		},
		Rail: func(context.Context) *risks.RailPayload {
			return &risks.RailPayload{Envelope: env}
		},
		Water: func(context.Context) *risks.WaterPayload {
			return &risks.WaterPayload{Envelope: env, Level: risks.LevelVert}
		},
		Power: func(context.Context) *risks.PowerPayload {
			return &risks.PowerPayload{Envelope: env, Level: risks.LevelVert, MarginMW: 4200}
		},
		Boundary: func(context.Context) *risks.BoundaryPayload {
			return &risks.BoundaryPayload{Envelope: env, Origin: "live", Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[]}`)}
		},
	}

	ttl := risks.TTLs{
		Weather: time.Minute, River: time.Minute, Road: time.Minute,
		Traffic: time.Minute, Registry: time.Minute, News: time.Minute,
		Air: time.Minute, Rail: time.Minute, Water: time.Minute,
		Power: time.Minute, Boundary: time.Minute,
	}

	app := fiber.New()
	RegisterRoutes(app, risks.NewService(fetchers, ttl, clock, nil, nil))
	return app
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRisksEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/risks", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Contains(t, snapshot, "weather")
	assert.Contains(t, snapshot, "power-margin")
	assert.Contains(t, snapshot, "global_risk")
	assert.Contains(t, snapshot, "errors")
}

func TestRiskSourceEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/risks/weather", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Status string `json:"status"`
		Level  string `json:"level"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "online", payload.Status)
	assert.Equal(t, "jaune", payload.Level)
}

func TestRiskSourceEndpoint_UnknownSource(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/risks/volcano", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRiversGeoJSONEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/rivers/geojson", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get(fiber.HeaderContentType))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.InDelta(t, 5.7204, fc.Features[0].Geometry.Coordinates[0], 0.0001, "GeoJSON points carry lon first")
}

func TestBoundaryEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/boundary", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Origin   string          `json:"origin"`
		Geometry json.RawMessage `json:"geometry"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "live", payload.Origin)
	assert.NotEmpty(t, payload.Geometry)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
