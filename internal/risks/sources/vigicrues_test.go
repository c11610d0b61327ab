package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspecout/ope-protec/internal/geo"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

// stubGeocoder serves canned communes, shared by the river and risk
// registry tests.
type stubGeocoder struct {
	centres  map[string]geo.Point
	communes map[string]geo.Commune
}

func (g *stubGeocoder) CommuneCentre(_ context.Context, code string) (geo.Point, error) {
	if p, ok := g.centres[code]; ok {
		return p, nil
	}
	return geo.Point{}, fmt.Errorf("unknown commune %s", code)
}

func (g *stubGeocoder) ResolveCommune(_ context.Context, name, _ string) (geo.Commune, error) {
	if c, ok := g.communes[name]; ok {
		return c, nil
	}
	return geo.Commune{}, fmt.Errorf("commune %s not found", name)
}

func riverTestSegments() []geo.Segment {
	return []geo.Segment{
		{Code: "ISERE2", Name: "L'Isère", Vertices: []geo.Point{
			{Lat: 45.1900, Lon: 5.7000},
			{Lat: 45.2005, Lon: 5.7204},
		}},
		{Code: "DRAC1", Name: "Le Drac", Vertices: []geo.Point{
			{Lat: 45.1900, Lon: 5.6800},
			{Lat: 45.1200, Lon: 5.7000},
		}},
	}
}

func riverStationServer(t *testing.T, details, observations map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/services/station.json", func(w http.ResponseWriter, r *http.Request) {
		body, ok := details[r.URL.Query().Get("CdStationHydro")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/services/observations.json/index.php", func(w http.ResponseWriter, r *http.Request) {
		body, ok := observations[r.URL.Query().Get("CdStationHydro")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	})
	return httptest.NewServer(mux)
}

func TestRiverFetch_SurveysStations(t *testing.T) {
	details := map[string]string{
		"W100000001": `{"LbStationHydro":"L'Isère à Grenoble Bastille","LbCoursEau":"L'Isère","CdCommune":"38185","CoordYStationHydro":45.2000,"CoordXStationHydro":5.7200}`,
		"W100000002": `{"LbStationHydro":"Le Drac à Fontaine","LbCoursEau":"Le Drac","CdCommune":"38169","CoordYStationHydro":"45.1850","CoordXStationHydro":"5.6850"}`,
	}
	observations := map[string]string{
		"W100000001": `{"Serie":{"ObssHydro":[
			{"DtObsHydro":"2026-08-14T08:00:00Z","ResObsHydro":null},
			{"DtObsHydro":"2026-08-14T09:00:00Z","ResObsHydro":1.20},
			{"DtObsHydro":"2026-08-14T10:00:00Z","ResObsHydro":1.85}]}}`,
		"W100000002": `{"Serie":{"ObssHydro":[
			{"DtObsHydro":"2026-08-14T09:00:00Z","ResObsHydro":0.80},
			{"DtObsHydro":"2026-08-14T10:00:00Z","ResObsHydro":0.85}]}}`,
	}
	srv := riverStationServer(t, details, observations)
	defer srv.Close()

	snapper := geo.NewSnapper(riverTestSegments(), map[string]string{})
	src := NewRiverSource(testWeatherClient(), &stubGeocoder{}, snapper, clockwork.NewFakeClock(), discardLogger(), []string{"grenoble"}, 0).
		WithBaseURL(srv.URL).
		WithStationCodes([]string{"W100000001", "W100000002"})

	payload := src.Fetch(context.Background())

	require.True(t, payload.Usable())
	require.Len(t, payload.Stations, 2)

	isere := payload.Stations[0]
	assert.Equal(t, "W100000001", isere.Code)
	assert.True(t, isere.Priority, "Grenoble stations rank first")
	assert.InDelta(t, 1.85, isere.HeightM, 0.001)
	assert.InDelta(t, 0.65, isere.DeltaM, 0.001)
	assert.Equal(t, risks.LevelOrange, isere.Level)
	assert.Equal(t, "2026-08-14T10:00:00Z", isere.ObservedAt)
	assert.Equal(t, "ISERE2", isere.ReachCode, "station snaps onto the traced reach")
	assert.InDelta(t, 45.2005, isere.Lat, 0.0001)
	assert.InDelta(t, 5.7204, isere.Lon, 0.0001)

	drac := payload.Stations[1]
	assert.False(t, drac.Priority)
	assert.Equal(t, risks.LevelVert, drac.Level)
	assert.Equal(t, "DRAC1", drac.ReachCode)

	assert.Equal(t, risks.LevelOrange, payload.Level)
	require.Len(t, payload.Reaches, 2)
	assert.Equal(t, "L'Isère", payload.Reaches[0].Name)
	assert.Equal(t, risks.LevelOrange, payload.Reaches[0].Level)
	assert.Equal(t, "Le Drac", payload.Reaches[1].Name)
}

func TestRiverFetch_CommuneCentroidFallback(t *testing.T) {
	details := map[string]string{
		"W100000003": `{"LbStationHydro":"La Bourbre à Bourgoin-Jallieu","LbCoursEau":"La Bourbre","CdCommune":"38053"}`,
	}
	srv := riverStationServer(t, details, map[string]string{})
	defer srv.Close()

	geocoder := &stubGeocoder{centres: map[string]geo.Point{
		"38053": {Lat: 45.5860, Lon: 5.2730},
	}}
	snapper := geo.NewSnapper(riverTestSegments(), map[string]string{})
	src := NewRiverSource(testWeatherClient(), geocoder, snapper, clockwork.NewFakeClock(), discardLogger(), nil, 0).
		WithBaseURL(srv.URL).
		WithStationCodes([]string{"W100000003"})

	payload := src.Fetch(context.Background())

	require.Len(t, payload.Stations, 1)
	station := payload.Stations[0]
	assert.InDelta(t, 45.5860, station.Lat, 0.0001, "missing coordinates fall back to the commune centroid")
	assert.InDelta(t, 5.2730, station.Lon, 0.0001)
	assert.Empty(t, station.ReachCode, "no traced segment exists for the Bourbre")
	assert.InDelta(t, 0, station.HeightM, 0.0001, "unreachable observations read as a flat zero")
	assert.Equal(t, risks.LevelVert, station.Level)
}

func TestRiverFetch_StationLimitBoundsSurvey(t *testing.T) {
	details := make(map[string]string)
	observations := make(map[string]string)
	codes := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		code := fmt.Sprintf("W10000001%d", i)
		codes = append(codes, code)
		details[code] = fmt.Sprintf(`{"LbStationHydro":"Station %d","LbCoursEau":"L'Isère","CdCommune":"38185","CoordYStationHydro":45.19,"CoordXStationHydro":5.70}`, i)
		observations[code] = `{"Serie":{"ObssHydro":[{"DtObsHydro":"2026-08-14T10:00:00Z","ResObsHydro":1.0}]}}`
	}
	srv := riverStationServer(t, details, observations)
	defer srv.Close()

	src := NewRiverSource(testWeatherClient(), &stubGeocoder{}, nil, clockwork.NewFakeClock(), discardLogger(), nil, 3).
		WithBaseURL(srv.URL).
		WithStationCodes(codes)

	payload := src.Fetch(context.Background())

	require.True(t, payload.Usable())
	assert.Len(t, payload.Stations, 3)
}

func TestRiverFetch_AllStationsDown(t *testing.T) {
	srv := riverStationServer(t, map[string]string{}, map[string]string{})
	defer srv.Close()

	src := NewRiverSource(testWeatherClient(), &stubGeocoder{}, nil, clockwork.NewFakeClock(), discardLogger(), nil, 0).
		WithBaseURL(srv.URL).
		WithStationCodes([]string{"W900000001", "W900000002"})

	payload := src.Fetch(context.Background())

	assert.False(t, payload.Usable())
	assert.Equal(t, risks.StatusDegraded, payload.Status)
	assert.Equal(t, "no station of the department answered", payload.Err)
	assert.Equal(t, risks.LevelVert, payload.Level)
	assert.Empty(t, payload.Stations)
}

func TestKeepStation(t *testing.T) {
	src := NewRiverSource(testWeatherClient(), &stubGeocoder{}, nil, clockwork.NewFakeClock(), discardLogger(), nil, 0).
		WithStationCodes([]string{"W141001001"})

	assert.True(t, src.keepStation("38185", "X000", "Quelconque", "L'Isère"), "commune of the department")
	assert.True(t, src.keepStation("", "W141001001", "Quelconque", ""), "known catalog code")
	assert.True(t, src.keepStation("73999", "X001", "Pontcharra", "Le Bréda"), "focus filter match")
	assert.False(t, src.keepStation("73999", "X002", "Chambéry", "La Leysse"))
}

func TestGroupReaches(t *testing.T) {
	stations := []risks.Station{
		{Code: "A", River: "L'Isère", Level: risks.LevelVert},
		{Code: "B", River: "L'Isère", Level: risks.LevelOrange},
		{Code: "C", River: "", Level: risks.LevelJaune},
	}

	reaches := groupReaches(stations)

	require.Len(t, reaches, 2)
	assert.Equal(t, "Cours d'eau non précisé", reaches[0].Name)
	assert.Equal(t, risks.LevelJaune, reaches[0].Level)
	assert.Equal(t, "L'Isère", reaches[1].Name)
	assert.Equal(t, risks.LevelOrange, reaches[1].Level)
	assert.ElementsMatch(t, []string{"A", "B"}, reaches[1].Stations)
}

func TestAsFloat(t *testing.T) {
	v, ok := asFloat(float64(45.2))
	assert.True(t, ok)
	assert.InDelta(t, 45.2, v, 0.0001)

	v, ok = asFloat("5.72")
	assert.True(t, ok)
	assert.InDelta(t, 5.72, v, 0.0001)

	_, ok = asFloat(nil)
	assert.False(t, ok)
	_, ok = asFloat("pas un nombre")
	assert.False(t, ok)
}
