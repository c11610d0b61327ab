package sources

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const vigilancePage = `<html><head>
<title>Vigilance orange en Isère - Météo-France</title>
<meta name="description" content="Vigilance orange pour orages et pluie en Isère">
</head><body>carte de vigilance orange</body></html>`

func testWeatherClient() *fetchhttp.Client {
	return fetchhttp.New(&http.Client{Timeout: 5 * time.Second}, "test", fetchhttp.Options{
		MaxRetries: 0,
		BaseDelay:  time.Millisecond,
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRot13Letters(t *testing.T) {
	assert.Equal(t, "uryyb", rot13Letters("hello"))
	assert.Equal(t, "hello", rot13Letters(rot13Letters("hello")))
	assert.Equal(t, "nOp-123_xyz", rot13Letters(rot13Letters("nOp-123_xyz")))
	assert.Equal(t, "token123", rot13Letters("gbxra123"), "digits pass through untouched")
}

func TestWeatherFetch_FullAPI(t *testing.T) {
	var seenAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/vigilance", func(w http.ResponseWriter, r *http.Request) {
		// gbxra123 decodes to token123.
		w.Header().Add("Set-Cookie", "mfsession=gbxra123; Path=/; Secure")
		w.Write([]byte(vigilancePage))
	})
	mux.HandleFunc("/v3/warning/dictionary", func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{
			"phenomenons": [{"id":"3","name":"Orages"},{"id":"2","name":"Pluie-inondation"}],
			"colors": [{"id":1,"name":"vert"},{"id":2,"name":"jaune"},{"id":3,"name":"orange"},{"id":4,"name":"rouge"}]
		}`))
	})
	mux.HandleFunc("/v3/warning/currentphenomenons", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("echeance") == "J0" {
			w.Write([]byte(`{"phenomenons_max_colors":[
				{"phenomenon_id":"3","phenomenon_max_color_id":3},
				{"phenomenon_id":"2","phenomenon_max_color_id":2}
			]}`))
			return
		}
		w.Write([]byte(`{"phenomenons_max_colors":[
			{"phenomenon_id":"3","phenomenon_max_color_id":1}
		]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	src := NewWeatherSource(testWeatherClient(), clockwork.NewFakeClock(), discardLogger()).
		WithBaseURLs(server.URL+"/vigilance", server.URL)

	payload := src.Fetch(context.Background())
	require.Equal(t, risks.StatusOnline, payload.Status)
	assert.Equal(t, "Bearer token123", seenAuth, "mfsession cookie is decoded before use")

	require.Len(t, payload.Today, 2)
	assert.Equal(t, "Orages", payload.Today[0].Name, "phenomena sorted most severe first")
	assert.Equal(t, risks.LevelOrange, payload.Today[0].Level)
	assert.True(t, payload.Today[0].Warning)
	assert.Equal(t, risks.LevelJaune, payload.Today[1].Level)

	require.Len(t, payload.Tomorrow, 1)
	assert.Equal(t, risks.LevelVert, payload.Tomorrow[0].Level)
	assert.False(t, payload.Tomorrow[0].Warning)

	assert.Equal(t, risks.LevelOrange, payload.Level, "level follows today's worst phenomenon")
	assert.Contains(t, payload.Hazards, "orages")
}

func TestWeatherFetch_APIDownFallsBackToScrape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/vigilance", func(w http.ResponseWriter, r *http.Request) {
		// No mfsession cookie, so the API leg cannot start.
		w.Write([]byte(vigilancePage))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	src := NewWeatherSource(testWeatherClient(), clockwork.NewFakeClock(), discardLogger()).
		WithBaseURLs(server.URL+"/vigilance", server.URL)

	payload := src.Fetch(context.Background())
	assert.Equal(t, risks.StatusPartial, payload.Status)
	assert.Equal(t, risks.LevelOrange, payload.Level, "level comes from the scraped colour")
	assert.Contains(t, payload.Headline, "Vigilance orange en Isère")
	assert.Contains(t, payload.InfoState, "API indisponible")
	assert.Contains(t, payload.Hazards, "orages")
	assert.Contains(t, payload.Hazards, "inondation")
}

func TestWeatherFetch_PageUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src := NewWeatherSource(testWeatherClient(), clockwork.NewFakeClock(), discardLogger()).
		WithBaseURLs(server.URL, server.URL)

	payload := src.Fetch(context.Background())
	assert.Equal(t, risks.StatusDegraded, payload.Status)
	assert.Equal(t, risks.LevelVert, payload.Level)
	assert.NotEmpty(t, payload.Err)
}

func TestExtractHazards(t *testing.T) {
	hazards := extractHazards("Vigilance orange", "orages et fortes pluies, risque d'inondation")
	assert.Equal(t, []string{"inondation", "orages"}, hazards)

	assert.Empty(t, extractHazards("rien de notable"))
}
