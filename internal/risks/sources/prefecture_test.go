package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspecout/ope-protec/internal/risks"
)

func TestNewsFetch_SortsAndLimits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Actualités</title>
<item>
	<title>Exercice de sécurité civile</title>
	<description>Un exercice inondation est organisé jeudi.</description>
	<link>https://example.test/a</link>
	<pubDate>Mon, 10 Aug 2026 08:00:00 +0200</pubDate>
</item>
<item>
	<title>Vigilance orages</title>
	<description>De violents orages sont attendus ce soir.</description>
	<link>https://example.test/b</link>
	<pubDate>Wed, 12 Aug 2026 18:00:00 +0200</pubDate>
</item>
</channel></rss>`)
	}))
	defer server.Close()

	src := NewNewsSource(testWeatherClient(), clockwork.NewFakeClock(), discardLogger(), 0).
		WithFeedURL(server.URL)
	payload := src.Fetch(context.Background())

	require.Equal(t, risks.StatusOnline, payload.Status)
	require.Len(t, payload.Items, 2)
	assert.Equal(t, "Vigilance orages", payload.Items[0].Title, "newest first")
	assert.Contains(t, payload.Items[0].Hazards, "orages")
	assert.Contains(t, payload.Items[1].Hazards, "inondation")
}

func TestNewsFetch_TitleFallbacks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Alerte crue du Drac - Les services de l'État en Isère</title></head></html>`))
	})
	var feedURL string
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Actualités</title>
<item>
	<title></title>
	<link>%s/article</link>
</item>
<item>
	<title></title>
	<link>%s/actualites/plan-canicule-active</link>
</item>
</channel></rss>`, feedURL, feedURL)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	feedURL = server.URL

	src := NewNewsSource(testWeatherClient(), clockwork.NewFakeClock(), discardLogger(), 0).
		WithFeedURL(server.URL + "/feed")
	payload := src.Fetch(context.Background())

	require.Len(t, payload.Items, 2)
	assert.Equal(t, "Alerte crue du Drac", payload.Items[0].Title,
		"article page title is cleaned of the site suffix")
	assert.Equal(t, "plan canicule active", payload.Items[1].Title,
		"unreachable article falls back to the link slug")
}

func TestNewsFetch_FeedDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src := NewNewsSource(testWeatherClient(), clockwork.NewFakeClock(), discardLogger(), 0).
		WithFeedURL(server.URL)
	payload := src.Fetch(context.Background())
	assert.Equal(t, risks.StatusDegraded, payload.Status)
}

func TestParsePublished(t *testing.T) {
	parsed := parsePublished("Mon, 10 Aug 2026 08:00:00 +0200")
	assert.Equal(t, time.Date(2026, 8, 10, 6, 0, 0, 0, time.UTC), parsed)

	parsed = parsePublished("2026-08-10")
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), parsed)

	assert.True(t, parsePublished("n'importe quoi").IsZero())
	assert.True(t, parsePublished("").IsZero())
}

func TestTitleFromSlug(t *testing.T) {
	assert.Equal(t, "plan canicule active", titleFromSlug("https://example.test/actualites/plan-canicule-active"))
	assert.Equal(t, "", titleFromSlug("https://example.test/"))
}
