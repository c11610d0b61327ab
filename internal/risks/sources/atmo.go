package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const defaultAtmoURL = "https://www.atmo-auvergnerhonealpes.fr/air-commune/grenoble/38185/indice-atmo"

var drupalSettingsPattern = regexp.MustCompile(`(?s)<script type="application/json" data-drupal-selector="drupal-settings-json">(.*?)</script>`)

// AirSource scrapes the regional air quality page. The page embeds its
// dataviz payload as Drupal settings JSON, which carries the ATMO index per
// forecast date.
type AirSource struct {
	fetcher *fetchhttp.Client
	clock   clockwork.Clock
	log     *slog.Logger
	baseURL string
	city    string
}

func NewAirSource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger) *AirSource {
	return &AirSource{
		fetcher: fetcher,
		clock:   clock,
		log:     log,
		baseURL: defaultAtmoURL,
		city:    "Grenoble",
	}
}

// WithBaseURL overrides the upstream endpoint, for tests.
func (s *AirSource) WithBaseURL(baseURL string) *AirSource {
	s.baseURL = baseURL
	return s
}

func (s *AirSource) Fetch(ctx context.Context) *risks.AirQualityPayload {
	now := nowUTC(s.clock)

	page, err := s.fetcher.GetText(ctx, s.baseURL)
	if err != nil {
		return &risks.AirQualityPayload{
			Envelope: degraded(s.baseURL, err.Error(), now),
			Level:    risks.LevelVert,
			City:     s.city,
		}
	}

	settings, err := extractDrupalSettings(page)
	if err != nil {
		return &risks.AirQualityPayload{
			Envelope: degraded(s.baseURL, err.Error(), now),
			Level:    risks.LevelVert,
			City:     s.city,
		}
	}

	dates := make([]string, 0, len(settings.Dataviz.Indices))
	for date := range settings.Dataviz.Indices {
		dates = append(dates, date)
	}
	if len(dates) == 0 {
		return &risks.AirQualityPayload{
			Envelope: degraded(s.baseURL, "no air quality index published", now),
			Level:    risks.LevelVert,
			City:     s.city,
		}
	}
	sort.Strings(dates)

	buildDay := func(date string) risks.AirDay {
		entry := settings.Dataviz.Indices[date]
		return risks.AirDay{
			Date:    date,
			Index:   entry.IndiceAtmo,
			Level:   risks.LevelFromAirIndex(entry.IndiceAtmo),
			Comment: settings.Dataviz.Comments[date],
		}
	}

	payload := &risks.AirQualityPayload{
		Envelope: online(s.baseURL, now),
		City:     s.city,
		Today:    buildDay(dates[0]),
		Episode:  settings.Dataviz.HasEpisodeInProgress,
	}
	if len(dates) > 1 {
		payload.Tomorrow = buildDay(dates[1])
	}
	payload.Level = payload.Today.Level
	return payload
}

type drupalSettings struct {
	Dataviz struct {
		Indices map[string]struct {
			IndiceAtmo int `json:"indice_atmo"`
		} `json:"indices"`
		Comments             map[string]string `json:"comments"`
		HasEpisodeInProgress bool              `json:"hasEpisodeInProgress"`
	} `json:"dataviz"`
}

func extractDrupalSettings(page string) (*drupalSettings, error) {
	m := drupalSettingsPattern.FindStringSubmatch(page)
	if m == nil {
		return nil, errNoDrupalSettings
	}
	var settings drupalSettings
	if err := json.Unmarshal([]byte(m[1]), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
