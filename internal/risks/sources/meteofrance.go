package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const (
	defaultVigilanceURL = "https://vigilance.meteofrance.fr/fr/isere"
	defaultWSFTURL      = "https://rwg.meteofrance.com/wsft"
)

var (
	titlePattern     = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	descPattern      = regexp.MustCompile(`(?i)<meta name="description" content="(.*?)"`)
	colorPattern     = regexp.MustCompile(`(?i)vigilance (verte|jaune|orange|rouge)`)
	mfsessionPattern = regexp.MustCompile(`mfsession=([^;]+)`)
)

// hazardKeywords maps dashboard hazard labels to the keywords that reveal
// them in bulletin text.
var hazardKeywords = map[string][]string{
	"inondation":    {"inondation", "pluie-inondation", "pluie"},
	"vent violent":  {"vent"},
	"neige-verglas": {"neige", "verglas"},
	"orages":        {"orage"},
	"canicule":      {"canicule", "chaleur"},
	"grand froid":   {"froid", "grand froid"},
	"avalanches":    {"avalanche"},
}

// WeatherSource reads the departmental vigilance page and, when the session
// token can be harvested, the WSFT warning API behind it. The page alone
// yields a partial payload; the API adds per-phenomenon levels and bulletin
// extracts for today and tomorrow.
type WeatherSource struct {
	fetcher      *fetchhttp.Client
	clock        clockwork.Clock
	log          *slog.Logger
	vigilanceURL string
	wsftURL      string
	domain       string
}

func NewWeatherSource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger) *WeatherSource {
	return &WeatherSource{
		fetcher:      fetcher,
		clock:        clock,
		log:          log,
		vigilanceURL: defaultVigilanceURL,
		wsftURL:      defaultWSFTURL,
		domain:       "38",
	}
}

// WithBaseURLs overrides the upstream endpoints, for tests.
func (s *WeatherSource) WithBaseURLs(vigilanceURL, wsftURL string) *WeatherSource {
	s.vigilanceURL = vigilanceURL
	s.wsftURL = wsftURL
	return s
}

func (s *WeatherSource) Fetch(ctx context.Context) *risks.WeatherPayload {
	now := nowUTC(s.clock)

	page, err := s.fetcher.GetText(ctx, s.vigilanceURL)
	if err != nil {
		return &risks.WeatherPayload{
			Envelope: degraded(s.vigilanceURL, err.Error(), now),
			Level:    risks.LevelVert,
		}
	}

	payload := &risks.WeatherPayload{
		Envelope: online(s.vigilanceURL, now),
		Level:    risks.LevelVert,
		Headline: "Vigilance Météo Isère",
	}
	if m := titlePattern.FindStringSubmatch(page); m != nil {
		payload.Headline = stripTags(m[1])
	}
	if m := descPattern.FindStringSubmatch(page); m != nil {
		payload.InfoState = strings.ReplaceAll(m[1], "&#039;", "'")
	}
	if m := colorPattern.FindStringSubmatch(page); m != nil {
		payload.Level = risks.ParseLevel(strings.Replace(strings.ToLower(m[1]), "verte", "vert", 1))
	}
	payload.Hazards = extractHazards(payload.Headline, payload.InfoState)

	if err := s.enrichFromAPI(ctx, payload); err != nil {
		s.log.Warn("wsft api unavailable, serving scraped summary", "err", err)
		payload.Status = risks.StatusPartial
		payload.InfoState = fmt.Sprintf("données de synthèse seules (API indisponible: %v)", err)
		return payload
	}

	if len(payload.Today) > 0 {
		payload.Level = phenomenaLevel(payload.Today)
	} else if len(payload.Tomorrow) > 0 {
		payload.Level = phenomenaLevel(payload.Tomorrow)
	}
	return payload
}

// enrichFromAPI harvests the session token from the vigilance page cookies
// and pulls the phenomenon dictionary plus today's and tomorrow's warnings.
func (s *WeatherSource) enrichFromAPI(ctx context.Context, payload *risks.WeatherPayload) error {
	token, err := s.harvestSessionToken(ctx)
	if err != nil {
		return err
	}

	var dict struct {
		Phenomenons []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"phenomenons"`
		Colors []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"colors"`
	}
	if err := s.wsftGet(ctx, token, "v3", "warning/dictionary", url.Values{
		"domain":       {"FRA"},
		"warning_type": {"vigilance"},
	}, &dict); err != nil {
		return err
	}

	phenomenonNames := make(map[string]string, len(dict.Phenomenons))
	for _, item := range dict.Phenomenons {
		phenomenonNames[item.ID] = item.Name
	}
	colorNames := make(map[int]string, len(dict.Colors))
	for _, item := range dict.Colors {
		colorNames[item.ID] = item.Name
	}

	today, err := s.fetchWarnings(ctx, token, "J0", phenomenonNames, colorNames)
	if err != nil {
		return err
	}
	tomorrow, err := s.fetchWarnings(ctx, token, "J1", phenomenonNames, colorNames)
	if err != nil {
		return err
	}

	payload.Today = today
	payload.Tomorrow = tomorrow
	payload.Hazards = mergeHazards(payload.Hazards, today, tomorrow)
	return nil
}

func (s *WeatherSource) fetchWarnings(ctx context.Context, token, echeance string, phenomenonNames map[string]string, colorNames map[int]string) ([]risks.Phenomenon, error) {
	var warnings struct {
		PhenomenonsMaxColors []struct {
			PhenomenonID string `json:"phenomenon_id"`
			MaxColorID   int    `json:"phenomenon_max_color_id"`
		} `json:"phenomenons_max_colors"`
	}
	if err := s.wsftGet(ctx, token, "v3", "warning/currentphenomenons", url.Values{
		"domain":       {s.domain},
		"warning_type": {"vigilance"},
		"formatDate":   {"timestamp"},
		"echeance":     {echeance},
		"depth":        {"1"},
	}, &warnings); err != nil {
		return nil, err
	}

	phenomena := make([]risks.Phenomenon, 0, len(warnings.PhenomenonsMaxColors))
	for _, item := range warnings.PhenomenonsMaxColors {
		name := phenomenonNames[item.PhenomenonID]
		if name == "" {
			name = "Phénomène " + item.PhenomenonID
		}
		colorID := item.MaxColorID
		if colorID < 1 {
			colorID = 1
		}
		phenomena = append(phenomena, risks.Phenomenon{
			Name:    name,
			Level:   risks.ParseLevel(colorNames[colorID]),
			Warning: colorID >= 2,
		})
	}
	sort.SliceStable(phenomena, func(i, j int) bool {
		return phenomena[i].Level.Rank() > phenomena[j].Level.Rank()
	})
	return phenomena, nil
}

func (s *WeatherSource) wsftGet(ctx context.Context, token, version, path string, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/%s/%s?%s", s.wsftURL, version, path, params.Encode())
	headers := map[string]string{"Authorization": "Bearer " + token}
	return s.fetcher.GetJSON(ctx, endpoint, headers, out)
}

// harvestSessionToken reads the vigilance page response cookies and decodes
// the mfsession value, which is ROT13 over ASCII letters only.
func (s *WeatherSource) harvestSessionToken(ctx context.Context) (string, error) {
	_, header, err := s.fetcher.GetWithHeaders(ctx, s.vigilanceURL, nil)
	if err != nil {
		return "", fmt.Errorf("vigilance page: %w", err)
	}

	joined := strings.Join(header.Values("Set-Cookie"), "; ")
	m := mfsessionPattern.FindStringSubmatch(joined)
	if m == nil {
		return "", fmt.Errorf("mfsession cookie not found")
	}
	return rot13Letters(m[1]), nil
}

// rot13Letters rotates ASCII letters and leaves every other byte untouched.
func rot13Letters(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		default:
			return r
		}
	}, value)
}

func extractHazards(chunks ...string) []string {
	blob := strings.ToLower(strings.Join(chunks, " "))
	var hazards []string
	for label, keywords := range hazardKeywords {
		if containsAny(blob, keywords...) {
			hazards = append(hazards, label)
		}
	}
	sort.Strings(hazards)
	return hazards
}

func mergeHazards(base []string, phenomena ...[]risks.Phenomenon) []string {
	seen := make(map[string]bool, len(base))
	for _, hazard := range base {
		seen[hazard] = true
	}
	for _, list := range phenomena {
		for _, p := range list {
			name := strings.ToLower(p.Name)
			if name != "" {
				seen[name] = true
			}
		}
	}
	merged := make([]string, 0, len(seen))
	for hazard := range seen {
		merged = append(merged, hazard)
	}
	sort.Strings(merged)
	return merged
}

func phenomenaLevel(phenomena []risks.Phenomenon) risks.Level {
	levels := make([]risks.Level, len(phenomena))
	for i, p := range phenomena {
		levels[i] = p.Level
	}
	return risks.HighestLevel(levels...)
}
