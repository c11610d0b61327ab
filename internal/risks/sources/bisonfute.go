package sources

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const defaultBisonURL = "https://www.bison-fute.gouv.fr/previsions/previsions.json"

// TrafficSource reads the national traffic forecast grid. The grid carries
// one colour-letter pair per day nationally and per department.
type TrafficSource struct {
	fetcher *fetchhttp.Client
	clock   clockwork.Clock
	log     *slog.Logger
	baseURL string
	dept    string
}

func NewTrafficSource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger) *TrafficSource {
	return &TrafficSource{
		fetcher: fetcher,
		clock:   clock,
		log:     log,
		baseURL: defaultBisonURL,
		dept:    "38",
	}
}

// WithBaseURL overrides the upstream endpoint, for tests.
func (s *TrafficSource) WithBaseURL(baseURL string) *TrafficSource {
	s.baseURL = baseURL
	return s
}

func (s *TrafficSource) Fetch(ctx context.Context) *risks.TrafficPayload {
	now := nowUTC(s.clock)

	var grid struct {
		Days      []string   `json:"days"`
		National  []string   `json:"national"`
		DeptsLine []string   `json:"deptsLine"`
		Values    [][]string `json:"values"`
	}
	if err := s.fetcher.GetJSON(ctx, s.baseURL, nil, &grid); err != nil {
		return &risks.TrafficPayload{
			Envelope: degraded(s.baseURL, err.Error(), now),
			Level:    risks.LevelVert,
			Today:    unknownTrafficDay(),
			Tomorrow: unknownTrafficDay(),
		}
	}
	if len(grid.Days) == 0 || len(grid.National) == 0 {
		return &risks.TrafficPayload{
			Envelope: degraded(s.baseURL, "empty forecast grid", now),
			Level:    risks.LevelVert,
			Today:    unknownTrafficDay(),
			Tomorrow: unknownTrafficDay(),
		}
	}

	today := now.Format("02/01/2006")
	dayIndex := 0
	for i, day := range grid.Days {
		if day == today {
			dayIndex = i
			break
		}
	}
	tomorrowIndex := dayIndex + 1
	if tomorrowIndex > len(grid.Days)-1 {
		tomorrowIndex = len(grid.Days) - 1
	}

	deptIndex := -1
	for i, dept := range grid.DeptsLine {
		if dept == s.dept {
			deptIndex = i
			break
		}
	}

	pickDay := func(index int) risks.TrafficDay {
		day := risks.TrafficDay{
			Date:     grid.Days[index],
			National: parseTrafficPair("V,V"),
			Local:    risks.TrafficFlow{Departure: "inconnu", Return: "inconnu"},
		}
		if index < len(grid.National) {
			day.National = parseTrafficPair(grid.National[index])
		}
		if deptIndex >= 0 && index < len(grid.Values) && deptIndex < len(grid.Values[index]) {
			day.Local = parseTrafficPair(grid.Values[index][deptIndex])
		}
		return day
	}

	payload := &risks.TrafficPayload{
		Envelope: online(s.baseURL, now),
		Today:    pickDay(dayIndex),
		Tomorrow: pickDay(tomorrowIndex),
	}
	payload.Level = risks.HighestLevel(
		trafficColorLevel(payload.Today.Local.Departure),
		trafficColorLevel(payload.Today.Local.Return),
	)
	return payload
}

// parseTrafficPair splits a "departure,return" colour letter pair.
func parseTrafficPair(pair string) risks.TrafficFlow {
	departure, returnCode, found := strings.Cut(pair, ",")
	if !found {
		returnCode = "V"
	}
	return risks.TrafficFlow{
		Departure: trafficColorLabel(departure),
		Return:    trafficColorLabel(returnCode),
	}
}

func trafficColorLabel(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "V":
		return "vert"
	case "J":
		return "jaune"
	case "O":
		return "orange"
	case "R":
		return "rouge"
	case "N":
		return "noir"
	default:
		return "inconnu"
	}
}

// trafficColorLevel folds the forecast labels onto the vigilance scale,
// black counting as rouge.
func trafficColorLevel(label string) risks.Level {
	if label == "noir" {
		return risks.LevelRouge
	}
	return risks.ParseLevel(label)
}

func unknownTrafficDay() risks.TrafficDay {
	unknown := risks.TrafficFlow{Departure: "inconnu", Return: "inconnu"}
	return risks.TrafficDay{Date: "-", National: unknown, Local: unknown}
}
