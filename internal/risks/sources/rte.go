package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

// defaultPowerURL serves the real-time national generation/consumption mix
// published by RTE through the ODRé open data portal.
const defaultPowerURL = "https://odre.opendatasoft.com/api/records/1.0/search/"

// PowerSource estimates the national electricity margin from the latest
// éCO2mix record. The margin is total generation minus consumption;
// thresholds turn it into a risk level for the dashboard.
type PowerSource struct {
	fetcher *fetchhttp.Client
	clock   clockwork.Clock
	log     *slog.Logger
	baseURL string
}

func NewPowerSource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger) *PowerSource {
	return &PowerSource{
		fetcher: fetcher,
		clock:   clock,
		log:     log,
		baseURL: defaultPowerURL,
	}
}

// WithBaseURL overrides the upstream endpoint, for tests.
func (s *PowerSource) WithBaseURL(baseURL string) *PowerSource {
	s.baseURL = baseURL
	return s
}

func (s *PowerSource) Fetch(ctx context.Context) *risks.PowerPayload {
	now := nowUTC(s.clock)

	query := url.Values{}
	query.Set("dataset", "eco2mix-national-tr")
	query.Set("rows", "12")
	query.Set("sort", "date_heure")

	var response struct {
		Records []struct {
			Fields struct {
				DateHeure    string   `json:"date_heure"`
				Consommation *float64 `json:"consommation"`
				Nucleaire    *float64 `json:"nucleaire"`
				Hydraulique  *float64 `json:"hydraulique"`
				Gaz          *float64 `json:"gaz"`
				Charbon      *float64 `json:"charbon"`
				Fioul        *float64 `json:"fioul"`
				Solaire      *float64 `json:"solaire"`
				Eolien       *float64 `json:"eolien"`
				Bioenergies  *float64 `json:"bioenergies"`
			} `json:"fields"`
		} `json:"records"`
	}
	endpoint := fmt.Sprintf("%s?%s", s.baseURL, query.Encode())
	if err := s.fetcher.GetJSON(ctx, endpoint, nil, &response); err != nil {
		return &risks.PowerPayload{
			Envelope: degraded(s.baseURL, err.Error(), now),
			Level:    risks.LevelVert,
			Message:  "marge électrique indisponible",
		}
	}

	// Real-time records trickle in; the newest rows often miss the
	// consumption figure, so walk back to the first complete one.
	for _, record := range response.Records {
		fields := record.Fields
		if fields.Consommation == nil {
			continue
		}
		generation := sumMW(fields.Nucleaire, fields.Hydraulique, fields.Gaz,
			fields.Charbon, fields.Fioul, fields.Solaire, fields.Eolien, fields.Bioenergies)
		margin := generation - *fields.Consommation
		level := powerLevel(margin)
		return &risks.PowerPayload{
			Envelope:  online(s.baseURL, now),
			MarginMW:  margin,
			Level:     level,
			Message:   powerMessage(level, margin),
			HorizonAt: fields.DateHeure,
		}
	}

	return &risks.PowerPayload{
		Envelope: degraded(s.baseURL, "no complete generation record available", now),
		Level:    risks.LevelVert,
		Message:  "marge électrique indisponible",
	}
}

func sumMW(values ...*float64) float64 {
	var total float64
	for _, value := range values {
		if value != nil {
			total += *value
		}
	}
	return total
}

func powerLevel(marginMW float64) risks.Level {
	switch {
	case marginMW >= 3000:
		return risks.LevelVert
	case marginMW >= 1000:
		return risks.LevelJaune
	case marginMW >= 0:
		return risks.LevelOrange
	default:
		return risks.LevelRouge
	}
}

func powerMessage(level risks.Level, marginMW float64) string {
	switch level {
	case risks.LevelRouge:
		return fmt.Sprintf("déficit de production estimé à %.0f MW", -marginMW)
	case risks.LevelOrange:
		return fmt.Sprintf("marge électrique très réduite (%.0f MW)", marginMW)
	case risks.LevelJaune:
		return fmt.Sprintf("marge électrique sous surveillance (%.0f MW)", marginMW)
	default:
		return fmt.Sprintf("marge électrique confortable (%.0f MW)", marginMW)
	}
}
