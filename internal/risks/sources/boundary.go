package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const defaultBoundaryURL = "https://france-geojson.gregoiredavid.fr/repo/departements/38-isere/departement-38-isere.geojson"

// fallbackBoundary is a coarse outline of the department, good enough for
// the map overlay when the live contour cannot be fetched.
const fallbackBoundary = `{"type":"Polygon","coordinates":[[[5.09,45.07],[5.63,45.61],[6.45,45.28],[6.35,44.84],[5.73,44.63],[5.15,44.82],[5.09,45.07]]]}`

// BoundarySource fetches the department contour used as the map overlay.
type BoundarySource struct {
	fetcher *fetchhttp.Client
	clock   clockwork.Clock
	log     *slog.Logger
	baseURL string
}

func NewBoundarySource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger) *BoundarySource {
	return &BoundarySource{
		fetcher: fetcher,
		clock:   clock,
		log:     log,
		baseURL: defaultBoundaryURL,
	}
}

// WithBaseURL overrides the upstream endpoint, for tests.
func (s *BoundarySource) WithBaseURL(baseURL string) *BoundarySource {
	s.baseURL = baseURL
	return s
}

func (s *BoundarySource) Fetch(ctx context.Context) *risks.BoundaryPayload {
	now := nowUTC(s.clock)

	var raw struct {
		Geometry json.RawMessage `json:"geometry"`
	}
	err := s.fetcher.GetJSON(ctx, s.baseURL, nil, &raw)
	if err == nil {
		var geometry struct {
			Type string `json:"type"`
		}
		if unmarshalErr := json.Unmarshal(raw.Geometry, &geometry); unmarshalErr != nil {
			err = fmt.Errorf("boundary geometry: %w", unmarshalErr)
		} else if geometry.Type != "Polygon" && geometry.Type != "MultiPolygon" {
			err = fmt.Errorf("unexpected geometry type %q", geometry.Type)
		}
	}
	if err != nil {
		s.log.Warn("department boundary unavailable, using built-in outline", "err", err)
		payload := &risks.BoundaryPayload{
			Envelope: partial(s.baseURL, now),
			Geometry: json.RawMessage(fallbackBoundary),
			Origin:   "fallback",
		}
		payload.Err = err.Error()
		return payload
	}

	return &risks.BoundaryPayload{
		Envelope: online(s.baseURL, now),
		Geometry: raw.Geometry,
		Origin:   "live",
	}
}
