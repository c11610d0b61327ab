package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/geo"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const defaultVigieauZonesURL = "https://api.vigieau.beta.gouv.fr/api/zones"

// defaultRestrictionURLs are tried in order; the restriction API has moved
// and renamed its department parameter more than once.
var defaultRestrictionURLs = []string{
	"https://www.vigieau.gouv.fr/api/v1/restrictions?code_departement=38",
	"https://www.vigieau.gouv.fr/api/v1/restrictions?departement=38",
	"https://www.vigieau.gouv.fr/api/restrictions?code_departement=38",
}

// defaultProbePoints cover the main urban areas; the zones endpoint only
// answers point queries.
var defaultProbePoints = []geo.Point{
	{Lat: 45.1885, Lon: 5.7245},
	{Lat: 45.3640, Lon: 5.5920},
	{Lat: 45.3930, Lon: 5.5050},
	{Lat: 45.2100, Lon: 5.6800},
	{Lat: 45.6110, Lon: 5.1500},
	{Lat: 45.5270, Lon: 4.8740},
	{Lat: 45.2980, Lon: 5.6360},
}

// WaterSource reads active drought restrictions. It tries the department
// endpoints first and falls back to probing the zones API with fixed
// points when all of them fail.
type WaterSource struct {
	fetcher         *fetchhttp.Client
	clock           clockwork.Clock
	log             *slog.Logger
	restrictionURLs []string
	zonesURL        string
	probePoints     []geo.Point
}

func NewWaterSource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger) *WaterSource {
	return &WaterSource{
		fetcher:         fetcher,
		clock:           clock,
		log:             log,
		restrictionURLs: defaultRestrictionURLs,
		zonesURL:        defaultVigieauZonesURL,
		probePoints:     defaultProbePoints,
	}
}

// WithURLs overrides the candidate endpoints, for tests.
func (s *WaterSource) WithURLs(restrictionURLs []string, zonesURL string) *WaterSource {
	s.restrictionURLs = restrictionURLs
	s.zonesURL = zonesURL
	return s
}

func (s *WaterSource) Fetch(ctx context.Context) *risks.WaterPayload {
	now := nowUTC(s.clock)

	var lastErr error
	for _, candidate := range s.restrictionURLs {
		body, err := s.fetcher.Get(ctx, candidate, nil)
		if err != nil {
			lastErr = err
			continue
		}
		records, err := decodeRestrictionList(body)
		if err != nil {
			lastErr = err
			continue
		}
		return s.buildPayload(candidate, filterDepartment(records), now)
	}

	records, err := s.probeZones(ctx)
	if err == nil {
		return s.buildPayload(s.zonesURL, records, now)
	}
	if lastErr == nil {
		lastErr = err
	}

	return &risks.WaterPayload{
		Envelope: degraded("https://www.vigieau.gouv.fr", lastErr.Error(), now),
		Level:    risks.LevelVert,
	}
}

// probeZones queries the zones endpoint for each probe point and
// deduplicates the union of the answers.
func (s *WaterSource) probeZones(ctx context.Context) ([]restrictionRecord, error) {
	var entries []restrictionRecord
	seen := make(map[string]bool)
	succeeded := false
	var lastErr error

	for _, point := range s.probePoints {
		query := url.Values{}
		query.Set("lat", fmt.Sprintf("%g", point.Lat))
		query.Set("lon", fmt.Sprintf("%g", point.Lon))

		body, err := s.fetcher.Get(ctx, s.zonesURL+"?"+query.Encode(), nil)
		if err != nil {
			lastErr = err
			continue
		}
		records, err := decodeRestrictionList(body)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded = true

		for _, record := range records {
			key := record.dedupeKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			entries = append(entries, record)
		}
	}

	if !succeeded {
		if lastErr == nil {
			lastErr = fmt.Errorf("no probe point answered")
		}
		return nil, lastErr
	}
	return entries, nil
}

func (s *WaterSource) buildPayload(source string, records []restrictionRecord, at time.Time) *risks.WaterPayload {
	restrictions := make([]risks.WaterRestriction, 0, len(records))
	for _, record := range records {
		gravity := normalizeGravity(record.gravity())
		restrictions = append(restrictions, risks.WaterRestriction{
			Zone:      record.zone(),
			Gravity:   gravity,
			Level:     risks.LevelFromGravity(gravity),
			Measure:   record.measure(),
			StartDate: record.startDate(),
			EndDate:   record.endDate(),
		})
	}

	sort.SliceStable(restrictions, func(i, j int) bool {
		return gravityRank(restrictions[i].Gravity) > gravityRank(restrictions[j].Gravity)
	})
	if len(restrictions) > 20 {
		restrictions = restrictions[:20]
	}

	level := risks.LevelVert
	if len(restrictions) > 0 {
		level = restrictions[0].Level
	}
	return &risks.WaterPayload{
		Envelope:     online(source, at),
		Level:        level,
		Restrictions: restrictions,
	}
}

// restrictionRecord is a raw API record; the API has used several field
// names for the same facts across versions.
type restrictionRecord map[string]any

func (r restrictionRecord) stringField(keys ...string) string {
	for _, key := range keys {
		if value, ok := r[key]; ok {
			if str, ok := value.(string); ok && strings.TrimSpace(str) != "" {
				return strings.TrimSpace(str)
			}
		}
	}
	return ""
}

func (r restrictionRecord) zone() string {
	if zone := r.stringField("nom_zone", "zone", "nomZoneAlerte", "nom_alerte", "nom", "name"); zone != "" {
		return zone
	}
	return "Zone Isère"
}

func (r restrictionRecord) gravity() string {
	return r.stringField("niveau_gravite", "niveau", "niveauAlerte", "libelle_niveau_gravite", "severity")
}

func (r restrictionRecord) measure() string {
	if measure := r.stringField("mesure", "restriction", "libelle_mesure", "mesurePrincipale", "description"); measure != "" {
		return measure
	}
	return "Mesure de restriction d'eau active"
}

func (r restrictionRecord) startDate() string {
	return r.stringField("date_debut", "debut_validite", "dateDebut")
}

func (r restrictionRecord) endDate() string {
	return r.stringField("date_fin", "fin_validite", "dateFin")
}

func (r restrictionRecord) department() string {
	return r.stringField("code_departement", "departement", "codeDepartement")
}

func (r restrictionRecord) dedupeKey() string {
	id := r.stringField("id")
	return id + "|" + r.zone() + "|" + r.gravity()
}

// decodeRestrictionList accepts either a bare array or an object wrapping
// the array under one of the known collection keys.
func decodeRestrictionList(body []byte) ([]restrictionRecord, error) {
	var asList []restrictionRecord
	if err := json.Unmarshal(body, &asList); err == nil {
		return asList, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(body, &asObject); err != nil {
		return nil, fmt.Errorf("unexpected restrictions shape: %w", err)
	}
	for _, key := range []string{"restrictions", "data", "results", "items", "records"} {
		raw, ok := asObject[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &asList); err == nil {
			return asList, nil
		}
	}
	return nil, nil
}

func filterDepartment(records []restrictionRecord) []restrictionRecord {
	var kept []restrictionRecord
	for _, record := range records {
		dept := record.department()
		if dept != "" && dept != "38" {
			continue
		}
		kept = append(kept, record)
	}
	return kept
}

func normalizeGravity(value string) string {
	raw := strings.ToLower(strings.TrimSpace(value))
	switch {
	case strings.Contains(raw, "crise"):
		return "crise"
	case strings.Contains(raw, "renforc"):
		return "alerte renforcée"
	case strings.Contains(raw, "alerte"):
		return "alerte"
	case strings.Contains(raw, "vigilance"):
		return "vigilance"
	default:
		return "non définie"
	}
}

func gravityRank(gravity string) int {
	switch gravity {
	case "crise":
		return 4
	case "alerte renforcée":
		return 3
	case "alerte":
		return 2
	case "vigilance":
		return 1
	default:
		return 0
	}
}
