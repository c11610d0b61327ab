package sources

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/geo"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const defaultVigicruesURL = "https://www.vigicrues.gouv.fr"

// fallbackStationCodes lists known stations of the department, so a catalog
// outage never yields an empty survey.
var fallbackStationCodes = []string{
	"W141001001", "W140000101", "W130001002", "W131001002", "W320001002",
	"W283201001", "W283201102", "W114402001", "W274601201", "W274601302",
	"W141001201", "W331501001", "W334000102", "W280402001", "W275000302",
	"W276721102", "W276721401", "W273000102", "W240501001", "W233521001",
	"V150401002", "V151501001", "V340431001", "V342431001",
}

// focusFilters are token sets matched against the normalized station and
// river names; a station matching any set is kept even when its commune
// code is missing.
var focusFilters = [][]string{
	{"pontcharra", "breda"},
	{"chamousset", "pont", "royal", "isere"},
	{"crolles", "isere"},
	{"la", "gache", "isere"},
	{"cheylas", "isere"},
	{"montmelian", "debitmetre", "isere"},
	{"grenoble", "bastille", "isere"},
	{"st", "gervais", "isere"},
	{"domene", "domenon"},
	{"fontaine", "drac"},
	{"pont", "de", "claix", "drac"},
	{"gresse", "vercors", "gresse"},
	{"st", "just", "claix", "bourne"},
	{"meaudre", "meaudret"},
}

// RiverSource surveys the department's hydrometric stations: per-station
// detail and observation lookups fanned out over a bounded pool, commune
// centroid fallback for missing coordinates, and snapping onto the traced
// river network.
type RiverSource struct {
	fetcher  *fetchhttp.Client
	geocoder geo.Geocoder
	snapper  *geo.Snapper
	clock    clockwork.Clock
	log      *slog.Logger

	baseURL       string
	stationCodes  []string
	priorityNames []string
	stationLimit  int
}

func NewRiverSource(fetcher *fetchhttp.Client, geocoder geo.Geocoder, snapper *geo.Snapper, clock clockwork.Clock, log *slog.Logger, priorityNames []string, stationLimit int) *RiverSource {
	lowered := make([]string, 0, len(priorityNames))
	for _, name := range priorityNames {
		lowered = append(lowered, strings.ToLower(name))
	}
	return &RiverSource{
		fetcher:       fetcher,
		geocoder:      geocoder,
		snapper:       snapper,
		clock:         clock,
		log:           log,
		baseURL:       defaultVigicruesURL,
		stationCodes:  fallbackStationCodes,
		priorityNames: lowered,
		stationLimit:  stationLimit,
	}
}

// WithBaseURL overrides the upstream endpoint, for tests.
func (s *RiverSource) WithBaseURL(baseURL string) *RiverSource {
	s.baseURL = baseURL
	return s
}

// WithStationCodes replaces the candidate station list, for tests.
func (s *RiverSource) WithStationCodes(codes []string) *RiverSource {
	s.stationCodes = codes
	return s
}

func (s *RiverSource) Fetch(ctx context.Context) *risks.RiverPayload {
	now := nowUTC(s.clock)

	stations := s.surveyStations(ctx)
	if len(stations) == 0 {
		return &risks.RiverPayload{
			Envelope: degraded(s.baseURL, "no station of the department answered", now),
			Level:    risks.LevelVert,
		}
	}

	sort.SliceStable(stations, func(i, j int) bool {
		if stations[i].Priority != stations[j].Priority {
			return stations[i].Priority
		}
		return stations[i].Name < stations[j].Name
	})
	if s.stationLimit > 0 && len(stations) > s.stationLimit {
		stations = stations[:s.stationLimit]
	}

	payload := &risks.RiverPayload{
		Envelope: online(s.baseURL, now),
		Stations: stations,
		Reaches:  groupReaches(stations),
	}
	levels := make([]risks.Level, len(stations))
	for i, st := range stations {
		levels[i] = st.Level
	}
	payload.Level = risks.HighestLevel(levels...)
	return payload
}

// surveyStations fetches every candidate station over a bounded worker
// pool. Once the station limit is met the context is cancelled; stragglers
// are discarded.
func (s *RiverSource) surveyStations(ctx context.Context) []risks.Station {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	target := len(s.stationCodes)
	if s.stationLimit > 0 && s.stationLimit < target {
		target = s.stationLimit
	}
	workers := poolSize(target)

	codes := make(chan string)
	results := make(chan risks.Station)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for code := range codes {
				station, ok := s.fetchStation(ctx, code)
				if !ok {
					continue
				}
				select {
				case results <- station:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(codes)
		seen := make(map[string]bool, len(s.stationCodes))
		for _, code := range s.stationCodes {
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			select {
			case codes <- code:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var stations []risks.Station
	for station := range results {
		stations = append(stations, station)
		if s.stationLimit > 0 && len(stations) >= s.stationLimit {
			cancel()
			break
		}
	}
	// Drain so the workers can exit.
	for range results {
	}
	return stations
}

// poolSize bounds the station survey pool between 4 and 10 workers, scaled
// to the lookup target up to 24.
func poolSize(target int) int {
	if target > 24 {
		target = 24
	}
	if target < 4 {
		target = 4
	}
	if target > 10 {
		target = 10
	}
	return target
}

func (s *RiverSource) fetchStation(ctx context.Context, code string) (risks.Station, bool) {
	var details struct {
		LbStationHydro     string `json:"LbStationHydro"`
		LbEntVigiCru       string `json:"LbEntVigiCru"`
		LbCoursEau         string `json:"LbCoursEau"`
		CdCommune          string `json:"CdCommune"`
		CoordXStationHydro any    `json:"CoordXStationHydro"`
		CoordYStationHydro any    `json:"CoordYStationHydro"`
	}
	detailURL := fmt.Sprintf("%s/services/station.json?CdStationHydro=%s", s.baseURL, url.QueryEscape(code))
	if err := s.fetcher.GetJSON(ctx, detailURL, nil, &details); err != nil {
		s.log.Debug("station detail unavailable", "code", code, "err", err)
		return risks.Station{}, false
	}

	name := details.LbStationHydro
	if name == "" {
		name = details.LbEntVigiCru
	}
	if name == "" {
		name = "Station Vigicrues"
	}
	river := details.LbCoursEau

	if !s.keepStation(details.CdCommune, code, name, river) {
		return risks.Station{}, false
	}

	height, delta, observedAt := s.fetchObservation(ctx, code)
	blob := strings.ToLower(name + " " + river)

	station := risks.Station{
		Code:       code,
		Name:       name,
		River:      river,
		HeightM:    round2(height),
		DeltaM:     round3(delta),
		Level:      risks.LevelFromDelta(math.Abs(delta)),
		Priority:   strings.Contains(blob, "grenoble") || containsAny(blob, s.priorityNames...),
		Commune:    details.CdCommune,
		ObservedAt: observedAt,
		Link:       fmt.Sprintf("%s/station/%s", s.baseURL, code),
	}
	station.Lat, station.Lon = s.resolveCoordinates(ctx, details.CoordYStationHydro, details.CoordXStationHydro, details.CdCommune)
	s.snapStation(&station)
	return station, true
}

// keepStation keeps stations of the department (commune code prefix 38),
// known catalog codes, and stations matching a focus filter.
func (s *RiverSource) keepStation(communeCode, stationCode, name, river string) bool {
	if strings.HasPrefix(communeCode, "38") {
		return true
	}
	for _, code := range s.stationCodes {
		if code == stationCode {
			return true
		}
	}
	haystack := geo.NormalizeName(name + " " + river)
	for _, tokens := range focusFilters {
		if geo.MatchesAllTokens(haystack, tokens) {
			return true
		}
	}
	return false
}

// fetchObservation returns the latest height, the delta against the
// previous reading, and the observation timestamp. Failures read as a flat
// zero observation rather than dropping the station.
func (s *RiverSource) fetchObservation(ctx context.Context, code string) (height, delta float64, observedAt string) {
	var payload struct {
		Serie struct {
			ObssHydro []struct {
				DtObsHydro  string   `json:"DtObsHydro"`
				ResObsHydro *float64 `json:"ResObsHydro"`
			} `json:"ObssHydro"`
		} `json:"Serie"`
	}
	obsURL := fmt.Sprintf("%s/services/observations.json/index.php?CdStationHydro=%s&FormatDate=iso", s.baseURL, url.QueryEscape(code))
	if err := s.fetcher.GetJSON(ctx, obsURL, nil, &payload); err != nil {
		return 0, 0, ""
	}

	type reading struct {
		at     string
		height float64
	}
	var valid []reading
	for _, obs := range payload.Serie.ObssHydro {
		if obs.ResObsHydro == nil {
			continue
		}
		valid = append(valid, reading{at: obs.DtObsHydro, height: *obs.ResObsHydro})
	}
	if len(valid) == 0 {
		return 0, 0, ""
	}

	latest := valid[len(valid)-1]
	previous := latest
	if len(valid) >= 2 {
		previous = valid[len(valid)-2]
	}
	return latest.height, latest.height - previous.height, latest.at
}

// resolveCoordinates keeps plausible upstream coordinates and falls back to
// the commune centroid otherwise.
func (s *RiverSource) resolveCoordinates(ctx context.Context, rawLat, rawLon any, communeCode string) (float64, float64) {
	lat, latOK := asFloat(rawLat)
	lon, lonOK := asFloat(rawLon)
	if latOK && lonOK && geo.PlausibleCoordinates(lat, lon) {
		return lat, lon
	}

	if communeCode != "" && s.geocoder != nil {
		if centre, err := s.geocoder.CommuneCentre(ctx, communeCode); err == nil {
			return centre.Lat, centre.Lon
		}
	}
	return 0, 0
}

// snapStation pulls the station onto the closest vertex of a matching
// traced segment. Stations with no match keep their coordinates.
func (s *RiverSource) snapStation(station *risks.Station) {
	if s.snapper == nil || station.River == "" {
		return
	}
	result, ok := s.snapper.Snap(station.River, geo.Point{Lat: station.Lat, Lon: station.Lon})
	if !ok {
		return
	}
	station.Lat = result.Point.Lat
	station.Lon = result.Point.Lon
	station.Reach = result.Segment
	station.ReachCode = result.Code
}

// groupReaches folds the stations into per-river groups carrying the
// highest level among their stations.
func groupReaches(stations []risks.Station) []risks.Reach {
	index := make(map[string]*risks.Reach)
	for _, st := range stations {
		key := st.River
		if key == "" {
			key = "Cours d'eau non précisé"
		}
		reach, ok := index[key]
		if !ok {
			reach = &risks.Reach{
				Code:  reachCode(key),
				Name:  key,
				Level: risks.LevelVert,
			}
			index[key] = reach
		}
		reach.Stations = append(reach.Stations, st.Code)
		reach.Level = risks.HighestLevel(reach.Level, st.Level)
	}

	reaches := make([]risks.Reach, 0, len(index))
	for _, reach := range index {
		reaches = append(reaches, *reach)
	}
	sort.Slice(reaches, func(i, j int) bool { return reaches[i].Name < reaches[j].Name })
	return reaches
}

var reachCodePattern = strings.NewReplacer(" ", "", "'", "", "-", "")

func reachCode(name string) string {
	code := strings.ToUpper(geo.NormalizeName(name))
	code = reachCodePattern.Replace(code)
	if len(code) > 12 {
		code = code[:12]
	}
	if code == "" {
		return "ISERE"
	}
	return code
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		var parsed float64
		if _, err := fmt.Sscanf(v, "%g", &parsed); err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
