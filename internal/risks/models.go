package risks

import (
	"encoding/json"
	"time"
)

// Status describes how trustworthy a source payload is.
type Status string

const (
	// StatusOnline means the payload comes from a successful live fetch.
	StatusOnline Status = "online"
	// StatusPartial means the fetch succeeded but part of the upstream
	// answer was unavailable.
	StatusPartial Status = "partial"
	// StatusStale means the fetch failed and the payload is a cached copy.
	StatusStale Status = "stale"
	// StatusDegraded means the fetch failed with no cached copy to fall
	// back on; only placeholder fields are populated.
	StatusDegraded Status = "degraded"
)

// Envelope carries the per-source metadata shared by every payload.
type Envelope struct {
	Status      Status    `json:"status"`
	Source      string    `json:"source"`
	FetchedAt   time.Time `json:"fetched_at"`
	Err         string    `json:"error,omitempty"`
	StaleReason string    `json:"stale_reason,omitempty"`
	StaleAt     time.Time `json:"stale_at,omitempty"`
}

// Usable reports whether the payload carries real data worth caching.
func (e *Envelope) Usable() bool {
	return e.Status == StatusOnline || e.Status == StatusPartial
}

// MarkStale downgrades a cached copy served after a failed refresh.
func (e *Envelope) MarkStale(reason string, at time.Time) {
	e.Status = StatusStale
	e.StaleReason = reason
	e.StaleAt = at
}

// FailureReason returns the fetch error recorded on a degraded payload.
func (e *Envelope) FailureReason() string {
	return e.Err
}

// Phenomenon is a single weather vigilance hazard and its level.
type Phenomenon struct {
	Name    string   `json:"name"`
	Level   Level    `json:"level"`
	Warning bool     `json:"warning"`
	Details []string `json:"details,omitempty"`
}

// WeatherPayload summarises the departmental weather vigilance bulletin.
type WeatherPayload struct {
	Envelope
	Level     Level        `json:"level"`
	Headline  string       `json:"headline,omitempty"`
	InfoState string       `json:"info_state,omitempty"`
	Hazards   []string     `json:"hazards,omitempty"`
	Today     []Phenomenon `json:"today"`
	Tomorrow  []Phenomenon `json:"tomorrow"`
}

// Station is a single hydrometric station observation.
type Station struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	River      string  `json:"river,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	HeightM    float64 `json:"height_m"`
	DeltaM     float64 `json:"delta_m"`
	Level      Level   `json:"level"`
	Priority   bool    `json:"is_priority"`
	Commune    string  `json:"commune_code,omitempty"`
	Reach      string  `json:"reach,omitempty"`
	ReachCode  string  `json:"reach_code,omitempty"`
	ObservedAt string  `json:"observed_at,omitempty"`
	Link       string  `json:"link,omitempty"`
}

// Reach aggregates the stations snapped to one monitored river segment.
type Reach struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Level    Level    `json:"level"`
	Stations []string `json:"stations"`
}

// RiverPayload carries hydrometric observations for the monitored rivers.
type RiverPayload struct {
	Envelope
	Level    Level     `json:"level"`
	Stations []Station `json:"stations"`
	Reaches  []Reach   `json:"reaches"`
}

// RoadEvent is a single road disruption.
type RoadEvent struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Severity    Level    `json:"severity"`
	Roads       []string `json:"roads,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	Link        string   `json:"link,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	PeriodStart string   `json:"period_start,omitempty"`
	PeriodEnd   string   `json:"period_end,omitempty"`
}

// RoadCount pairs a road code with its disruption count.
type RoadCount struct {
	Road  string `json:"road"`
	Count int    `json:"count"`
}

// RoadInsights summarises the current disruptions for the dashboard header.
type RoadInsights struct {
	DominantCategory string         `json:"dominant_category"`
	Categories       map[string]int `json:"category_breakdown"`
	Severities       map[Level]int  `json:"severity_breakdown"`
	TopRoads         []RoadCount    `json:"top_roads"`
}

// RoadPayload carries the current road disruptions in the department.
type RoadPayload struct {
	Envelope
	Events   []RoadEvent  `json:"events"`
	Total    int          `json:"events_total"`
	Insights RoadInsights `json:"insights"`
}

// TrafficFlow is a departure/return colour pair of a forecast day.
type TrafficFlow struct {
	Departure string `json:"departure"`
	Return    string `json:"return"`
}

// TrafficDay is the traffic forecast for one day.
type TrafficDay struct {
	Date     string      `json:"date"`
	National TrafficFlow `json:"national"`
	Local    TrafficFlow `json:"isere"`
}

// TrafficPayload carries the road traffic forecast for today and tomorrow.
type TrafficPayload struct {
	Envelope
	Level    Level      `json:"level"`
	Today    TrafficDay `json:"today"`
	Tomorrow TrafficDay `json:"tomorrow"`
}

// CommuneRisks lists the registered risks of one monitored commune.
type CommuneRisks struct {
	Code        string   `json:"code_insee"`
	Name        string   `json:"name"`
	Risks       []string `json:"risks"`
	RiskTotal   int      `json:"risk_total"`
	DangerLabel string   `json:"danger_level"`
}

// RiskRegistryPayload carries the registered risk inventory of the
// monitored communes.
type RiskRegistryPayload struct {
	Envelope
	Mode     string         `json:"api_mode,omitempty"`
	Communes []CommuneRisks `json:"communes"`
	Total    int            `json:"total"`
}

// NewsItem is a single prefecture press release.
type NewsItem struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary,omitempty"`
	Hazards     []string  `json:"hazards,omitempty"`
	Published   string    `json:"published_at,omitempty"`
	PublishedAt time.Time `json:"-"`
}

// NewsPayload carries recent prefecture communications.
type NewsPayload struct {
	Envelope
	Items []NewsItem `json:"items"`
}

// AirDay is the ATMO index of one day.
type AirDay struct {
	Date    string `json:"date"`
	Index   int    `json:"index"`
	Level   Level  `json:"level"`
	Comment string `json:"comment,omitempty"`
}

// AirQualityPayload carries the air quality index of the urban area.
type AirQualityPayload struct {
	Envelope
	Level    Level  `json:"level"`
	City     string `json:"city"`
	Today    AirDay `json:"today"`
	Tomorrow AirDay `json:"tomorrow"`
	Episode  bool   `json:"has_pollution_episode"`
}

// RailAlert is a disruption affecting rail service.
type RailAlert struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Severity    Level    `json:"severity"`
	Locations   []string `json:"locations,omitempty"`
	Link        string   `json:"link,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
}

// RailPayload carries rail disruptions derived from the transport feed.
type RailPayload struct {
	Envelope
	Alerts []RailAlert `json:"alerts"`
	Total  int         `json:"alerts_total"`
}

// WaterRestriction is an active drought restriction zone.
type WaterRestriction struct {
	Zone      string `json:"zone"`
	Gravity   string `json:"level"`
	Level     Level  `json:"level_color"`
	Measure   string `json:"measure,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// WaterPayload carries active water use restrictions.
type WaterPayload struct {
	Envelope
	Level        Level              `json:"max_level"`
	Restrictions []WaterRestriction `json:"restrictions"`
}

// PowerPayload carries the national grid margin forecast.
type PowerPayload struct {
	Envelope
	MarginMW  float64 `json:"margin_mw"`
	Level     Level   `json:"level"`
	Message   string  `json:"message,omitempty"`
	HorizonAt string  `json:"horizon_at,omitempty"`
}

// BoundaryPayload carries the department boundary geometry.
type BoundaryPayload struct {
	Envelope
	Geometry json.RawMessage `json:"geometry"`
	Origin   string          `json:"origin"`
}

// Snapshot is the aggregated view served to the dashboard. Every source key
// is always present, regardless of how many sources failed.
type Snapshot struct {
	Weather    *WeatherPayload      `json:"weather"`
	River      *RiverPayload        `json:"river"`
	Road       *RoadPayload         `json:"road-disruptions"`
	Traffic    *TrafficPayload      `json:"traffic-forecast"`
	Registry   *RiskRegistryPayload `json:"risk-registry"`
	News       *NewsPayload         `json:"news"`
	AirQuality *AirQualityPayload   `json:"air-quality"`
	Rail       *RailPayload         `json:"rail"`
	Water      *WaterPayload        `json:"water-restrictions"`
	Power      *PowerPayload        `json:"power-margin"`
	GlobalRisk Level                `json:"global_risk"`
	UpdatedAt  time.Time            `json:"updated_at"`
	Errors     map[string]string    `json:"errors"`
	Degraded   int                  `json:"degraded_sources"`
}

// degradedEnvelope builds the metadata for a placeholder payload so the
// snapshot key stays populated even when a source has never answered.
func degradedEnvelope(source, reason string, at time.Time) Envelope {
	return Envelope{
		Status:    StatusDegraded,
		Source:    source,
		FetchedAt: at,
		Err:       reason,
	}
}
