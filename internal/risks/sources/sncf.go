package sources

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/risks"
)

const defaultRailLimit = 25

// RailSource derives rail disruptions from the regional transport feed:
// there is no dedicated public endpoint, so road feed events mentioning
// rail service are reclassified.
type RailSource struct {
	road  *RoadSource
	clock clockwork.Clock
	log   *slog.Logger
	limit int
}

func NewRailSource(road *RoadSource, clock clockwork.Clock, log *slog.Logger, limit int) *RailSource {
	if limit <= 0 {
		limit = defaultRailLimit
	}
	return &RailSource{
		road:  road,
		clock: clock,
		log:   log,
		limit: limit,
	}
}

func (s *RailSource) Fetch(ctx context.Context) *risks.RailPayload {
	now := nowUTC(s.clock)

	base := s.road.fetchLive(ctx, 80)
	if !base.Usable() {
		reason := base.Err
		if reason == "" {
			reason = "transport feed unavailable"
		}
		return &risks.RailPayload{Envelope: degraded(s.road.feedURL, reason, now)}
	}

	var alerts []risks.RailAlert
	for _, event := range base.Events {
		text := strings.ToLower(event.Title + " " + event.Description)
		if !containsAny(text, "sncf", "ter", "train", "ferroviaire", "gare") {
			continue
		}
		alertType := railAlertType(text)
		if alertType == "autre" {
			continue
		}

		title := event.Title
		if title == "" {
			title = "Alerte SNCF"
		}
		severity := event.Severity
		if severity == "" {
			severity = risks.LevelJaune
		}
		alerts = append(alerts, risks.RailAlert{
			Title:       title,
			Description: truncate(event.Description, 400),
			Type:        alertType,
			Severity:    severity,
			Locations:   event.Locations,
			Link:        event.Link,
			PublishedAt: event.PublishedAt,
		})
	}

	total := len(alerts)
	if len(alerts) > s.limit {
		alerts = alerts[:s.limit]
	}
	return &risks.RailPayload{
		Envelope: online(s.road.feedURL, now),
		Alerts:   alerts,
		Total:    total,
	}
}

func railAlertType(text string) string {
	if containsAny(text, "accident", "collision", "heurt", "obstacle") {
		return "accident"
	}
	if containsAny(text, "travaux", "chantier", "maintenance", "voie") {
		return "travaux"
	}
	return "autre"
}
