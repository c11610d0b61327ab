package sources

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mmcdole/gofeed"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const (
	defaultItinisereURL  = "https://www.itinisere.fr/fr/rss/Disruptions"
	defaultItinisereHome = "https://www.itinisere.fr"
	detailWorkers        = 6
	defaultRoadLimit     = 60
)

var (
	roadCodePattern = regexp.MustCompile(`\b([ADNMCR]\d{1,4})\b`)
	datePattern     = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	periodPattern   = regexp.MustCompile(`(?i)Du\s+([^,]+?)\s+au\s+([^,]+?)(?:,|\.|$)`)
	untilPattern    = regexp.MustCompile(`(?i)jusqu['’]au\s+([^,]+?)(?:,|\.|$)`)
	scriptPattern   = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	stylePattern    = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
)

// Roads of the department used to keep events whose text never names a
// place.
var departmentRoads = map[string]bool{
	"A41": true, "A43": true, "A48": true, "A49": true,
	"N85": true, "N87": true,
	"D1075": true, "D1090": true, "D1532": true, "D520": true,
}

var departmentPlaceTokens = []string{
	"isère", "isere", "grenoble", "voiron", "vienne", "bourgoin",
	"pontcharra", "la mure", "rives", "le touvet", "villard-de-lans",
}

// RoadSource reads the regional disruption RSS feed, enriches each item
// with a detail-page fetch over a small worker pool, and keeps only the
// department's road closure, mountain pass, and camera events.
type RoadSource struct {
	fetcher *fetchhttp.Client
	clock   clockwork.Clock
	log     *slog.Logger
	feedURL string
	homeURL string
	limit   int
}

func NewRoadSource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger, limit int) *RoadSource {
	if limit <= 0 {
		limit = defaultRoadLimit
	}
	return &RoadSource{
		fetcher: fetcher,
		clock:   clock,
		log:     log,
		feedURL: defaultItinisereURL,
		homeURL: defaultItinisereHome,
		limit:   limit,
	}
}

// WithFeedURL overrides the upstream feed, for tests.
func (s *RoadSource) WithFeedURL(feedURL string) *RoadSource {
	s.feedURL = feedURL
	return s
}

func (s *RoadSource) Fetch(ctx context.Context) *risks.RoadPayload {
	return s.fetchLive(ctx, s.limit)
}

func (s *RoadSource) fetchLive(ctx context.Context, limit int) *risks.RoadPayload {
	now := nowUTC(s.clock)

	xmlPayload, err := s.fetcher.GetText(ctx, s.feedURL)
	if err != nil {
		return &risks.RoadPayload{Envelope: degraded(s.feedURL, err.Error(), now)}
	}
	feed, err := gofeed.NewParser().ParseString(xmlPayload)
	if err != nil {
		return &risks.RoadPayload{Envelope: degraded(s.feedURL, "feed parse: "+err.Error(), now)}
	}

	if limit < 1 {
		limit = 1
	}
	if limit > 120 {
		limit = 120
	}
	items := feed.Items
	if len(items) > limit {
		items = items[:limit]
	}

	details := s.fetchDetails(ctx, items)

	var events []risks.RoadEvent
	for _, item := range items {
		event, keep := s.buildEvent(item, details[item.Link])
		if keep {
			events = append(events, event)
		}
	}

	payload := &risks.RoadPayload{
		Envelope: online(s.feedURL, now),
		Events:   events,
		Total:    len(events),
		Insights: buildInsights(events),
	}
	return payload
}

type itemDetail struct {
	title       string
	description string
	publishedAt string
	periodStart string
	periodEnd   string
	locations   []string
}

// fetchDetails loads the detail page of every feed item over a fixed pool.
// A failed detail fetch is not an error: the feed's own title and summary
// are used instead.
func (s *RoadSource) fetchDetails(ctx context.Context, items []*gofeed.Item) map[string]itemDetail {
	type linked struct {
		link  string
		title string
	}
	var targets []linked
	for _, item := range items {
		if strings.HasPrefix(item.Link, "http") {
			targets = append(targets, linked{link: item.Link, title: item.Title})
		}
	}

	details := make(map[string]itemDetail, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan linked)

	for i := 0; i < detailWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range work {
				detail, ok := s.fetchDetail(ctx, target.link, target.title)
				if !ok {
					continue
				}
				mu.Lock()
				details[target.link] = detail
				mu.Unlock()
			}
		}()
	}

	for _, target := range targets {
		select {
		case work <- target:
		case <-ctx.Done():
		}
	}
	close(work)
	wg.Wait()
	return details
}

func (s *RoadSource) fetchDetail(ctx context.Context, link, fallbackTitle string) (itemDetail, bool) {
	page, err := s.fetcher.GetText(ctx, link)
	if err != nil {
		return itemDetail{}, false
	}

	title := extractHTMLTitle(page)
	if title == "" {
		title = fallbackTitle
	}

	content := scriptPattern.ReplaceAllString(page, " ")
	content = stylePattern.ReplaceAllString(content, " ")
	content = tagPattern.ReplaceAllString(content, "\n")

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		cleaned := stripTags(line)
		if cleaned == "" {
			continue
		}
		lowered := strings.ToLower(cleaned)
		if strings.Contains(lowered, "itinisère") || strings.Contains(lowered, "plan du site") {
			continue
		}
		lines = append(lines, cleaned)
	}

	description := ""
	for _, line := range lines {
		if len(line) < 20 {
			continue
		}
		lowered := strings.ToLower(line)
		if containsAny(lowered, "ligne", "travaux", "arrêt", "accident", "perturb", "route", "ralent", "dévi", "bus") {
			description = line
			break
		}
	}
	if description == "" {
		for _, line := range lines {
			if len(line) > 30 {
				description = line
				break
			}
		}
	}

	periodStart, periodEnd := extractPeriod(description)
	published := ""
	for _, line := range lines {
		if datePattern.MatchString(line) {
			published = line
			break
		}
	}

	return itemDetail{
		title:       title,
		description: description,
		publishedAt: published,
		periodStart: periodStart,
		periodEnd:   periodEnd,
		locations:   extractLocations(title, description),
	}, true
}

// buildEvent classifies a feed item and applies the department filters.
// Pure public transport disruptions, out-of-area events, and anything that
// is neither a closure, a pass, nor a camera notice are dropped.
func (s *RoadSource) buildEvent(item *gofeed.Item, detail itemDetail) (risks.RoadEvent, bool) {
	title := stripTags(item.Title)
	if detail.title != "" {
		title = detail.title
	}
	description := stripTags(item.Description)
	if detail.description != "" {
		description = detail.description
	}

	roads := extractRoads(title + " " + description)
	category := classifyCategory(title, description)
	locations := detail.locations
	if len(locations) == 0 {
		locations = extractLocations(title, description)
	}

	if isPublicTransportEvent(title, description) {
		return risks.RoadEvent{}, false
	}
	if !isDepartmentEvent(title, description, roads, locations) {
		return risks.RoadEvent{}, false
	}
	if !isClosurePassOrCamera(title, description, category) {
		return risks.RoadEvent{}, false
	}

	published := detail.publishedAt
	if published == "" {
		published = item.Published
	}

	return risks.RoadEvent{
		Title:       title,
		Description: truncate(description, 550),
		Category:    category,
		Severity:    classifySeverity(title, description, category),
		Roads:       roads,
		Locations:   locations,
		Link:        item.Link,
		PublishedAt: published,
		PeriodStart: detail.periodStart,
		PeriodEnd:   detail.periodEnd,
	}, true
}

func classifyCategory(title, description string) string {
	text := strings.ToLower(title + " " + description)
	switch {
	case containsAny(text, "fermeture", "coup", "interdit", "impossible"):
		return "fermeture"
	case containsAny(text, "travaux", "chantier", "alternat"):
		return "travaux"
	case containsAny(text, "accident", "collision", "panne", "obstacle"):
		return "incident"
	case containsAny(text, "neige", "verglas", "intemp", "pluie", "crue"):
		return "météo"
	case containsAny(text, "manifest", "évènement", "course", "marché"):
		return "évènement"
	default:
		return "trafic"
	}
}

func classifySeverity(title, description, category string) risks.Level {
	text := strings.ToLower(title + " " + description)
	switch {
	case containsAny(text, "route coup", "fermet", "interdit", "impossible", "bloqu", "suspendu", "annul"):
		return risks.LevelRouge
	case containsAny(text, "accident", "collision", "fort", "gros ralent", "très perturb", "dév"):
		return risks.LevelOrange
	case category == "travaux" || category == "incident" || category == "évènement" ||
		containsAny(text, "travaux", "chantier", "retard", "ralenti", "manifest"):
		return risks.LevelJaune
	default:
		return risks.LevelVert
	}
}

func extractRoads(text string) []string {
	seen := make(map[string]bool)
	for _, match := range roadCodePattern.FindAllStringSubmatch(text, -1) {
		seen[strings.ToUpper(match[1])] = true
	}
	roads := make([]string, 0, len(seen))
	for road := range seen {
		roads = append(roads, road)
	}
	sort.Strings(roads)
	return roads
}

func isPublicTransportEvent(title, description string) bool {
	text := strings.ToLower(title + " " + description)
	hasTransportToken := containsAny(text,
		"transport en commun", "ligne", "tram", "bus", "cars", "car scolaire",
		"arrêt", "gare routière", "tag ", "transisère")
	if !hasTransportToken {
		return false
	}
	hasRoadHint := len(extractRoads(text)) > 0 ||
		containsAny(text, "autoroute", "route", "échangeur", "sortie", "rocade", "déviation")
	return !hasRoadHint
}

func isDepartmentEvent(title, description string, roads, locations []string) bool {
	text := strings.ToLower(title + " " + description + " " + strings.Join(locations, " "))
	if containsAny(text, departmentPlaceTokens...) {
		return true
	}
	for _, road := range roads {
		if departmentRoads[road] {
			return true
		}
	}
	return false
}

func isClosurePassOrCamera(title, description, category string) bool {
	text := strings.ToLower(title + " " + description)
	closure := category == "fermeture" ||
		containsAny(text, "fermet", "route coup", "interdit", "barr", "réouvert", "reouvert", "ouvert")
	pass := containsAny(text, "col ", "cols ", "col du", "col de", "col des")
	camera := containsAny(text, "caméra", "camera", "webcam", "vidéo", "video")
	return closure || pass || camera
}

var locationBanlist = map[string]bool{
	"Ligne": true, "Perturbation": true, "Isère": true, "Infos": true,
	"Du": true, "Le": true, "Les": true, "Route": true, "Routes": true,
	"Infos route": true, "Coupure": true, "Fermeture": true,
	"Signaler": true, "Détail": true, "Detail": true,
	"Itinisère": true, "Itinisere": true,
}

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:secteur|zone|quartier|arrêt|arret|gare|pont|avenue|rue|route|boulevard|place|sortie|échangeur)\s+[A-ZÀ-ÖØ-Ý][\pL'\- ]{2,60}`),
	regexp.MustCompile(`\b[A-ZÀ-ÖØ-Ý][\pL'\-]+(?:\s+[A-ZÀ-ÖØ-Ý][\pL'\-]+){0,3}`),
}

func extractLocations(chunks ...string) []string {
	cleaned := stripTags(strings.Join(chunks, " "))
	if cleaned == "" {
		return nil
	}

	var candidates []string
	for _, pattern := range locationPatterns {
		candidates = append(candidates, pattern.FindAllString(cleaned, -1)...)
	}

	var locations []string
	seen := make(map[string]bool)
	for _, candidate := range candidates {
		label := strings.Trim(whitespacePattern.ReplaceAllString(candidate, " "), " -·,.")
		if len(label) < 4 || locationBanlist[label] || seen[label] {
			continue
		}
		lowered := strings.ToLower(label)
		if strings.HasPrefix(lowered, "ligne ") ||
			strings.HasPrefix(lowered, "lieu") ||
			strings.HasPrefix(lowered, "signaler") ||
			strings.HasPrefix(lowered, "détail") ||
			strings.HasPrefix(lowered, "detail") {
			continue
		}
		if lowered == "coupure" || lowered == "fermeture" || lowered == "travaux" || lowered == "perturbation" {
			continue
		}
		seen[label] = true
		locations = append(locations, label)
		if len(locations) == 8 {
			break
		}
	}
	return locations
}

func extractPeriod(text string) (string, string) {
	compact := whitespacePattern.ReplaceAllString(text, " ")
	if m := periodPattern.FindStringSubmatch(compact); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := untilPattern.FindStringSubmatch(compact); m != nil {
		return "", strings.TrimSpace(m[1])
	}
	return "", ""
}

func buildInsights(events []risks.RoadEvent) risks.RoadInsights {
	insights := risks.RoadInsights{
		DominantCategory: "aucune",
		Categories:       make(map[string]int),
		Severities:       make(map[risks.Level]int),
	}

	roadCounts := make(map[string]int)
	for _, event := range events {
		insights.Categories[event.Category]++
		insights.Severities[event.Severity]++
		for _, road := range event.Roads {
			roadCounts[road]++
		}
	}

	best := 0
	for category, count := range insights.Categories {
		if count > best || (count == best && category < insights.DominantCategory) {
			insights.DominantCategory = category
			best = count
		}
	}

	for road, count := range roadCounts {
		insights.TopRoads = append(insights.TopRoads, risks.RoadCount{Road: road, Count: count})
	}
	sort.Slice(insights.TopRoads, func(i, j int) bool {
		if insights.TopRoads[i].Count != insights.TopRoads[j].Count {
			return insights.TopRoads[i].Count > insights.TopRoads[j].Count
		}
		return insights.TopRoads[i].Road < insights.TopRoads[j].Road
	})
	if len(insights.TopRoads) > 5 {
		insights.TopRoads = insights.TopRoads[:5]
	}
	return insights
}

var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`),
	regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`),
	regexp.MustCompile(`(?is)<meta[^>]+property=["']og:title["'][^>]+content=["'](.*?)["']`),
}

func extractHTMLTitle(page string) string {
	for _, pattern := range titlePatterns {
		m := pattern.FindStringSubmatch(page)
		if m == nil {
			continue
		}
		candidate := stripTags(m[1])
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
