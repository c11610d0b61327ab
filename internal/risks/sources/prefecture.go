package sources

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mmcdole/gofeed"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const (
	defaultPrefectureFeed = "https://www.isere.gouv.fr/syndication/flux/actualites"
	defaultPrefectureHome = "https://www.isere.gouv.fr"
	defaultNewsLimit      = 6
)

var prefectureSuffixPattern = regexp.MustCompile(`(?i)\s*[\|\-–]\s*isere\.gouv\.fr$`)

// NewsSource reads the prefecture press feed. Feed items regularly ship
// without a title, so the adapter falls back to the article page title and
// finally to the link slug.
type NewsSource struct {
	fetcher *fetchhttp.Client
	clock   clockwork.Clock
	log     *slog.Logger
	feedURL string
	homeURL string
	limit   int
}

func NewNewsSource(fetcher *fetchhttp.Client, clock clockwork.Clock, log *slog.Logger, limit int) *NewsSource {
	if limit <= 0 {
		limit = defaultNewsLimit
	}
	return &NewsSource{
		fetcher: fetcher,
		clock:   clock,
		log:     log,
		feedURL: defaultPrefectureFeed,
		homeURL: defaultPrefectureHome,
		limit:   limit,
	}
}

// WithFeedURL overrides the upstream feed, for tests.
func (s *NewsSource) WithFeedURL(feedURL string) *NewsSource {
	s.feedURL = feedURL
	return s
}

func (s *NewsSource) Fetch(ctx context.Context) *risks.NewsPayload {
	now := nowUTC(s.clock)

	xmlPayload, err := s.fetcher.GetText(ctx, s.feedURL)
	if err != nil {
		return &risks.NewsPayload{Envelope: degraded(s.feedURL, err.Error(), now)}
	}
	feed, err := gofeed.NewParser().ParseString(xmlPayload)
	if err != nil {
		return &risks.NewsPayload{Envelope: degraded(s.feedURL, "feed parse: "+err.Error(), now)}
	}

	items := make([]risks.NewsItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			link = s.homeURL
		}
		summary := stripTags(entry.Description)

		item := risks.NewsItem{
			Title:     s.resolveTitle(ctx, entry.Title, link),
			Link:      link,
			Summary:   truncate(summary, 400),
			Hazards:   extractHazards(entry.Title, summary),
			Published: strings.TrimSpace(entry.Published),
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = entry.PublishedParsed.UTC()
		} else {
			item.PublishedAt = parsePublished(item.Published)
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if len(items) > s.limit {
		items = items[:s.limit]
	}

	return &risks.NewsPayload{
		Envelope: online(s.feedURL, now),
		Items:    items,
	}
}

// resolveTitle prefers the feed title, then the article page title, then a
// cleaned-up link slug.
func (s *NewsSource) resolveTitle(ctx context.Context, title, link string) string {
	cleaned := strings.TrimSpace(stripTags(title))
	if cleaned != "" {
		return cleaned
	}

	if page, err := s.fetcher.GetText(ctx, link); err == nil {
		if extracted := extractHTMLTitle(page); extracted != "" {
			extracted = prefectureSuffixPattern.ReplaceAllString(extracted, "")
			if strings.Contains(extracted, "Les services de l'État en Isère") {
				if head, _, found := strings.Cut(extracted, " - "); found {
					extracted = head
				}
			}
			extracted = strings.TrimSpace(extracted)
			if extracted != "" {
				return extracted
			}
		}
	}

	if slug := titleFromSlug(link); slug != "" {
		return slug
	}
	return "Actualité Préfecture"
}

func titleFromSlug(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		return ""
	}
	slug := path[strings.LastIndex(path, "/")+1:]
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}
	return strings.TrimSpace(strings.ReplaceAll(slug, "-", " "))
}

var publishedFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parsePublished(value string) time.Time {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}
	}
	for _, format := range publishedFormats {
		if parsed, err := time.Parse(format, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
