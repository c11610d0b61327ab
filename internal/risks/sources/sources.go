// Package sources contains one adapter per upstream service. Adapters never
// return errors: every failure is folded into the payload status so the
// aggregation layer can apply its stale-or-degraded policy uniformly.
package sources

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/risks"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	errNoDrupalSettings = errors.New("drupal settings block not found")
)

func online(source string, at time.Time) risks.Envelope {
	return risks.Envelope{Status: risks.StatusOnline, Source: source, FetchedAt: at}
}

func partial(source string, at time.Time) risks.Envelope {
	return risks.Envelope{Status: risks.StatusPartial, Source: source, FetchedAt: at}
}

func degraded(source, reason string, at time.Time) risks.Envelope {
	return risks.Envelope{Status: risks.StatusDegraded, Source: source, FetchedAt: at, Err: reason}
}

func nowUTC(clock clockwork.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now().UTC()
}

// stripTags removes markup and collapses whitespace into single spaces.
func stripTags(value string) string {
	cleaned := tagPattern.ReplaceAllString(value, " ")
	cleaned = html.UnescapeString(cleaned)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(cleaned, " "))
}

func truncate(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func containsAny(haystack string, tokens ...string) bool {
	for _, token := range tokens {
		if strings.Contains(haystack, token) {
			return true
		}
	}
	return false
}
