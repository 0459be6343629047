// SPDX-License-Identifier: Apache-2.0

package ranking

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jllopis/techpulse/pkg/core"
)

// Date patterns commonly embedded in article URLs.
var urlDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/(\d{4})/(\d{1,2})/(\d{1,2})/`),
	regexp.MustCompile(`/(\d{4})-(\d{1,2})-(\d{1,2})/`),
	regexp.MustCompile(`/(\d{4})(\d{2})(\d{2})/`),
	regexp.MustCompile(`_(\d{4})(\d{2})(\d{2})_`),
	regexp.MustCompile(`-(\d{4})(\d{2})(\d{2})-`),
}

// "3 days ago", "1 hour ago", "2 weeks ago"
var relativeAge = regexp.MustCompile(`^(\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago$`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Metadata fields a tool may use to report a publication date.
var dateFields = []string{"published", "age", "publication_date", "time", "created_at", "updated_at"}

// PublishedAt resolves the publication date of item from its Published
// field, its date metadata or its URL. ok is false when no plausible date
// is found.
func PublishedAt(item core.TrendItem, now time.Time) (time.Time, bool) {
	if item.Published != nil && !item.Published.IsZero() {
		return *item.Published, true
	}
	for _, field := range dateFields {
		if v, ok := item.Metadata[field]; ok {
			if t, ok := ParseDate(v, now); ok {
				return t, true
			}
		}
	}
	return DateFromURL(item.URL, now)
}

// ParseDate parses absolute dates, unix timestamps and relative ages such as
// "2 days ago". Dates more than five years old or a year in the future are
// rejected as implausible.
func ParseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if m := relativeAge.FindStringSubmatch(strings.ToLower(s)); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.Add(-time.Duration(n) * unitDuration(m[2])), true
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return plausible(time.Unix(secs, 0).UTC(), now, 5)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return plausible(t, now, 5)
		}
	}
	return time.Time{}, false
}

// DateFromURL extracts a date from common URL path patterns. Dates more than
// three years old are ignored.
func DateFromURL(raw string, now time.Time) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, re := range urlDatePatterns {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day {
			continue // normalized, e.g. February 30
		}
		if t, ok := plausible(t, now, 3); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// FilterRecent drops items published before now-maxAge and stamps the
// resolved date on the rest. Items without a detectable date are kept.
// A non-positive maxAge disables filtering.
func FilterRecent(items []core.TrendItem, maxAge time.Duration, now time.Time) []core.TrendItem {
	if maxAge <= 0 {
		return items
	}
	cutoff := now.Add(-maxAge)
	out := make([]core.TrendItem, 0, len(items))
	for _, item := range items {
		t, ok := PublishedAt(item, now)
		if !ok {
			out = append(out, item)
			continue
		}
		if t.Before(cutoff) {
			continue
		}
		item.Published = &t
		out = append(out, item)
	}
	return out
}

func plausible(t, now time.Time, pastYears int) (time.Time, bool) {
	if t.Before(now.AddDate(-pastYears, 0, 0)) || t.After(now.AddDate(1, 0, 0)) {
		return time.Time{}, false
	}
	return t, true
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "second":
		return time.Second
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	case "week":
		return 7 * 24 * time.Hour
	case "month":
		return 30 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}
