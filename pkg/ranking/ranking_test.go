// SPDX-License-Identifier: Apache-2.0

package ranking

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/techpulse/pkg/core"
)

func item(binding string, src core.Source, title, url string, score float64) core.TrendItem {
	return core.TrendItem{Title: title, Source: src, Binding: binding, URL: url, Score: score}
}

func TestMergeDeduplicatesKeepingMaxScore(t *testing.T) {
	r := NewRanker([]string{"brave", "hacker_news"})
	search := []core.TrendItem{item("brave", core.SourceSearch, "Tokio 2.0", "https://tokio.rs/blog/", 0.9)}
	forum := []core.TrendItem{item("hacker_news", core.SourceDiscussion, "Tokio 2.0 released", "https://TOKIO.rs/blog", 0.95)}

	out := r.Merge(search, forum)
	require.Len(t, out, 1)
	assert.Equal(t, 0.95, out[0].Score)
	assert.Equal(t, "hacker_news", out[0].Binding)
}

func TestMergeSameSourceSameURL(t *testing.T) {
	a := item("brave", core.SourceSearch, "A", "https://example.com/a", 0.3)
	b := item("brave", core.SourceSearch, "A again", "https://example.com/a", 0.7)
	b.Summary = ""
	a.Summary = "first summary"

	out := Merge([]core.TrendItem{a}, []core.TrendItem{b})
	require.Len(t, out, 1)
	assert.Equal(t, 0.7, out[0].Score)
	assert.Equal(t, "A again", out[0].Title)
	assert.Equal(t, "first summary", out[0].Summary, "missing fields are filled from the loser")
}

func TestMergeOrdering(t *testing.T) {
	r := NewRanker([]string{"brave", "hacker_news", "github"})
	batches := [][]core.TrendItem{
		{
			item("brave", core.SourceSearch, "s1", "https://s/1", 0.5),
			item("brave", core.SourceSearch, "s2", "https://s/2", 0.8),
		},
		{
			item("hacker_news", core.SourceDiscussion, "d1", "https://d/1", 0.8),
			item("hacker_news", core.SourceDiscussion, "d2", "https://d/2", 0.5),
		},
		{
			item("github", core.SourceCode, "c1", "https://c/1", 0.8),
		},
	}

	out := r.Merge(batches...)
	var titles []string
	for _, it := range out {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"s2", "d1", "c1", "s1", "d2"}, titles)
}

func TestMergeIsIndependentOfArrivalOrderWithinTies(t *testing.T) {
	r := NewRanker([]string{"brave", "hacker_news"})
	s := item("brave", core.SourceSearch, "s", "https://s", 0.5)
	d := item("hacker_news", core.SourceDiscussion, "d", "https://d", 0.5)

	first := r.Merge([]core.TrendItem{s}, []core.TrendItem{d})
	second := r.Merge([]core.TrendItem{d}, []core.TrendItem{s})
	assert.Equal(t, first, second)
	assert.Equal(t, "s", first[0].Title)
}

func TestMergeWithoutURLDedupesByTitle(t *testing.T) {
	out := Merge(
		[]core.TrendItem{item("", core.SourceCode, "Rust Book", "", 0.2)},
		[]core.TrendItem{item("", core.SourceCode, "rust book ", "", 0.4)},
		[]core.TrendItem{item("", core.SourceSearch, "Rust Book", "", 0.1)},
	)
	require.Len(t, out, 2)
	assert.Equal(t, 0.4, out[0].Score)
	assert.Equal(t, core.SourceSearch, out[1].Source)
}

func TestPriorityUnknownBinding(t *testing.T) {
	r := NewRanker([]string{"brave"})
	assert.Equal(t, 0, r.Priority(item("brave", core.SourceCode, "", "", 0)))
	assert.Equal(t, 1+2, r.Priority(item("remote", core.SourceCode, "", "", 0)))
	assert.Equal(t, 3, SourcePriority("other"))
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"HTTPS://Example.COM/Path/": "https://example.com/Path",
		"https://example.com/a#top": "https://example.com/a",
		"https://example.com":       "https://example.com",
		"not a url/":                "not a url",
		"":                          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeURL(in), in)
	}
}

func TestTruncate(t *testing.T) {
	items := []core.TrendItem{{Title: "a"}, {Title: "b"}, {Title: "c"}}
	assert.Len(t, Truncate(items, 2), 2)
	assert.Len(t, Truncate(items, 0), 3)
	assert.Len(t, Truncate(items, 10), 3)
}

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"March 2, 2026", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), true},
		{"2 days ago", now.Add(-48 * time.Hour), true},
		{"1 week ago", now.Add(-7 * 24 * time.Hour), true},
		{"1999-01-01", time.Time{}, false},
		{"yesterday-ish", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in, now)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
		}
	}
}

func TestDateFromURL(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got, ok := DateFromURL("https://blog.example.com/2026/02/10/rust-async/", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), got)

	_, ok = DateFromURL("https://example.com/2010/02/10/old/", now)
	assert.False(t, ok, "too old to be plausible")

	_, ok = DateFromURL("https://example.com/2026/02/30/x/", now)
	assert.False(t, ok)

	_, ok = DateFromURL("https://example.com/about", now)
	assert.False(t, ok)
}

func TestFilterRecent(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -4, 0)
	items := []core.TrendItem{
		{Title: "fresh", URL: "https://x.dev/2026/03/01/a/"},
		{Title: "stale", Published: &old},
		{Title: "undated", URL: "https://x.dev/about"},
		{Title: "meta", Metadata: map[string]string{"age": "3 days ago"}},
	}

	out := FilterRecent(items, 60*24*time.Hour, now)
	var titles []string
	for _, it := range out {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"fresh", "undated", "meta"}, titles)
	require.NotNil(t, out[0].Published)
	assert.Nil(t, out[1].Published)

	assert.Len(t, FilterRecent(items, 0, now), 4)
}

func TestMergeTreatsNonFiniteScoresAsZero(t *testing.T) {
	search := []core.TrendItem{
		item("brave", core.SourceSearch, "Tokio", "https://tokio.rs", math.NaN()),
		item("brave", core.SourceSearch, "Axum", "https://axum.rs", math.Inf(1)),
	}
	forum := []core.TrendItem{item("hacker_news", core.SourceDiscussion, "Tokio on HN", "https://tokio.rs", 0.95)}

	out := NewRanker([]string{"brave", "hacker_news"}).Merge(search, forum)
	require.Len(t, out, 2)
	assert.Equal(t, "https://tokio.rs", out[0].URL)
	assert.Equal(t, 0.95, out[0].Score)
	assert.Equal(t, 0.0, out[1].Score)

	_, err := json.Marshal(out)
	assert.NoError(t, err)
}
