// SPDX-License-Identifier: Apache-2.0

// Package ranking merges the items produced by tool calls and delegations
// into one deterministic ranked list.
package ranking

import (
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/jllopis/techpulse/pkg/core"
)

// Ranker orders items by score, then by the declared priority of the binding
// that produced them, then by insertion order.
type Ranker struct {
	priority map[string]int
}

// NewRanker builds a ranker from binding names in declaration order. The
// first binding has the highest priority.
func NewRanker(bindings []string) *Ranker {
	r := &Ranker{priority: make(map[string]int, len(bindings))}
	for i, name := range bindings {
		if _, ok := r.priority[name]; !ok {
			r.priority[name] = i
		}
	}
	return r
}

// Priority returns the tie-break rank of item; lower sorts first. Items from
// unknown bindings rank after every declared binding, ordered by source.
func (r *Ranker) Priority(item core.TrendItem) int {
	if p, ok := r.priority[item.Binding]; ok {
		return p
	}
	return len(r.priority) + SourcePriority(item.Source)
}

// SourcePriority ranks sources search, discussion, code; unknown sources last.
func SourcePriority(src core.Source) int {
	for i, s := range core.Sources {
		if s == src {
			return i
		}
	}
	return len(core.Sources)
}

type entry struct {
	item     core.TrendItem
	priority int
	seq      int
}

// Merge deduplicates the batches and returns the items sorted. Non-finite
// scores count as zero. Batches are
// consumed in order, so callers pass them in declaration order, not arrival
// order.
func (r *Ranker) Merge(batches ...[]core.TrendItem) []core.TrendItem {
	byKey := make(map[string]*entry)
	var order []*entry
	seq := 0
	for _, batch := range batches {
		for _, item := range batch {
			if math.IsNaN(item.Score) || math.IsInf(item.Score, 0) {
				item.Score = 0
			}
			e := &entry{item: item, priority: r.Priority(item), seq: seq}
			seq++

			key := DedupKey(item)
			prev, ok := byKey[key]
			if !ok {
				byKey[key] = e
				order = append(order, e)
				continue
			}
			if less(e, prev) {
				fillMissing(&e.item, prev.item)
				e.seq = prev.seq // keeps the first-seen position
				*prev = *e
			} else {
				fillMissing(&prev.item, e.item)
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return less(order[i], order[j]) })

	out := make([]core.TrendItem, len(order))
	for i, e := range order {
		out[i] = e.item
	}
	return out
}

// Merge ranks batches with source-only priorities.
func Merge(batches ...[]core.TrendItem) []core.TrendItem {
	return NewRanker(nil).Merge(batches...)
}

func less(a, b *entry) bool {
	if a.item.Score != b.item.Score {
		return a.item.Score > b.item.Score
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

// fillMissing copies descriptive fields the winner lacks from the loser.
func fillMissing(winner *core.TrendItem, loser core.TrendItem) {
	if winner.Summary == "" {
		winner.Summary = loser.Summary
	}
	if winner.Title == "" {
		winner.Title = loser.Title
	}
	if winner.Published == nil {
		winner.Published = loser.Published
	}
}

// DedupKey identifies an item for deduplication: its normalized URL, or its
// source and lower-cased title when it has no URL.
func DedupKey(item core.TrendItem) string {
	if u := NormalizeURL(item.URL); u != "" {
		return "url:" + u
	}
	return "title:" + string(item.Source) + ":" + strings.ToLower(strings.TrimSpace(item.Title))
}

// NormalizeURL lower-cases the scheme and host, drops the fragment and
// trailing slash. Unparseable URLs are only trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Truncate returns at most limit items. A non-positive limit keeps all.
func Truncate(items []core.TrendItem, limit int) []core.TrendItem {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[:limit]
}
