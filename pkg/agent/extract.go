// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/mcp"
)

// listKeys are tried in order when a tool result is an object wrapping a list.
var listKeys = []string{"items", "results", "stories", "repositories", "data", "hits", "web.results"}

var (
	titleKeys   = []string{"title", "name", "full_name"}
	urlKeys     = []string{"url", "html_url", "link", "href"}
	summaryKeys = []string{"summary", "description", "snippet", "text"}
	metaKeys    = []string{"published", "age", "publication_date", "time", "created_at", "updated_at",
		"stars", "stargazers_count", "forks", "forks_count", "language", "points", "comments", "author"}
)

// Extract turns the decoded output of a tool into trend items attributed to b.
func Extract(out any, b *mcp.Binding) []core.TrendItem {
	cfg := b.Config()
	return extractItems(out, b.Name(), b.Source(), cfg.ItemsField, cfg.ScoreField)
}

func extractItems(out any, binding string, src core.Source, itemsField, scoreField string) []core.TrendItem {
	if scoreField == "" {
		scoreField = "score"
	}
	records := records(out, itemsField)
	n := len(records)
	items := make([]core.TrendItem, 0, n)
	for i, rec := range records {
		item, ok := toItem(rec, scoreField)
		if !ok {
			continue
		}
		item.Source = src
		item.Binding = binding
		if item.Score == 0 && !hasNumber(rec, scoreField) {
			item.Score = 1 - float64(i)/float64(n)
		}
		items = append(items, item)
	}
	return items
}

// records finds the list of result objects inside out.
func records(out any, itemsField string) []map[string]any {
	switch v := out.(type) {
	case []any:
		return objects(v)
	case map[string]any:
		if itemsField != "" {
			if list, ok := lookup(v, itemsField).([]any); ok {
				return objects(list)
			}
		}
		for _, key := range listKeys {
			if list, ok := lookup(v, key).([]any); ok {
				return objects(list)
			}
		}
		return []map[string]any{v}
	case string:
		return textRecords(v)
	}
	return nil
}

// lookup resolves a dotted path in nested objects.
func lookup(m map[string]any, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// textRecords parses "Title: ...", "URL: ...", "Description: ..." blocks as
// printed by search servers that answer in plain text.
func textRecords(s string) []map[string]any {
	var out []map[string]any
	var cur map[string]any
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "title":
			if cur != nil {
				out = append(out, cur)
			}
			cur = map[string]any{"title": value}
		case "url", "description", "published", "age":
			if cur == nil {
				cur = map[string]any{}
			}
			cur[key] = value
		}
	}
	if cur != nil {
		out = append(out, cur)
	}
	return out
}

func toItem(rec map[string]any, scoreField string) (core.TrendItem, bool) {
	item := core.TrendItem{
		Title:   firstString(rec, titleKeys),
		URL:     firstString(rec, urlKeys),
		Summary: firstString(rec, summaryKeys),
	}
	if item.Title == "" && item.URL == "" {
		return item, false
	}
	if item.Title == "" {
		item.Title = item.URL
	}
	if f, ok := number(rec[scoreField]); ok {
		item.Score = f
	}
	for _, key := range metaKeys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		if item.Metadata == nil {
			item.Metadata = make(map[string]string)
		}
		item.Metadata[key] = stringify(v)
	}
	return item, true
}

func firstString(rec map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func hasNumber(rec map[string]any, key string) bool {
	_, ok := number(rec[key])
	return ok
}

// number reads a finite numeric value; NaN and infinities are rejected.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
