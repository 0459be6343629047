// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"reflect"
	"testing"
)

func newFilter(t *testing.T, opts ...ToolFilterOption) *ToolFilter {
	t.Helper()
	tf, err := NewToolFilter(opts...)
	if err != nil {
		t.Fatalf("NewToolFilter: %v", err)
	}
	return tf
}

func TestToolFilter_Empty(t *testing.T) {
	tf := newFilter(t)
	if !tf.Empty() {
		t.Fatal("filter without rules must be empty")
	}
	if !tf.IsAllowed("search_repositories").Allowed {
		t.Error("empty filter should allow all tools")
	}

	var nilFilter *ToolFilter
	if !nilFilter.IsAllowed("x").Allowed {
		t.Error("nil filter should allow all tools")
	}
}

func TestToolFilter_Rules(t *testing.T) {
	tf := newFilter(t,
		WithAllowlist([]string{"search_*", "get_issue"}),
		WithDenylist([]string{"search_code", " "}),
	)

	tests := []struct {
		tool    string
		allowed bool
		rule    string
	}{
		{"search_repositories", true, "search_*"},
		{"get_issue", true, "get_issue"},
		{"search_code", false, "search_code"},
		{"create_issue", false, ""},
		{"delete_repository", false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.tool, func(t *testing.T) {
			d := tf.IsAllowed(tc.tool)
			if d.Allowed != tc.allowed || d.Rule != tc.rule {
				t.Errorf("got %+v, want allowed=%v rule=%q", d, tc.allowed, tc.rule)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("denied decision without reason")
			}
		})
	}
}

func TestToolFilter_DenyOnly(t *testing.T) {
	tf := newFilter(t, WithDenylist([]string{"create_*", "delete_*"}))

	kept, dropped := tf.Filter([]string{"search_repositories", "create_issue", "get_file_contents", "delete_branch"})
	if want := []string{"search_repositories", "get_file_contents"}; !reflect.DeepEqual(kept, want) {
		t.Errorf("kept = %v, want %v", kept, want)
	}
	if want := []string{"create_issue", "delete_branch"}; !reflect.DeepEqual(dropped, want) {
		t.Errorf("dropped = %v, want %v", dropped, want)
	}
}

func TestToolFilter_BadPattern(t *testing.T) {
	if _, err := NewToolFilter(WithAllowlist([]string{"search_[", "ok"})); err == nil {
		t.Fatal("malformed pattern must fail")
	}
	if err := ValidatePattern("get_*"); err != nil {
		t.Fatalf("valid pattern rejected: %v", err)
	}
}
