// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"fmt"
	"regexp"
)

// Patterns aimed at the model rather than at a search. Phrases common in
// technical queries ("debug mode", "act as a proxy") must not match.
var defaultInjectionPatterns = []string{
	`(?i)\b(ignore|disregard|forget|override)\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`,
	`(?i)\byou\s+are\s+now\s+(a|an|my)\s+`,
	`(?i)\bpretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)\b(what|show|reveal|print|repeat)\b.{0,20}\byour\s+(system\s+)?(prompt|instructions)`,
	`(?i)\bdo\s+anything\s+now\b`,
	`(?i)\bDAN\s+mode\b`,
	`(?i)\bbypass\s+(your\s+)?(safety|content\s+filter|guardrails?)`,
	`(?i)\]\]\s*system\s*:`,
	`(?i)<\|(im_start|im_end|system|endoftext)\|>`,
	`(?i)\[/?INST\]`,
	`(?i)<</?SYS>>`,
}

// InjectionDetector blocks text matching prompt-injection patterns.
type InjectionDetector struct {
	patterns   []*regexp.Regexp
	minMatches int
}

// InjectionOption configures an InjectionDetector.
type InjectionOption func(*InjectionDetector) error

// WithPatterns adds patterns to the defaults.
func WithPatterns(patterns ...string) InjectionOption {
	return func(d *InjectionDetector) error {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("guardrail pattern %q: %w", p, err)
			}
			d.patterns = append(d.patterns, re)
		}
		return nil
	}
}

// WithMinMatches sets how many distinct patterns must match before text is
// blocked. Values below 1 are treated as 1.
func WithMinMatches(n int) InjectionOption {
	return func(d *InjectionDetector) error {
		if n < 1 {
			n = 1
		}
		d.minMatches = n
		return nil
	}
}

// NewInjectionDetector compiles the default patterns plus any added by opts.
func NewInjectionDetector(opts ...InjectionOption) (*InjectionDetector, error) {
	d := &InjectionDetector{minMatches: 1}
	for _, p := range defaultInjectionPatterns {
		d.patterns = append(d.patterns, regexp.MustCompile(p))
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ID implements Checker.
func (d *InjectionDetector) ID() string { return "prompt-injection" }

// Check implements Checker.
func (d *InjectionDetector) Check(ctx context.Context, text string) Result {
	var matched []string
	for _, re := range d.patterns {
		if ctx.Err() != nil {
			break
		}
		if re.MatchString(text) {
			matched = append(matched, re.String())
		}
	}
	if len(matched) < d.minMatches {
		return Result{}
	}
	return Result{
		Blocked: true,
		Reason:  "potential prompt injection",
		Matches: matched,
	}
}
