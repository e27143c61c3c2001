// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"fmt"

	"github.com/woozymasta/pathrules"
)

// entryMatcher holds compiled include rules for extracted entry names.
// A nil matcher includes everything.
type entryMatcher struct {
	matcher *pathrules.Matcher
}

// newEntryMatcher compiles entry include rules.
func newEntryMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*entryMatcher, error) {
	rules = normalizeIncludeRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidIncludeRules, err)
	}

	return &entryMatcher{matcher: matcher}, nil
}

// normalizeIncludeRules normalizes rule patterns and drops empty patterns.
func normalizeIncludeRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether the produced entry name passes the include rules.
func (m *entryMatcher) Match(name string) bool {
	if m == nil || m.matcher == nil {
		return true
	}

	candidate := NormalizePath(name)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}
