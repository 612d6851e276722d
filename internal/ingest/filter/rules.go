// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package filter applies exclusion rules to newly created releases.

Rule sets are data, not code: they live in a JSON file, validated against a
schema, and can change without redeploying the pipeline. Evaluation is pure
and side-effect-free — the same input against the same snapshot always
yields the same verdict.

Rule semantics:

  - Rules are ordered; the first matching rule wins.
  - keyword: case-insensitive substring match against title and description.
  - genre_block: match when any release genre is on the list.
  - platform_block: match when the platform is on the list.
  - platform_allow: match (exclude) when the platform is NOT on the list.
*/
package filter

import "strings"

// # Rule Model

// RuleType is the closed set of rule kinds.
type RuleType string

const (
	RuleKeyword       RuleType = "keyword"
	RuleGenreBlock    RuleType = "genre_block"
	RulePlatformBlock RuleType = "platform_block"
	RulePlatformAllow RuleType = "platform_allow"
)

// Rule is one exclusion rule.
type Rule struct {
	// Name identifies the rule in audit trails and on filtered rows.
	Name string `json:"name"`

	Type RuleType `json:"type"`

	// Values are the keywords, genres, or platforms the rule matches on.
	Values []string `json:"values"`
}

// RuleSet is an ordered, immutable list of rules.
//
// # Immutability
//
// A RuleSet is built once by the loader and never mutated; components hold
// a snapshot for the duration of a cycle.
type RuleSet struct {
	Rules []Rule `json:"rules"`
}

// # Evaluation Input

// Subject is the release view the rules evaluate against.
type Subject struct {
	Title       string
	Description string
	Genres      []string
	Platform    string
}

// # Evaluation

// Evaluate returns the name of the first matching rule, or ok=false when no
// rule excludes the subject.
func (set *RuleSet) Evaluate(subject Subject) (ruleName string, excluded bool) {
	for _, rule := range set.Rules {
		if rule.matches(subject) {
			return rule.Name, true
		}
	}
	return "", false
}

// matches applies one rule to the subject.
func (rule Rule) matches(subject Subject) bool {
	switch rule.Type {

	case RuleKeyword:
		haystack := strings.ToLower(subject.Title + " " + subject.Description)
		for _, keyword := range rule.Values {
			if keyword == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(keyword)) {
				return true
			}
		}
		return false

	case RuleGenreBlock:
		for _, genre := range subject.Genres {
			for _, blocked := range rule.Values {
				if strings.EqualFold(genre, blocked) {
					return true
				}
			}
		}
		return false

	case RulePlatformBlock:
		for _, blocked := range rule.Values {
			if strings.EqualFold(subject.Platform, blocked) {
				return true
			}
		}
		return false

	case RulePlatformAllow:
		for _, allowed := range rule.Values {
			if strings.EqualFold(subject.Platform, allowed) {
				return false
			}
		}
		return true
	}

	return false
}
