// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateKeyword(t *testing.T) {
	set := &RuleSet{Rules: []Rule{
		{Name: "no-recaps", Type: RuleKeyword, Values: []string{"recap", "総集編"}},
	}}

	testCases := []struct {
		name     string
		subject  Subject
		excluded bool
	}{
		{
			name:     "keyword in title",
			subject:  Subject{Title: "Sora no Kanata Recap Special"},
			excluded: true,
		},
		{
			name:     "keyword in description",
			subject:  Subject{Title: "Sora no Kanata", Description: "A recap of the first cour."},
			excluded: true,
		},
		{
			name:     "cjk keyword",
			subject:  Subject{Title: "ソラノカナタ 総集編"},
			excluded: true,
		},
		{
			name:     "clean subject",
			subject:  Subject{Title: "Sora no Kanata", Description: "Episode 12."},
			excluded: false,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			name, excluded := set.Evaluate(testCase.subject)
			assert.Equal(t, testCase.excluded, excluded)
			if excluded {
				assert.Equal(t, "no-recaps", name)
			}
		})
	}
}

func TestEvaluateGenreBlock(t *testing.T) {
	set := &RuleSet{Rules: []Rule{
		{Name: "blocked-genres", Type: RuleGenreBlock, Values: []string{"Hentai"}},
	}}

	_, excluded := set.Evaluate(Subject{Genres: []string{"Action", "hentai"}})
	assert.True(t, excluded, "genre match is case-insensitive")

	_, excluded = set.Evaluate(Subject{Genres: []string{"Action", "Drama"}})
	assert.False(t, excluded)
}

func TestEvaluatePlatformRules(t *testing.T) {
	blockSet := &RuleSet{Rules: []Rule{
		{Name: "no-mystery-platform", Type: RulePlatformBlock, Values: []string{"Shady TV"}},
	}}

	_, excluded := blockSet.Evaluate(Subject{Platform: "shady tv"})
	assert.True(t, excluded)
	_, excluded = blockSet.Evaluate(Subject{Platform: "TV Asahi"})
	assert.False(t, excluded)

	allowSet := &RuleSet{Rules: []Rule{
		{Name: "known-platforms-only", Type: RulePlatformAllow, Values: []string{"TV Asahi", "Kodansha"}},
	}}

	_, excluded = allowSet.Evaluate(Subject{Platform: "TV Asahi"})
	assert.False(t, excluded, "allow-listed platform passes")
	name, excluded := allowSet.Evaluate(Subject{Platform: "Unknown Channel"})
	assert.True(t, excluded)
	assert.Equal(t, "known-platforms-only", name)
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	set := &RuleSet{Rules: []Rule{
		{Name: "first", Type: RuleKeyword, Values: []string{"recap"}},
		{Name: "second", Type: RulePlatformBlock, Values: []string{"Shady TV"}},
	}}

	name, excluded := set.Evaluate(Subject{Title: "Recap Special", Platform: "Shady TV"})
	assert.True(t, excluded)
	assert.Equal(t, "first", name)
}

func TestEvaluateEmptySet(t *testing.T) {
	set := &RuleSet{}

	name, excluded := set.Evaluate(Subject{Title: "Anything"})
	assert.False(t, excluded)
	assert.Empty(t, name)
}
