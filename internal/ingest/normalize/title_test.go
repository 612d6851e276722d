// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalTitle(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain title unchanged",
			input:    "Sora no Kanata",
			expected: "Sora no Kanata",
		},
		{
			name:     "fullwidth latin folded",
			input:    "ＳＰＹ×ＦＡＭＩＬＹ",
			expected: "SPY×FAMILY",
		},
		{
			name:     "halfwidth katakana widened",
			input:    "ｿﾗﾉｶﾅﾀ",
			expected: "ソラノカナタ",
		},
		{
			name:     "interior whitespace collapsed",
			input:    "Sora   no\t Kanata",
			expected: "Sora no Kanata",
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "  Sora no Kanata  ",
			expected: "Sora no Kanata",
		},
		{
			name:     "edition marker stripped",
			input:    "よつばと! 新装版",
			expected: "よつばと!",
		},
		{
			name:     "complete edition marker stripped",
			input:    "鋼の錬金術師 完全版",
			expected: "鋼の錬金術師",
		},
		{
			name:     "marker inside title kept",
			input:    "新装版物語",
			expected: "新装版物語",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, CanonicalTitle(testCase.input))
		})
	}
}

func TestCanonicalTitleIdempotent(t *testing.T) {
	inputs := []string{"ＳＰＹ×ＦＡＭＩＬＹ", "よつばと! 新装版", "Sora   no Kanata"}

	for _, input := range inputs {
		once := CanonicalTitle(input)
		assert.Equal(t, once, CanonicalTitle(once), "folding must be stable for %q", input)
	}
}
