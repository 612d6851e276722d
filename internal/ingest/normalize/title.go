// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// whitespaceRun collapses any run of Unicode whitespace into one space.
var whitespaceRun = regexp.MustCompile(`\s+`)

// editionMarkers are publisher edition tags that vary between sources for
// the same work. They are stripped from the tail of a title so "Title" and
// "Title (新装版)" fold to the same canonical form.
var editionMarkers = map[string]struct{}{
	"新装版": {},
	"完全版": {},
	"特装版": {},
	"限定版": {},
	"通常版": {},
}

// trailingParen matches a final parenthesized tag, e.g. "Title (新装版)".
var trailingParen = regexp.MustCompile(`^(.*?)\s*\(([^()]+)\)$`)

// CanonicalTitle folds a source-spelled title into its canonical form.
//
// # Transformation Pipeline
//
//  1. Width folding: fullwidth ASCII and halfwidth kana become their
//     canonical forms (ＡＢＣ → ABC), so CJK sources and western sources
//     agree on the same bytes.
//  2. NFKC normalization: compatibility equivalents collapse.
//  3. Whitespace: runs collapse to single spaces, ends trimmed.
//  4. Edition markers: a trailing known publisher tag is dropped.
func CanonicalTitle(raw string) string {
	folded := width.Fold.String(raw)
	folded = norm.NFKC.String(folded)
	folded = whitespaceRun.ReplaceAllString(folded, " ")
	folded = strings.TrimSpace(folded)

	if match := trailingParen.FindStringSubmatch(folded); match != nil {
		if _, known := editionMarkers[strings.TrimSpace(match[2])]; known {
			folded = strings.TrimSpace(match[1])
		}
	}

	// Bare trailing marker, e.g. "よつばと! 新装版". A separator must precede
	// the marker so titles that merely end in those characters survive.
	for marker := range editionMarkers {
		if trimmed, found := strings.CutSuffix(folded, " "+marker); found {
			folded = strings.TrimSpace(trimmed)
			break
		}
	}

	return folded
}
