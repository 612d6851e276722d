// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package work defines the Work aggregate: a serialized media title tracked by
the release pipeline.

A Work is created on first sighting from any source and updated (never
replaced) on later sightings. Works are soft-deleted only, so historical
releases always keep a valid owner.

Core Responsibility:

  - Identity: (title, kind) is unique across the catalogue.
  - Kinds: Closed set of media kinds (anime, manga).
  - Variants: Optional native and English title forms alongside the canonical title.
*/
package work

import "time"

// # Domain Enums

// Kind classifies the media type of a work.
type Kind string

const (
	// KindAnime marks a broadcast series whose units are episodes.
	KindAnime Kind = "anime"

	// KindManga marks a print/digital series whose units are volumes.
	KindManga Kind = "manga"
)

// IsValid reports whether k is a recognised [Kind] value.
func (k Kind) IsValid() bool {
	switch k {
	case KindAnime, KindManga:
		return true
	}
	return false
}

// # Core Entity

// Work represents a single serialized media title.
type Work struct {
	ID string `json:"id"`

	// Title is the canonical (normalized) display title.
	Title string `json:"title"`

	// TitleNative is the original-script title, when a source provides one.
	TitleNative *string `json:"title_native,omitempty"`

	// TitleEnglish is the localized English title, when a source provides one.
	TitleEnglish *string `json:"title_english,omitempty"`

	// Kind is the media kind; (Title, Kind) is unique.
	Kind Kind `json:"kind"`

	// SourceURL points at the source-of-record page for the title.
	SourceURL string `json:"source_url"`

	// IsDeleted soft-deletes the work while preserving release history.
	IsDeleted bool `json:"is_deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
