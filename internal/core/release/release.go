// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package release defines the Release entity: one concrete episode or volume
event belonging to a Work.

Releases carry the pipeline's central invariant. The dedup key
(work, unit kind, unit number, platform, release date) is unique, enforced by
a database constraint, so re-ingesting the same event — from the same source
or a different one — is a no-op.

Core Responsibility:

  - Dedup: Constraint-backed insert-if-absent; no read-then-write races.
  - History: Every source that reported a release is recorded as a sighting.
  - Filtering: Excluded releases keep their row, flagged filtered-out.
*/
package release

import "time"

// # Domain Enums

// UnitKind classifies the release unit.
type UnitKind string

const (
	// UnitEpisode is a broadcast episode.
	UnitEpisode UnitKind = "episode"

	// UnitVolume is a print/digital volume.
	UnitVolume UnitKind = "volume"
)

// IsValid reports whether u is a recognised [UnitKind] value.
func (u UnitKind) IsValid() bool {
	switch u {
	case UnitEpisode, UnitVolume:
		return true
	}
	return false
}

// # Core Entity

// Release represents a single dated release event for a work.
type Release struct {
	ID     string `json:"id"`
	WorkID string `json:"work_id"`

	// UnitKind and UnitNumber identify the unit. UnitNumber is a free-form
	// short string ("12", "SP1", "13.5"), never parsed as a number.
	UnitKind   UnitKind `json:"unit_kind"`
	UnitNumber string   `json:"unit_number"`

	// Platform is the distribution platform or broadcaster name.
	Platform string `json:"platform"`

	// ReleaseDate is the calendar date of the event (time component ignored).
	ReleaseDate time.Time `json:"release_date"`

	// SourceName/SourceURL identify the first source that reported the event.
	// Later sightings from other sources land in the sighting history.
	SourceName string `json:"source_name"`
	SourceURL  string `json:"source_url"`

	// IsFilteredOut marks releases excluded by the filter engine. The row is
	// retained so the exclusion is visible and never re-evaluated.
	IsFilteredOut bool `json:"is_filtered_out"`

	// FilterRule names the rule that excluded the release, when filtered.
	FilterRule *string `json:"filter_rule,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Sighting records one source reporting a release.
type Sighting struct {
	ReleaseID  string    `json:"release_id"`
	SourceName string    `json:"source_name"`
	SourceURL  string    `json:"source_url"`
	SeenAt     time.Time `json:"seen_at"`
}

// PendingRelease joins a dispatchable release with its owning work's display
// fields, as consumed by the notification dispatchers.
type PendingRelease struct {
	Release

	// WorkTitle is the canonical title of the owning work.
	WorkTitle string `json:"work_title"`

	// WorkKind is the media kind of the owning work.
	WorkKind string `json:"work_kind"`

	// WorkURL is the source-of-record URL of the owning work.
	WorkURL string `json:"work_url"`
}
