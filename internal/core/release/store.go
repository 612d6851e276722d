// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package release

import (
	"context"
	"time"
)

// # Release Data Access

// Repository defines the data access contract for releases and sightings.
type Repository interface {

	/*
		InsertIfAbsent inserts the release unless a row with the same dedup key
		(work, unit kind, unit number, platform, release date) already exists.
		The check is a single constraint-backed statement, safe under
		concurrent polls.

		Parameters:
		  - context: context.Context
		  - r: *Release (r.ID must hold a candidate UUID)

		Returns:
		  - bool: true when a new row was created; false on duplicate
		  - error: Storage failures
	*/
	InsertIfAbsent(context context.Context, r *Release) (bool, error)

	/*
		FindByDedupKey resolves the surviving row for a dedup tuple. Used when
		InsertIfAbsent reports a duplicate and the caller needs the existing
		row's identity.

		Parameters:
		  - context: context.Context
		  - workID: string (UUID)
		  - unitKind: UnitKind
		  - unitNumber: string
		  - platform: string
		  - releaseDate: time.Time

		Returns:
		  - *Release: The existing row
		  - error: ErrNotFound if missing
	*/
	FindByDedupKey(context context.Context, workID string, unitKind UnitKind, unitNumber, platform string, releaseDate time.Time) (*Release, error)

	/*
		RecordSighting notes that a source reported the release, idempotently
		per (release, source).

		Parameters:
		  - context: context.Context
		  - s: Sighting

		Returns:
		  - error: Storage failures
	*/
	RecordSighting(context context.Context, s Sighting) error

	/*
		ListSightings returns all sources that reported a release.

		Parameters:
		  - context: context.Context
		  - releaseID: string (UUID)

		Returns:
		  - []Sighting: Ordered by first-seen time
		  - error: Storage failures
	*/
	ListSightings(context context.Context, releaseID string) ([]Sighting, error)

	/*
		MarkFilteredOut flags a release as excluded by the named rule.

		Parameters:
		  - context: context.Context
		  - id: string (UUID)
		  - rule: string (Rule name for audit visibility)

		Returns:
		  - error: ErrNotFound if missing
	*/
	MarkFilteredOut(context context.Context, id string, rule string) error

	/*
		ListDispatchable returns non-filtered releases dated on or after 'from'
		that have no delivery row yet for the given channel, joined with their
		work's display fields, in ascending release-date order.

		Parameters:
		  - context: context.Context
		  - channel: string (delivery channel identifier)
		  - from: time.Time (usually start of today)
		  - limit: int

		Returns:
		  - []*PendingRelease: Eligible rows, earliest due first
		  - error: Storage failures
	*/
	ListDispatchable(context context.Context, channel string, from time.Time, limit int) ([]*PendingRelease, error)

	/*
		FindPending returns the joined release+work view for a single release.

		Parameters:
		  - context: context.Context
		  - id: string (UUID)

		Returns:
		  - *PendingRelease: Joined view
		  - error: ErrNotFound if missing
	*/
	FindPending(context context.Context, id string) (*PendingRelease, error)
}
