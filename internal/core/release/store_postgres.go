// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package release provides the PostgreSQL implementation for release storage.

It is the load-bearing wall of the pipeline's dedup story:
  - Insert-if-absent: 'ON CONFLICT DO NOTHING' against the dedup-key unique
    index, observed through the affected-row count.
  - Sighting history: append-only, idempotent per (release, source).
  - Dispatch feed: a single join query produces the per-channel work queue in
    ascending release-date order.
*/
package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/machiyomi/internal/platform/apperr"
	"github.com/taibuivan/machiyomi/internal/platform/database/schema"
)

// # PostgreSQL Repository

// releaseRepository implements the [Repository] interface using pgx.
type releaseRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed release store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &releaseRepository{pool: pool}
}

/*
InsertIfAbsent performs the atomic dedup insert.

Description: The dedup tuple has a unique index; 'ON CONFLICT DO NOTHING'
turns a duplicate into a zero-row result instead of an error. No pre-read
happens, so two concurrent polls discovering the same event cannot both
create a row.

Parameters:
  - context: context.Context
  - r: *Release

Returns:
  - bool: true when this call created the row
  - error: Storage failures
*/
func (repository *releaseRepository) InsertIfAbsent(context context.Context, r *Release) (bool, error) {

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (%s, %s, %s, %s, %s) DO NOTHING
	`,
		schema.CoreRelease.Table,
		schema.CoreRelease.ID, schema.CoreRelease.WorkID, schema.CoreRelease.UnitKind,
		schema.CoreRelease.UnitNumber, schema.CoreRelease.Platform, schema.CoreRelease.ReleaseDate,
		schema.CoreRelease.SourceName, schema.CoreRelease.SourceURL,
		schema.CoreRelease.WorkID, schema.CoreRelease.UnitKind, schema.CoreRelease.UnitNumber,
		schema.CoreRelease.Platform, schema.CoreRelease.ReleaseDate,
	)

	result, err := repository.pool.Exec(context, query,
		r.ID,
		r.WorkID,
		r.UnitKind,
		r.UnitNumber,
		r.Platform,
		r.ReleaseDate,
		r.SourceName,
		r.SourceURL,
	)

	if err != nil {
		return false, fmt.Errorf("postgres: failed to insert release: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

/*
FindByDedupKey resolves the surviving row for a dedup tuple.
*/
func (repository *releaseRepository) FindByDedupKey(context context.Context, workID string, unitKind UnitKind, unitNumber, platform string, releaseDate time.Time) (*Release, error) {

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2 AND %s = $3 AND %s = $4 AND %s = $5
	`,
		schema.CoreRelease.ID, schema.CoreRelease.WorkID, schema.CoreRelease.UnitKind,
		schema.CoreRelease.UnitNumber, schema.CoreRelease.Platform, schema.CoreRelease.ReleaseDate,
		schema.CoreRelease.SourceName, schema.CoreRelease.SourceURL, schema.CoreRelease.IsFilteredOut,
		schema.CoreRelease.FilterRule, schema.CoreRelease.CreatedAt,
		schema.CoreRelease.Table,
		schema.CoreRelease.WorkID, schema.CoreRelease.UnitKind, schema.CoreRelease.UnitNumber,
		schema.CoreRelease.Platform, schema.CoreRelease.ReleaseDate,
	)

	var r Release
	err := repository.pool.QueryRow(context, query, workID, unitKind, unitNumber, platform, releaseDate).Scan(
		&r.ID,
		&r.WorkID,
		&r.UnitKind,
		&r.UnitNumber,
		&r.Platform,
		&r.ReleaseDate,
		&r.SourceName,
		&r.SourceURL,
		&r.IsFilteredOut,
		&r.FilterRule,
		&r.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("release")
		}
		return nil, fmt.Errorf("postgres: failed to find release by dedup key: %w", err)
	}

	return &r, nil
}

/*
RecordSighting appends one (release, source) sighting, ignoring duplicates.

Description: When InsertIfAbsent reports a duplicate, the caller still records
the sighting so that every source that reported the event stays discoverable.
*/
func (repository *releaseRepository) RecordSighting(context context.Context, s Sighting) error {

	// Idempotent insertion strategy
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`,
		schema.CoreReleaseSighting.Table,
		schema.CoreReleaseSighting.ReleaseID, schema.CoreReleaseSighting.SourceName,
		schema.CoreReleaseSighting.SourceURL,
	)

	_, err := repository.pool.Exec(context, query, s.ReleaseID, s.SourceName, s.SourceURL)
	if err != nil {
		return fmt.Errorf("postgres: failed to record sighting: %w", err)
	}

	return nil
}

/*
ListSightings returns every source that reported a release, earliest first.
*/
func (repository *releaseRepository) ListSightings(context context.Context, releaseID string) ([]Sighting, error) {

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
		ORDER BY %s ASC
	`,
		schema.CoreReleaseSighting.ReleaseID, schema.CoreReleaseSighting.SourceName,
		schema.CoreReleaseSighting.SourceURL, schema.CoreReleaseSighting.SeenAt,
		schema.CoreReleaseSighting.Table,
		schema.CoreReleaseSighting.ReleaseID,
		schema.CoreReleaseSighting.SeenAt,
	)

	rows, err := repository.pool.Query(context, query, releaseID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list sightings: %w", err)
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		var s Sighting
		if err := rows.Scan(&s.ReleaseID, &s.SourceName, &s.SourceURL, &s.SeenAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan sighting: %w", err)
		}
		sightings = append(sightings, s)
	}

	return sightings, nil
}

/*
MarkFilteredOut flags a release as excluded and records the matching rule.
*/
func (repository *releaseRepository) MarkFilteredOut(context context.Context, id string, rule string) error {

	query := fmt.Sprintf(`
		UPDATE %s SET %s = TRUE, %s = $1 WHERE %s = $2
	`,
		schema.CoreRelease.Table, schema.CoreRelease.IsFilteredOut,
		schema.CoreRelease.FilterRule, schema.CoreRelease.ID,
	)

	result, err := repository.pool.Exec(context, query, rule, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark release filtered: %w", err)
	}

	// Affected row verification
	if result.RowsAffected() == 0 {
		return apperr.NotFound("release")
	}

	return nil
}

/*
ListDispatchable builds a channel's work queue for one dispatch cycle.

Description: Joins releases with their work, excludes filtered rows and rows
that already have a delivery-state row for the channel, keeps only events
dated today or later, and orders ascending by release date so a cut-short
cycle attempts the earliest-due events first.

Parameters:
  - context: context.Context
  - channel: string
  - from: time.Time (inclusive lower bound on release date)
  - limit: int (cycle batch bound)

Returns:
  - []*PendingRelease: Eligible joined rows
  - error: Storage failures
*/
func (repository *releaseRepository) ListDispatchable(context context.Context, channel string, from time.Time, limit int) ([]*PendingRelease, error) {

	query := fmt.Sprintf(`
		SELECT
			r.%s, r.%s, r.%s, r.%s, r.%s, r.%s, r.%s, r.%s, r.%s,
			w.%s, w.%s, w.%s
		FROM %s r
		JOIN %s w ON r.%s = w.%s
		WHERE r.%s = FALSE
		  AND w.%s = FALSE
		  AND r.%s >= $1
		  AND NOT EXISTS (
			SELECT 1 FROM %s d
			WHERE d.%s = r.%s AND d.%s = $2
		  )
		ORDER BY r.%s ASC
		LIMIT $3
	`,
		schema.CoreRelease.ID, schema.CoreRelease.WorkID, schema.CoreRelease.UnitKind,
		schema.CoreRelease.UnitNumber, schema.CoreRelease.Platform, schema.CoreRelease.ReleaseDate,
		schema.CoreRelease.SourceName, schema.CoreRelease.SourceURL, schema.CoreRelease.CreatedAt,
		schema.CoreWork.Title, schema.CoreWork.Kind, schema.CoreWork.SourceURL,
		schema.CoreRelease.Table,
		schema.CoreWork.Table, schema.CoreRelease.WorkID, schema.CoreWork.ID,
		schema.CoreRelease.IsFilteredOut,
		schema.CoreWork.IsDeleted,
		schema.CoreRelease.ReleaseDate,
		schema.NotifyDeliveryState.Table,
		schema.NotifyDeliveryState.ReleaseID, schema.CoreRelease.ID, schema.NotifyDeliveryState.Channel,
		schema.CoreRelease.ReleaseDate,
	)

	rows, err := repository.pool.Query(context, query, from, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list dispatchable releases: %w", err)
	}
	defer rows.Close()

	var pending []*PendingRelease
	for rows.Next() {
		var p PendingRelease
		err := rows.Scan(
			&p.ID,
			&p.WorkID,
			&p.UnitKind,
			&p.UnitNumber,
			&p.Platform,
			&p.ReleaseDate,
			&p.SourceName,
			&p.SourceURL,
			&p.CreatedAt,
			&p.WorkTitle,
			&p.WorkKind,
			&p.WorkURL,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan dispatchable release: %w", err)
		}
		pending = append(pending, &p)
	}

	return pending, nil
}

/*
FindPending returns the joined release+work view for one release.
*/
func (repository *releaseRepository) FindPending(context context.Context, id string) (*PendingRelease, error) {

	query := fmt.Sprintf(`
		SELECT
			r.%s, r.%s, r.%s, r.%s, r.%s, r.%s, r.%s, r.%s, r.%s, r.%s,
			w.%s, w.%s, w.%s
		FROM %s r
		JOIN %s w ON r.%s = w.%s
		WHERE r.%s = $1
	`,
		schema.CoreRelease.ID, schema.CoreRelease.WorkID, schema.CoreRelease.UnitKind,
		schema.CoreRelease.UnitNumber, schema.CoreRelease.Platform, schema.CoreRelease.ReleaseDate,
		schema.CoreRelease.SourceName, schema.CoreRelease.SourceURL, schema.CoreRelease.IsFilteredOut,
		schema.CoreRelease.CreatedAt,
		schema.CoreWork.Title, schema.CoreWork.Kind, schema.CoreWork.SourceURL,
		schema.CoreRelease.Table,
		schema.CoreWork.Table, schema.CoreRelease.WorkID, schema.CoreWork.ID,
		schema.CoreRelease.ID,
	)

	var p PendingRelease
	err := repository.pool.QueryRow(context, query, id).Scan(
		&p.ID,
		&p.WorkID,
		&p.UnitKind,
		&p.UnitNumber,
		&p.Platform,
		&p.ReleaseDate,
		&p.SourceName,
		&p.SourceURL,
		&p.IsFilteredOut,
		&p.CreatedAt,
		&p.WorkTitle,
		&p.WorkKind,
		&p.WorkURL,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("release")
		}
		return nil, fmt.Errorf("postgres: failed to find release: %w", err)
	}

	return &p, nil
}
