// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package delivery provides the PostgreSQL implementation for delivery states.

State transitions are single UPDATE statements so a crash can never leave a
row half-transitioned. The failure transition computes the next state inside
the database, which keeps the retry-bound invariant intact even if two
dispatcher instances were ever pointed at the same channel by mistake.
*/
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/machiyomi/internal/platform/apperr"
	"github.com/taibuivan/machiyomi/internal/platform/database/schema"
	"github.com/taibuivan/machiyomi/internal/platform/dberr"
)

// # PostgreSQL Repository

// deliveryRepository implements the [Repository] interface using pgx.
type deliveryRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed delivery-state store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &deliveryRepository{pool: pool}
}

/*
EnsurePending lazily creates the pending row for a (release, channel).

Description: 'ON CONFLICT DO NOTHING' against the (release, channel) unique
constraint makes the creation idempotent across cycles and instances.
*/
func (repository *deliveryRepository) EnsurePending(context context.Context, id, releaseID, channel string) (bool, error) {

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (%s, %s) DO NOTHING
	`,
		schema.NotifyDeliveryState.Table,
		schema.NotifyDeliveryState.ID, schema.NotifyDeliveryState.ReleaseID,
		schema.NotifyDeliveryState.Channel, schema.NotifyDeliveryState.Status,
		schema.NotifyDeliveryState.ReleaseID, schema.NotifyDeliveryState.Channel,
	)

	result, err := repository.pool.Exec(context, query, id, releaseID, channel, StatusPending)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to ensure pending delivery: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

/*
ListAttemptable returns the channel's non-terminal rows, earliest due first.

Description: Joins the delivery row with its release and work so the
dispatcher builds payloads without extra round-trips. Terminal rows
(sent/synced/abandoned) never come back.
*/
func (repository *deliveryRepository) ListAttemptable(context context.Context, channel string, limit int) ([]*Attempt, error) {

	query := fmt.Sprintf(`
		SELECT
			d.%s, d.%s, d.%s, d.%s, d.%s, d.%s, d.%s, d.%s, d.%s, d.%s,
			r.%s, r.%s, r.%s, r.%s, r.%s, r.%s,
			w.%s, w.%s, w.%s
		FROM %s d
		JOIN %s r ON d.%s = r.%s
		JOIN %s w ON r.%s = w.%s
		WHERE d.%s = $1
		  AND d.%s IN ($2, $3, $4)
		ORDER BY r.%s ASC
		LIMIT $5
	`,
		schema.NotifyDeliveryState.ID, schema.NotifyDeliveryState.ReleaseID,
		schema.NotifyDeliveryState.Channel, schema.NotifyDeliveryState.Status,
		schema.NotifyDeliveryState.ExternalRef, schema.NotifyDeliveryState.RetryCount,
		schema.NotifyDeliveryState.LastError, schema.NotifyDeliveryState.LastAttemptAt,
		schema.NotifyDeliveryState.CreatedAt, schema.NotifyDeliveryState.UpdatedAt,
		schema.CoreRelease.UnitKind, schema.CoreRelease.UnitNumber, schema.CoreRelease.Platform,
		schema.CoreRelease.ReleaseDate, schema.CoreRelease.SourceName, schema.CoreRelease.SourceURL,
		schema.CoreWork.Title, schema.CoreWork.Kind, schema.CoreWork.SourceURL,
		schema.NotifyDeliveryState.Table,
		schema.CoreRelease.Table, schema.NotifyDeliveryState.ReleaseID, schema.CoreRelease.ID,
		schema.CoreWork.Table, schema.CoreRelease.WorkID, schema.CoreWork.ID,
		schema.NotifyDeliveryState.Channel,
		schema.NotifyDeliveryState.Status,
		schema.CoreRelease.ReleaseDate,
	)

	rows, err := repository.pool.Query(context, query,
		channel, StatusPending, StatusFailed, StatusRetrying, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list attemptable deliveries: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		err := rows.Scan(
			&a.State.ID,
			&a.State.ReleaseID,
			&a.State.Channel,
			&a.State.Status,
			&a.State.ExternalRef,
			&a.State.RetryCount,
			&a.State.LastError,
			&a.State.LastAttemptAt,
			&a.State.CreatedAt,
			&a.State.UpdatedAt,
			&a.Release.UnitKind,
			&a.Release.UnitNumber,
			&a.Release.Platform,
			&a.Release.ReleaseDate,
			&a.Release.SourceName,
			&a.Release.SourceURL,
			&a.Release.WorkTitle,
			&a.Release.WorkKind,
			&a.Release.WorkURL,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan attemptable delivery: %w", err)
		}

		a.Release.ID = a.State.ReleaseID
		attempts = append(attempts, &a)
	}

	return attempts, nil
}

/*
RecordExternalRef stores the provider reference defensively, before the
success transition.

Description: The partial unique index on (channel, externalref) rejects a
reference already attached to a different row; that surfaces as a Conflict,
which the calendar dispatcher treats as "event already owned elsewhere".
*/
func (repository *deliveryRepository) RecordExternalRef(context context.Context, id, ref string) error {

	query := fmt.Sprintf(`
		UPDATE %s SET %s = $1, %s = NOW() WHERE %s = $2
	`,
		schema.NotifyDeliveryState.Table, schema.NotifyDeliveryState.ExternalRef,
		schema.NotifyDeliveryState.UpdatedAt, schema.NotifyDeliveryState.ID,
	)

	result, err := repository.pool.Exec(context, query, ref, id)
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.Conflict("external reference already recorded for another delivery")
		}
		return fmt.Errorf("postgres: failed to record external ref: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("delivery state")
	}

	return nil
}

/*
MarkSucceeded finalises a row into its channel's success state.

Description: Reference storage and the state transition happen in the same
statement, so there is no observable instant where the call succeeded but
the state says otherwise.
*/
func (repository *deliveryRepository) MarkSucceeded(context context.Context, id string, status Status, ref *string) error {

	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $1,
			%s = COALESCE($2, %s),
			%s = NOW(),
			%s = NULL,
			%s = NOW()
		WHERE %s = $3
	`,
		schema.NotifyDeliveryState.Table,
		schema.NotifyDeliveryState.Status,
		schema.NotifyDeliveryState.ExternalRef, schema.NotifyDeliveryState.ExternalRef,
		schema.NotifyDeliveryState.LastAttemptAt,
		schema.NotifyDeliveryState.LastError,
		schema.NotifyDeliveryState.UpdatedAt,
		schema.NotifyDeliveryState.ID,
	)

	result, err := repository.pool.Exec(context, query, status, ref, id)
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.Conflict("external reference already recorded for another delivery")
		}
		return fmt.Errorf("postgres: failed to mark delivery succeeded: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("delivery state")
	}

	return nil
}

/*
MarkFailed records a failed attempt and computes the next state atomically.

Description: The CASE expression implements the state machine's failure arc:
first failure → 'failed', below the budget → 'retrying', at the budget →
'abandoned'. Terminal rows are excluded by the WHERE clause, so a stray
late failure report cannot resurrect an abandoned or delivered row.
*/
func (repository *deliveryRepository) MarkFailed(context context.Context, id string, errText string, maxRetries int) (Status, int, error) {

	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = %s + 1,
			%s = CASE
				WHEN %s + 1 >= $1 THEN '%s'
				WHEN %s = 0 THEN '%s'
				ELSE '%s'
			END,
			%s = $2,
			%s = NOW(),
			%s = NOW()
		WHERE %s = $3 AND %s IN ('%s', '%s', '%s')
		RETURNING %s, %s
	`,
		schema.NotifyDeliveryState.Table,
		schema.NotifyDeliveryState.RetryCount, schema.NotifyDeliveryState.RetryCount,
		schema.NotifyDeliveryState.Status,
		schema.NotifyDeliveryState.RetryCount, StatusAbandoned,
		schema.NotifyDeliveryState.RetryCount, StatusFailed,
		StatusRetrying,
		schema.NotifyDeliveryState.LastError,
		schema.NotifyDeliveryState.LastAttemptAt,
		schema.NotifyDeliveryState.UpdatedAt,
		schema.NotifyDeliveryState.ID, schema.NotifyDeliveryState.Status,
		StatusPending, StatusFailed, StatusRetrying,
		schema.NotifyDeliveryState.Status, schema.NotifyDeliveryState.RetryCount,
	)

	var status Status
	var retryCount int
	err := repository.pool.QueryRow(context, query, maxRetries, errText, id).Scan(&status, &retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, apperr.NotFound("delivery state")
		}
		return "", 0, fmt.Errorf("postgres: failed to mark delivery failed: %w", err)
	}

	return status, retryCount, nil
}

/*
FindByReleaseAndChannel returns one (release, channel) row.
*/
func (repository *deliveryRepository) FindByReleaseAndChannel(context context.Context, releaseID, channel string) (*State, error) {

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2
	`,
		schema.NotifyDeliveryState.ID, schema.NotifyDeliveryState.ReleaseID,
		schema.NotifyDeliveryState.Channel, schema.NotifyDeliveryState.Status,
		schema.NotifyDeliveryState.ExternalRef, schema.NotifyDeliveryState.RetryCount,
		schema.NotifyDeliveryState.LastError, schema.NotifyDeliveryState.LastAttemptAt,
		schema.NotifyDeliveryState.CreatedAt, schema.NotifyDeliveryState.UpdatedAt,
		schema.NotifyDeliveryState.Table,
		schema.NotifyDeliveryState.ReleaseID, schema.NotifyDeliveryState.Channel,
	)

	var s State
	err := repository.pool.QueryRow(context, query, releaseID, channel).Scan(
		&s.ID,
		&s.ReleaseID,
		&s.Channel,
		&s.Status,
		&s.ExternalRef,
		&s.RetryCount,
		&s.LastError,
		&s.LastAttemptAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("delivery state")
		}
		return nil, fmt.Errorf("postgres: failed to find delivery state: %w", err)
	}

	return &s, nil
}
