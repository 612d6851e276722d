// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package audit provides the PostgreSQL implementation for the audit log.
*/
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/machiyomi/internal/platform/database/schema"
)

// # PostgreSQL Repository

// auditRepository implements the [Repository] interface using pgx.
type auditRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed audit store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &auditRepository{pool: pool}
}

/*
Append writes one audit row.
*/
func (repository *auditRepository) Append(context context.Context, record *Record) error {

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		schema.SystemAuditLog.Table,
		schema.SystemAuditLog.ID, schema.SystemAuditLog.EventType,
		schema.SystemAuditLog.SubjectType, schema.SystemAuditLog.SubjectID,
		schema.SystemAuditLog.Channel, schema.SystemAuditLog.Outcome,
		schema.SystemAuditLog.Detail,
	)

	_, err := repository.pool.Exec(context, query,
		record.ID,
		record.EventType,
		record.SubjectType,
		record.SubjectID,
		record.Channel,
		record.Outcome,
		record.Detail,
	)

	if err != nil {
		return fmt.Errorf("postgres: failed to append audit record: %w", err)
	}

	return nil
}

/*
Summarize aggregates dispatch outcomes in one pass.

Description: Uses conditional aggregation (FILTER clauses) so the summary is
a single sequential scan over the window, never a row-level lock on release
or work tables.
*/
func (repository *auditRepository) Summarize(context context.Context, since time.Time) (*Summary, error) {

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE %s = $2 AND %s = $3),
			COUNT(*) FILTER (WHERE %s = $2 AND %s = $4),
			COUNT(*) FILTER (WHERE %s = $5),
			MAX(%s)
		FROM %s
		WHERE %s >= $1
	`,
		schema.SystemAuditLog.EventType, schema.SystemAuditLog.Outcome,
		schema.SystemAuditLog.EventType, schema.SystemAuditLog.Outcome,
		schema.SystemAuditLog.EventType,
		schema.SystemAuditLog.CreatedAt,
		schema.SystemAuditLog.Table,
		schema.SystemAuditLog.CreatedAt,
	)

	summary := &Summary{Since: since}
	err := repository.pool.QueryRow(context, query,
		since, EventDispatch, OutcomeSuccess, OutcomeFailure, EventAbandoned,
	).Scan(
		&summary.DispatchSuccesses,
		&summary.DispatchFailures,
		&summary.Abandoned,
		&summary.LastEventAt,
	)

	if err != nil {
		return nil, fmt.Errorf("postgres: failed to summarize audit log: %w", err)
	}

	return summary, nil
}

/*
RecentFailures returns the newest failure and abandonment rows.
*/
func (repository *auditRepository) RecentFailures(context context.Context, limit int) ([]*Record, error) {

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 OR %s = $2
		ORDER BY %s DESC
		LIMIT $3
	`,
		schema.SystemAuditLog.ID, schema.SystemAuditLog.EventType,
		schema.SystemAuditLog.SubjectType, schema.SystemAuditLog.SubjectID,
		schema.SystemAuditLog.Channel, schema.SystemAuditLog.Outcome,
		schema.SystemAuditLog.Detail, schema.SystemAuditLog.CreatedAt,
		schema.SystemAuditLog.Table,
		schema.SystemAuditLog.Outcome, schema.SystemAuditLog.EventType,
		schema.SystemAuditLog.CreatedAt,
	)

	rows, err := repository.pool.Query(context, query, OutcomeFailure, EventAbandoned, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list recent failures: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID,
			&r.EventType,
			&r.SubjectType,
			&r.SubjectID,
			&r.Channel,
			&r.Outcome,
			&r.Detail,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		records = append(records, &r)
	}

	return records, nil
}
