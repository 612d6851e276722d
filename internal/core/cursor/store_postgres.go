// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package cursor provides the PostgreSQL implementation for source cursors.

Both transitions are single atomic statements: a transiently failing poll
never half-updates the cursor, so the next poll re-requests the same window
rather than skipping events.
*/
package cursor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/machiyomi/internal/platform/database/schema"
)

// # PostgreSQL Repository

// cursorRepository implements the [Repository] interface using pgx.
type cursorRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed cursor store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &cursorRepository{pool: pool}
}

/*
Load returns the cursor row for a source, creating it when absent.

Description: Uses 'ON CONFLICT DO NOTHING' followed by a plain select so the
first poll of a brand-new source needs no special casing in the adapter.
*/
func (repository *cursorRepository) Load(context context.Context, source string) (*Cursor, error) {

	// First-sight row creation (no-op when the source is known)
	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1)
		ON CONFLICT (%s) DO NOTHING
	`,
		schema.CrawlerSourceCursor.Table, schema.CrawlerSourceCursor.Source,
		schema.CrawlerSourceCursor.Source,
	)

	if _, err := repository.pool.Exec(context, insertQuery, source); err != nil {
		return nil, fmt.Errorf("postgres: failed to ensure cursor row: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
	`,
		schema.CrawlerSourceCursor.Source, schema.CrawlerSourceCursor.ValidatorToken,
		schema.CrawlerSourceCursor.LastSuccessAt, schema.CrawlerSourceCursor.ConsecutiveFails,
		schema.CrawlerSourceCursor.SuspendedUntil, schema.CrawlerSourceCursor.UpdatedAt,
		schema.CrawlerSourceCursor.Table,
		schema.CrawlerSourceCursor.Source,
	)

	var c Cursor
	err := repository.pool.QueryRow(context, selectQuery, source).Scan(
		&c.Source,
		&c.ValidatorToken,
		&c.LastSuccessAt,
		&c.ConsecutiveFails,
		&c.SuspendedUntil,
		&c.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load cursor: %w", err)
	}

	return &c, nil
}

/*
RecordSuccess commits a successful poll in one statement.

Description: Stores the token, stamps the success time, zeroes the failure
counter, and lifts any suspension.
*/
func (repository *cursorRepository) RecordSuccess(context context.Context, source string, token string) error {

	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $1,
			%s = NOW(),
			%s = 0,
			%s = NULL,
			%s = NOW()
		WHERE %s = $2
	`,
		schema.CrawlerSourceCursor.Table,
		schema.CrawlerSourceCursor.ValidatorToken,
		schema.CrawlerSourceCursor.LastSuccessAt,
		schema.CrawlerSourceCursor.ConsecutiveFails,
		schema.CrawlerSourceCursor.SuspendedUntil,
		schema.CrawlerSourceCursor.UpdatedAt,
		schema.CrawlerSourceCursor.Source,
	)

	_, err := repository.pool.Exec(context, query, token, source)
	if err != nil {
		return fmt.Errorf("postgres: failed to record cursor success: %w", err)
	}

	return nil
}

/*
RecordFailure increments the failure counter and suspends on threshold.

Description: The increment and the conditional suspension happen in a single
UPDATE so two racing failure reports cannot double-suspend or lose a count.
The validator token is deliberately untouched.

Returns:
  - int: Counter value after the increment
  - bool: true when the suspension was set by this call
*/
func (repository *cursorRepository) RecordFailure(context context.Context, source string, threshold int, suspendUntil time.Time) (int, bool, error) {

	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = %s + 1,
			%s = CASE WHEN %s + 1 >= $1 THEN $2 ELSE %s END,
			%s = NOW()
		WHERE %s = $3
		RETURNING %s, (%s >= $1)
	`,
		schema.CrawlerSourceCursor.Table,
		schema.CrawlerSourceCursor.ConsecutiveFails, schema.CrawlerSourceCursor.ConsecutiveFails,
		schema.CrawlerSourceCursor.SuspendedUntil, schema.CrawlerSourceCursor.ConsecutiveFails,
		schema.CrawlerSourceCursor.SuspendedUntil,
		schema.CrawlerSourceCursor.UpdatedAt,
		schema.CrawlerSourceCursor.Source,
		schema.CrawlerSourceCursor.ConsecutiveFails, schema.CrawlerSourceCursor.ConsecutiveFails,
	)

	var fails int
	var suspended bool
	err := repository.pool.QueryRow(context, query, threshold, suspendUntil, source).Scan(&fails, &suspended)
	if err != nil {
		return 0, false, fmt.Errorf("postgres: failed to record cursor failure: %w", err)
	}

	return fails, suspended, nil
}
