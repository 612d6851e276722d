// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package work provides the PostgreSQL implementation for the work catalogue.

The upsert path leans on the unique (title, kind) constraint: concurrent polls
that discover the same title race harmlessly, because ON CONFLICT resolves the
winner inside the database rather than in application code.
*/
package work

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/machiyomi/internal/platform/apperr"
	"github.com/taibuivan/machiyomi/internal/platform/database/schema"
)

// # PostgreSQL Repository

// workRepository implements the [Repository] interface using pgx.
type workRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed work store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &workRepository{pool: pool}
}

/*
Upsert inserts a work or refreshes the existing (title, kind) row.

Description: Uses 'ON CONFLICT ... DO UPDATE' with a RETURNING clause so the
surviving row's identity and creation time come back in a single round-trip.
The xmax system column distinguishes a fresh insert from a conflict-update.

Parameters:
  - context: context.Context
  - w: *Work (w.ID must hold a candidate UUID; it is replaced on conflict)

Returns:
  - bool: true when a brand-new row was created
  - error: Storage failures
*/
func (repository *workRepository) Upsert(context context.Context, w *Work) (bool, error) {

	// Conflict-resolving insert with identity return
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (%s, %s) DO UPDATE SET
			%s = COALESCE(EXCLUDED.%s, %s.%s),
			%s = COALESCE(EXCLUDED.%s, %s.%s),
			%s = EXCLUDED.%s,
			%s = NOW()
		RETURNING %s, (xmax = 0) AS inserted
	`,
		schema.CoreWork.Table,
		schema.CoreWork.ID, schema.CoreWork.Title, schema.CoreWork.TitleNative,
		schema.CoreWork.TitleEnglish, schema.CoreWork.Kind, schema.CoreWork.SourceURL,
		schema.CoreWork.Title, schema.CoreWork.Kind,
		schema.CoreWork.TitleNative, schema.CoreWork.TitleNative, schema.CoreWork.Table, schema.CoreWork.TitleNative,
		schema.CoreWork.TitleEnglish, schema.CoreWork.TitleEnglish, schema.CoreWork.Table, schema.CoreWork.TitleEnglish,
		schema.CoreWork.SourceURL, schema.CoreWork.SourceURL,
		schema.CoreWork.UpdatedAt,
		schema.CoreWork.ID,
	)

	var created bool
	err := repository.pool.QueryRow(context, query,
		w.ID,
		w.Title,
		w.TitleNative,
		w.TitleEnglish,
		w.Kind,
		w.SourceURL,
	).Scan(&w.ID, &created)

	if err != nil {
		return false, fmt.Errorf("postgres: failed to upsert work: %w", err)
	}

	return created, nil
}

/*
FindByID returns a work by its identifier.

Description: Soft-deleted rows are returned too; release history keeps
referencing deleted works and callers decide how to present them.

Parameters:
  - context: context.Context
  - id: string (UUID)

Returns:
  - *Work: Hydrated entity
  - error: apperr.NotFound on absent rows
*/
func (repository *workRepository) FindByID(context context.Context, id string) (*Work, error) {

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
	`,
		schema.CoreWork.ID, schema.CoreWork.Title, schema.CoreWork.TitleNative,
		schema.CoreWork.TitleEnglish, schema.CoreWork.Kind, schema.CoreWork.SourceURL,
		schema.CoreWork.IsDeleted, schema.CoreWork.CreatedAt, schema.CoreWork.UpdatedAt,
		schema.CoreWork.Table,
		schema.CoreWork.ID,
	)

	var w Work
	err := repository.pool.QueryRow(context, query, id).Scan(
		&w.ID,
		&w.Title,
		&w.TitleNative,
		&w.TitleEnglish,
		&w.Kind,
		&w.SourceURL,
		&w.IsDeleted,
		&w.CreatedAt,
		&w.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("work")
		}
		return nil, fmt.Errorf("postgres: failed to find work by id: %w", err)
	}

	return &w, nil
}

/*
SoftDelete hides a work record while preserving referential integrity.
*/
func (repository *workRepository) SoftDelete(context context.Context, id string) error {

	// Flag update execution
	query := fmt.Sprintf(`UPDATE %s SET %s = TRUE, %s = NOW() WHERE %s = $1 AND %s = FALSE`,
		schema.CoreWork.Table, schema.CoreWork.IsDeleted, schema.CoreWork.UpdatedAt,
		schema.CoreWork.ID, schema.CoreWork.IsDeleted)

	result, err := repository.pool.Exec(context, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to soft delete work: %w", err)
	}

	// Affected row verification
	if result.RowsAffected() == 0 {
		return apperr.NotFound("work")
	}

	return nil
}
