// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package work

import "context"

// # Work Data Access

// Repository defines the data access contract for works.
type Repository interface {

	/*
		Upsert inserts the work or, when (title, kind) already exists, refreshes
		the variant titles and source URL of the existing row. In both cases the
		surviving row's ID is written back into w.ID.

		Parameters:
		  - context: context.Context
		  - w: *Work (ID may be pre-populated with a fresh UUID)

		Returns:
		  - bool: true when a new row was created
		  - error: Storage failures
	*/
	Upsert(context context.Context, w *Work) (bool, error)

	/*
		FindByID returns the work with the given ID, including soft-deleted rows
		(historical releases still need their owner).

		Parameters:
		  - context: context.Context
		  - id: string (UUID)

		Returns:
		  - *Work: Hydrated entity
		  - error: ErrNotFound if missing
	*/
	FindByID(context context.Context, id string) (*Work, error)

	/*
		SoftDelete flags a work as deleted without removing the row.

		Parameters:
		  - context: context.Context
		  - id: string (UUID)

		Returns:
		  - error: ErrNotFound if missing
	*/
	SoftDelete(context context.Context, id string) error
}
