// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit

import (
	"context"
	"time"
)

// # Audit Data Access

// Repository defines the data access contract for audit records.
type Repository interface {

	/*
		Append writes one audit record. Append-only: there is no update or
		delete anywhere in this interface.

		Parameters:
		  - context: context.Context
		  - record: *Record (record.ID must hold a candidate UUID)

		Returns:
		  - error: Storage failures
	*/
	Append(context context.Context, record *Record) error

	/*
		Summarize aggregates dispatch outcomes since the given instant.

		Parameters:
		  - context: context.Context
		  - since: time.Time

		Returns:
		  - *Summary: Aggregated counts
		  - error: Storage failures
	*/
	Summarize(context context.Context, since time.Time) (*Summary, error)

	/*
		RecentFailures returns the newest failure records, newest first.

		Parameters:
		  - context: context.Context
		  - limit: int

		Returns:
		  - []*Record: Failure and abandonment records
		  - error: Storage failures
	*/
	RecentFailures(context context.Context, limit int) ([]*Record, error)
}
