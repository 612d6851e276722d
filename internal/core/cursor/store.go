// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package cursor

import (
	"context"
	"time"
)

// # Cursor Data Access

// Repository defines the data access contract for source cursors.
type Repository interface {

	/*
		Load returns the cursor for a source, creating an empty row on first
		sight of the source name.

		Parameters:
		  - context: context.Context
		  - source: string (Adapter name)

		Returns:
		  - *Cursor: Existing or freshly created state
		  - error: Storage failures
	*/
	Load(context context.Context, source string) (*Cursor, error)

	/*
		RecordSuccess stores the new validator token, stamps the success time,
		resets the consecutive-failure counter, and clears any suspension.

		Parameters:
		  - context: context.Context
		  - source: string
		  - token: string (New validator token; empty resets to "no token")

		Returns:
		  - error: Storage failures
	*/
	RecordSuccess(context context.Context, source string, token string) error

	/*
		RecordFailure increments the consecutive-failure counter without
		touching the validator token, and suspends the source until
		'suspendUntil' once the counter crosses 'threshold'.

		Parameters:
		  - context: context.Context
		  - source: string
		  - threshold: int (Failure count that triggers suspension)
		  - suspendUntil: time.Time (End of the suspension window)

		Returns:
		  - int: The counter value after the increment
		  - bool: true when this failure triggered a suspension
		  - error: Storage failures
	*/
	RecordFailure(context context.Context, source string, threshold int, suspendUntil time.Time) (int, bool, error)
}
