// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package delivery

import "context"

// # Delivery State Data Access

// Repository defines the data access contract for delivery states.
type Repository interface {

	/*
		EnsurePending creates the (release, channel) row in status 'pending'
		if no row exists yet. An existing row — whatever its state — is left
		untouched.

		Parameters:
		  - context: context.Context
		  - id: string (Candidate UUID for the new row)
		  - releaseID: string (UUID)
		  - channel: string

		Returns:
		  - bool: true when a new row was created
		  - error: Storage failures
	*/
	EnsurePending(context context.Context, id, releaseID, channel string) (bool, error)

	/*
		ListAttemptable returns non-terminal rows for a channel joined with
		their release+work view, ordered ascending by release date. Backoff
		eligibility is the dispatcher's concern, not the store's.

		Parameters:
		  - context: context.Context
		  - channel: string
		  - limit: int (Cycle batch bound)

		Returns:
		  - []*Attempt: Candidate rows, earliest due first
		  - error: Storage failures
	*/
	ListAttemptable(context context.Context, channel string, limit int) ([]*Attempt, error)

	/*
		RecordExternalRef stores the provider-side reference on a row before
		the success transition. The per-channel unique constraint rejects a
		ref already held by a different row.

		Parameters:
		  - context: context.Context
		  - id: string (Delivery row UUID)
		  - ref: string (Provider event/message id)

		Returns:
		  - error: Conflict when the ref belongs to another row
	*/
	RecordExternalRef(context context.Context, id, ref string) error

	/*
		MarkSucceeded transitions a row to its channel's terminal success
		state, stamping the attempt time and optionally storing the external
		reference in the same statement.

		Parameters:
		  - context: context.Context
		  - id: string (Delivery row UUID)
		  - status: Status (StatusSent or StatusSynced)
		  - ref: *string (Provider reference; nil keeps the current value)

		Returns:
		  - error: ErrNotFound if missing
	*/
	MarkSucceeded(context context.Context, id string, status Status, ref *string) error

	/*
		MarkFailed records a failed attempt: increments the retry counter,
		stores the error text, stamps the attempt time, and computes the next
		state (failed on first failure, retrying below the budget, abandoned
		at the budget) — all in one atomic statement.

		Parameters:
		  - context: context.Context
		  - id: string (Delivery row UUID)
		  - errText: string
		  - maxRetries: int (Retry budget)

		Returns:
		  - Status: The state after the transition
		  - int: The retry count after the increment
		  - error: Storage failures
	*/
	MarkFailed(context context.Context, id string, errText string, maxRetries int) (Status, int, error)

	/*
		FindByReleaseAndChannel returns the row for one (release, channel).

		Parameters:
		  - context: context.Context
		  - releaseID: string (UUID)
		  - channel: string

		Returns:
		  - *State: Hydrated row
		  - error: ErrNotFound if missing
	*/
	FindByReleaseAndChannel(context context.Context, releaseID, channel string) (*State, error)
}
