// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package cursor defines per-source polling state.

Each source adapter owns exactly one cursor row keyed by source name. The
cursor carries the conditional-fetch validator token, the last successful
poll time, and the consecutive-failure counter that drives source suspension.

There is no ambient polling state anywhere in the pipeline: the cursor is
loaded, passed into the poll call, and the returned cursor is persisted.
*/
package cursor

import "time"

// # Core Entity

// Cursor is the persisted polling state for one source.
type Cursor struct {
	// Source is the unique adapter name (primary key).
	Source string `json:"source"`

	// ValidatorToken is the opaque conditional-fetch token (e.g. an ETag).
	// Empty means "no token" — the next poll fetches unconditionally.
	ValidatorToken string `json:"validator_token"`

	// LastSuccessAt is the time of the last successful poll.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// ConsecutiveFails counts non-success polls since the last success.
	ConsecutiveFails int `json:"consecutive_fails"`

	// SuspendedUntil keeps a degraded source out of the rotation until the
	// given instant. Nil means not suspended.
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsSuspended reports whether the source is out of the polling rotation at
// the given instant.
func (c *Cursor) IsSuspended(now time.Time) bool {
	return c.SuspendedUntil != nil && now.Before(*c.SuspendedUntil)
}
