// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package delivery defines per-channel delivery state for release notifications.

Each release gets at most one row per channel, enforced by a unique
(release, channel) constraint. The row is a small state machine:

	pending → sent/synced            (terminal success)
	pending → failed → retrying …    (bounded loop)
	        → abandoned              (terminal, retry budget exhausted)

Rows are created lazily when a release first becomes eligible for dispatch,
mutated only by the owning channel's dispatcher, and never deleted.

Core Responsibility:

  - Idempotency: Unique external reference prevents duplicate calendar events.
  - Retry bounds: The failed→retrying loop runs at most the configured budget.
  - Audit trail: Terminal states are distinguishable ("gave up" vs "succeeded").
*/
package delivery

import (
	"time"

	"github.com/taibuivan/machiyomi/internal/core/release"
)

// # Domain Enums

// Status is the delivery state of one (release, channel) row.
type Status string

const (
	// StatusPending marks a row awaiting its first dispatch attempt.
	StatusPending Status = "pending"

	// StatusSent is the terminal success state of the message channel.
	StatusSent Status = "sent"

	// StatusSynced is the terminal success state of the calendar channel.
	StatusSynced Status = "synced"

	// StatusFailed marks a row after its first failed attempt.
	StatusFailed Status = "failed"

	// StatusRetrying marks a row after two or more failed attempts.
	StatusRetrying Status = "retrying"

	// StatusAbandoned is terminal: the retry budget is exhausted and the
	// pipeline will not attempt the row again.
	StatusAbandoned Status = "abandoned"
)

// IsValid reports whether s is a recognised [Status] value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusSynced, StatusFailed, StatusRetrying, StatusAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether the dispatcher must never touch the row again.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusSynced || s == StatusAbandoned
}

// # Core Entity

// State is one channel's delivery record for one release.
type State struct {
	ID        string `json:"id"`
	ReleaseID string `json:"release_id"`

	// Channel is "message" or "calendar" (constants.ChannelMessage/Calendar).
	Channel string `json:"channel"`

	Status Status `json:"status"`

	// ExternalRef is the provider-side identifier (calendar event id,
	// provider message id). Unique per channel when present.
	ExternalRef *string `json:"external_ref,omitempty"`

	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`

	// LastError is the text of the most recent failure.
	LastError *string `json:"last_error,omitempty"`

	// LastAttemptAt is when the most recent attempt finished.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attempt pairs a delivery row with the joined release+work view the
// dispatcher needs to build a channel payload.
type Attempt struct {
	State   State
	Release release.PendingRelease
}
