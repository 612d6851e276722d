// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package audit defines the append-only history of pipeline activity.

Every dispatch attempt, poll outcome, and abandonment writes one record.
Records are never mutated or deleted by the pipeline; retention is an
external concern. Reporting reads this table instead of locking release or
work rows, so it is the only view of system health.
*/
package audit

import "time"

// # Domain Enums

// EventType classifies an audit record.
type EventType string

const (
	// EventPoll records a source poll cycle outcome.
	EventPoll EventType = "poll"

	// EventIngest records a normalization outcome (created / duplicate / rejected).
	EventIngest EventType = "ingest"

	// EventDispatch records one delivery attempt on a channel.
	EventDispatch EventType = "dispatch"

	// EventAbandoned records a delivery row hitting its retry budget. Written
	// in addition to the failure record so operators see "gave up" distinctly.
	EventAbandoned EventType = "abandoned"

	// EventAuth records a credential failure on a source or channel.
	// High severity: the subject is dead for the remainder of the cycle.
	EventAuth EventType = "auth_failure"
)

// Outcome is the success/failure classification of the audited event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// SubjectType names what the record is about.
type SubjectType string

const (
	// SubjectRelease pairs with a release UUID and a channel.
	SubjectRelease SubjectType = "release"

	// SubjectSource pairs with a source adapter name.
	SubjectSource SubjectType = "source"

	// SubjectChannel pairs with a channel name (credential failures).
	SubjectChannel SubjectType = "channel"
)

// # Core Entity

// Record is one append-only audit row.
type Record struct {
	ID string `json:"id"`

	EventType   EventType   `json:"event_type"`
	SubjectType SubjectType `json:"subject_type"`

	// SubjectID is a release UUID, a source name, or a channel name,
	// depending on SubjectType.
	SubjectID string `json:"subject_id"`

	// Channel is set for release-subject records.
	Channel *string `json:"channel,omitempty"`

	Outcome Outcome `json:"outcome"`

	// Detail is free-form context: error text, provider references, counts.
	Detail string `json:"detail"`

	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates recent audit rows for the ops endpoint.
type Summary struct {
	// Since is the lower bound of the aggregation window.
	Since time.Time `json:"since"`

	// DispatchSuccesses / DispatchFailures count dispatch records by outcome.
	DispatchSuccesses int `json:"dispatch_successes"`
	DispatchFailures  int `json:"dispatch_failures"`

	// Abandoned counts releases given up on inside the window.
	Abandoned int `json:"abandoned"`

	// LastEventAt is the newest record in the window, nil when empty.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}
