// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package source defines the contract every source adapter implements.

An adapter owns exactly one external protocol. It receives the persisted
cursor for its source, performs one rate-limited poll, and returns candidate
events plus a new cursor and an explicit outcome. Adapters never raise
failures past their boundary: every failure path is an outcome value.

Core Responsibility:

  - Pacing: Every adapter self-throttles to its source's documented budget.
  - Safety: Transient failures leave the cursor unchanged (no data loss).
  - Classification: Outcomes are explicit (success | retryable | permanent),
    inspected by the pipeline, never inferred from error strings.
*/
package source

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
)

// # Outcome Taxonomy

// OutcomeKind classifies the result of one poll.
type OutcomeKind string

const (
	// OutcomeOK means the poll succeeded and may carry candidates.
	OutcomeOK OutcomeKind = "ok"

	// OutcomeNotModified means the source reported no change since the
	// stored validator token. Zero candidates, token unchanged, still a
	// success for cursor bookkeeping.
	OutcomeNotModified OutcomeKind = "not_modified"

	// OutcomeRetryable covers transport errors, timeouts, 5xx, and
	// rate-limit signals. The cursor must stay unchanged.
	OutcomeRetryable OutcomeKind = "retryable"

	// OutcomePermanent covers malformed payloads: permanent for this poll
	// cycle only, logged with the raw payload, never retried within the cycle.
	OutcomePermanent OutcomeKind = "permanent"

	// OutcomeAuthFailed covers credential rejection: the source is dead for
	// the remainder of the cycle and surfaced as a high-severity audit record.
	OutcomeAuthFailed OutcomeKind = "auth_failed"
)

// Outcome is the explicit result of one poll call.
type Outcome struct {
	Kind OutcomeKind

	// Err carries the underlying failure for logging. Nil on success.
	Err error

	// RawPayload holds the undecodable body on OutcomePermanent, for diagnosis.
	RawPayload string
}

// IsSuccess reports whether the poll should reset the failure counter.
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeOK || o.Kind == OutcomeNotModified
}

// # Candidate Events

// Candidate is one raw-but-shaped release event produced by an adapter,
// before normalization.
type Candidate struct {
	// Title is the work title as the source spells it.
	Title string

	// TitleNative / TitleEnglish are optional variant spellings.
	TitleNative  string
	TitleEnglish string

	// Kind is the media kind the source reports.
	Kind work.Kind

	// UnitKind / UnitNumber identify the unit ("12", "SP1").
	UnitKind   release.UnitKind
	UnitNumber string

	// Platform is the distribution platform or broadcaster.
	Platform string

	// ReleaseDate is the event date.
	ReleaseDate time.Time

	// SourceURL links to the source page for this event.
	SourceURL string

	// Genres feed the filter engine's genre blocklist.
	Genres []string

	// Description feeds the filter engine's keyword matching.
	Description string
}

// # Adapter Contract

// Adapter is one external source protocol.
type Adapter interface {

	// Name returns the unique source name used as the cursor key.
	Name() string

	/*
		Poll performs one poll against the external source.

		Parameters:
		  - context: context.Context (observed between HTTP calls, never mid-call)
		  - c: *cursor.Cursor (persisted state; must not be mutated)

		Returns:
		  - []Candidate: Zero or more candidate events
		  - string: The new validator token (persist only on success)
		  - Outcome: Explicit poll classification
	*/
	Poll(context context.Context, c *cursor.Cursor) ([]Candidate, string, Outcome)
}

// # Throttled HTTP Client

// Client pairs an [http.Client] with a token-bucket limiter.
//
// # Rate limiting
//
// Pacing is a hard constraint, not an optimization: repeated violations can
// get the source credentials blocked. Every outbound request waits on the
// bucket first, honoring context cancellation while queued.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a throttled client allowing callsPerMinute requests.
func NewClient(callsPerMinute int, timeout time.Duration) *Client {
	if callsPerMinute < 1 {
		callsPerMinute = 1
	}

	interval := time.Minute / time.Duration(callsPerMinute)
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Do waits for a rate-limit token, then performs the request.
//
// A context cancelled while queued returns before any network traffic.
func (client *Client) Do(request *http.Request) (*http.Response, error) {
	if err := client.limiter.Wait(request.Context()); err != nil {
		return nil, err
	}
	return client.httpClient.Do(request)
}

// ClassifyHTTPStatus maps a response status to an [OutcomeKind].
func ClassifyHTTPStatus(status int) OutcomeKind {
	switch {
	case status == http.StatusNotModified:
		return OutcomeNotModified
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeAuthFailed
	case status == http.StatusTooManyRequests || status >= 500:
		return OutcomeRetryable
	case status >= 200 && status < 300:
		return OutcomeOK
	default:
		return OutcomePermanent
	}
}
