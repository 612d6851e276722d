// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package dispatch runs the per-channel notification state machine.

One Dispatcher instance exists per channel (message-delivery,
calendar-sync). Each cycle it:

 1. Seeds pending delivery rows for newly eligible releases (non-filtered,
    dated today or later, no row for this channel yet).
 2. Walks the channel's non-terminal rows in ascending release-date order,
    attempting every row whose backoff window has elapsed, up to the batch
    bound.

Channels are fully independent: a failure or slowdown in one never blocks
the other. Cancellation is observed between external calls, never mid-call,
so every attempt either completes and is recorded or leaves the row
untouched for the next cycle.
*/
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/taibuivan/machiyomi/internal/core/audit"
	"github.com/taibuivan/machiyomi/internal/core/delivery"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/platform/apperr"
	"github.com/taibuivan/machiyomi/internal/platform/constants"
	"github.com/taibuivan/machiyomi/pkg/backoff"
	"github.com/taibuivan/machiyomi/pkg/uuidv7"
)

// # Channel Contract

// Channel is one delivery mechanism plugged into the dispatcher.
type Channel interface {

	// Name returns the channel identifier used on delivery-state rows.
	Name() string

	// SuccessStatus is the channel's terminal success state
	// (StatusSent or StatusSynced).
	SuccessStatus() delivery.Status

	// DeliversOnExistingRef reports whether a stored external reference
	// alone proves delivery. True for the calendar channel: a reference
	// recorded before a crash means the event exists, so the row completes
	// without another provider call.
	DeliversOnExistingRef() bool

	/*
		Attempt performs one external delivery call for the row.

		Parameters:
		  - context: context.Context
		  - attempt: *delivery.Attempt (row + joined release/work view)

		Returns:
		  - string: Provider reference (message id / event id); may be empty
		  - error: apperr.Unauthorized aborts the channel for the cycle;
		    anything else marks the row failed with backoff
	*/
	Attempt(context context.Context, attempt *delivery.Attempt) (string, error)
}

// # Cycle Statistics

// Stats summarizes one channel dispatch cycle.
type Stats struct {
	Seeded    int
	Attempted int
	Succeeded int
	Failed    int
	Abandoned int
	Skipped   int
}

// # Dispatcher

// Dispatcher drives one channel's delivery state machine.
type Dispatcher struct {
	channel    Channel
	releases   release.Repository
	deliveries delivery.Repository
	recorder   *audit.Recorder
	policy     backoff.Policy
	maxRetries int
	batchSize  int
	logger     *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewDispatcher constructs a [Dispatcher] for one channel. Non-positive
// retry and batch arguments fall back to the platform defaults.
func NewDispatcher(
	channel Channel,
	releases release.Repository,
	deliveries delivery.Repository,
	recorder *audit.Recorder,
	policy backoff.Policy,
	maxRetries int,
	batchSize int,
	logger *slog.Logger,
) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	if batchSize <= 0 {
		batchSize = constants.DefaultDispatchBatch
	}
	return &Dispatcher{
		channel:    channel,
		releases:   releases,
		deliveries: deliveries,
		recorder:   recorder,
		policy:     policy,
		maxRetries: maxRetries,
		batchSize:  batchSize,
		logger:     logger.With(slog.String("channel", channel.Name())),
		now:        time.Now,
	}
}

/*
RunCycle executes one dispatch pass for the channel.

Description: Both phases honor the cycle context between external calls. An
authentication failure aborts the remaining rows — the channel is dead for
this cycle — while ordinary failures only affect their own row.

Parameters:
  - context: context.Context (cycle-scoped, carries the wall-clock budget)

Returns:
  - Stats: Counters for logging and tests
  - error: Storage failures only; delivery failures are state, not errors
*/
func (dispatcher *Dispatcher) RunCycle(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := dispatcher.seedPending(ctx, &stats); err != nil {
		return stats, err
	}

	attempts, err := dispatcher.deliveries.ListAttemptable(ctx, dispatcher.channel.Name(), dispatcher.batchSize)
	if err != nil {
		return stats, err
	}

	for _, attempt := range attempts {
		// Cancellation is observed between calls, never mid-call.
		if ctx.Err() != nil {
			dispatcher.logger.Warn("dispatch_cycle_cut_short",
				slog.Int("attempted", stats.Attempted),
				slog.Int("remaining", len(attempts)-stats.Attempted-stats.Skipped),
			)
			break
		}

		if !dispatcher.eligible(attempt) {
			stats.Skipped++
			continue
		}

		aborted := dispatcher.attemptOne(ctx, attempt, &stats)
		if aborted {
			break
		}
	}

	dispatcher.logger.Info("dispatch_cycle_finished",
		slog.Int("seeded", stats.Seeded),
		slog.Int("attempted", stats.Attempted),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("abandoned", stats.Abandoned),
	)

	return stats, nil
}

// seedPending creates pending rows for newly eligible releases.
func (dispatcher *Dispatcher) seedPending(ctx context.Context, stats *Stats) error {
	startOfToday := dispatcher.now().UTC().Truncate(24 * time.Hour)

	eligible, err := dispatcher.releases.ListDispatchable(ctx, dispatcher.channel.Name(), startOfToday, dispatcher.batchSize)
	if err != nil {
		return err
	}

	for _, pending := range eligible {
		created, err := dispatcher.deliveries.EnsurePending(ctx, uuidv7.New(), pending.ID, dispatcher.channel.Name())
		if err != nil {
			return err
		}
		if created {
			stats.Seeded++
		}
	}

	return nil
}

// eligible applies the backoff window to one row.
func (dispatcher *Dispatcher) eligible(attempt *delivery.Attempt) bool {
	state := attempt.State

	if state.Status == delivery.StatusPending {
		return true
	}

	if state.LastAttemptAt == nil {
		return true
	}

	eligibleAt := dispatcher.policy.NextEligibleAt(*state.LastAttemptAt, state.RetryCount)
	return !dispatcher.now().Before(eligibleAt)
}

// attemptOne runs the state machine for a single row. It returns true when
// the channel must abort for the remainder of the cycle (credential failure).
func (dispatcher *Dispatcher) attemptOne(ctx context.Context, attempt *delivery.Attempt, stats *Stats) bool {
	state := attempt.State

	// Crash-after-success protection: a stored external reference proves a
	// prior successful provider call on channels where references exist.
	if state.ExternalRef != nil && dispatcher.channel.DeliversOnExistingRef() {
		if err := dispatcher.deliveries.MarkSucceeded(ctx, state.ID, dispatcher.channel.SuccessStatus(), nil); err != nil {
			dispatcher.logger.Error("dispatch_finalize_failed",
				slog.String("delivery_id", state.ID), slog.Any("error", err))
			return false
		}
		dispatcher.recorder.DispatchSuccess(ctx, state.ReleaseID, dispatcher.channel.Name(),
			"existing external reference "+*state.ExternalRef)
		stats.Succeeded++
		return false
	}

	stats.Attempted++

	providerRef, err := dispatcher.channel.Attempt(ctx, attempt)
	if err != nil {
		return dispatcher.recordFailure(ctx, attempt, err, stats)
	}

	dispatcher.recordSuccess(ctx, attempt, providerRef, stats)
	return false
}

// recordSuccess finalizes a delivered row.
//
// Channels that prove delivery by reference persist it before the success
// transition, so a crash between the two steps is recoverable on the next
// cycle instead of producing a duplicate external effect.
func (dispatcher *Dispatcher) recordSuccess(ctx context.Context, attempt *delivery.Attempt, providerRef string, stats *Stats) {
	state := attempt.State

	if providerRef != "" && dispatcher.channel.DeliversOnExistingRef() {
		if err := dispatcher.deliveries.RecordExternalRef(ctx, state.ID, providerRef); err != nil {
			dispatcher.logger.Error("dispatch_record_ref_failed",
				slog.String("delivery_id", state.ID), slog.Any("error", err))
			// The provider call succeeded; leaving the row non-terminal lets
			// the next cycle resolve it through the stored-reference path or
			// the provider's idempotency key.
			return
		}
		if err := dispatcher.deliveries.MarkSucceeded(ctx, state.ID, dispatcher.channel.SuccessStatus(), nil); err != nil {
			dispatcher.logger.Error("dispatch_finalize_failed",
				slog.String("delivery_id", state.ID), slog.Any("error", err))
			return
		}
	} else {
		var ref *string
		if providerRef != "" {
			ref = &providerRef
		}
		if err := dispatcher.deliveries.MarkSucceeded(ctx, state.ID, dispatcher.channel.SuccessStatus(), ref); err != nil {
			dispatcher.logger.Error("dispatch_finalize_failed",
				slog.String("delivery_id", state.ID), slog.Any("error", err))
			return
		}
	}

	dispatcher.recorder.DispatchSuccess(ctx, state.ReleaseID, dispatcher.channel.Name(),
		"provider reference "+providerRef)
	stats.Succeeded++

	dispatcher.logger.Info("release_delivered",
		slog.String("release_id", state.ReleaseID),
		slog.String("work_title", attempt.Release.WorkTitle),
		slog.String("provider_ref", providerRef),
	)
}

// recordFailure applies the failure arc. It returns true when the channel
// must abort for the rest of the cycle.
func (dispatcher *Dispatcher) recordFailure(ctx context.Context, attempt *delivery.Attempt, attemptErr error, stats *Stats) bool {
	state := attempt.State

	// Credential failures kill the channel for this cycle without burning
	// the row's retry budget: the row was never really attempted.
	if appErr := apperr.As(attemptErr); appErr != nil && appErr.HTTPStatus == http.StatusUnauthorized {
		dispatcher.recorder.AuthFailure(ctx, audit.SubjectChannel, dispatcher.channel.Name(), attemptErr.Error())
		dispatcher.logger.Error("channel_credentials_rejected", slog.Any("error", attemptErr))
		return true
	}

	newStatus, retryCount, err := dispatcher.deliveries.MarkFailed(ctx, state.ID, attemptErr.Error(), dispatcher.maxRetries)
	if err != nil {
		dispatcher.logger.Error("dispatch_mark_failed_error",
			slog.String("delivery_id", state.ID), slog.Any("error", err))
		return false
	}

	dispatcher.recorder.DispatchFailure(ctx, state.ReleaseID, dispatcher.channel.Name(), attemptErr.Error())
	stats.Failed++

	if newStatus == delivery.StatusAbandoned {
		// Distinct audit record so operators can tell "gave up" from
		// "still trying".
		dispatcher.recorder.Abandoned(ctx, state.ReleaseID, dispatcher.channel.Name(),
			attemptErr.Error())
		stats.Abandoned++

		dispatcher.logger.Warn("release_delivery_abandoned",
			slog.String("release_id", state.ReleaseID),
			slog.Int("retry_count", retryCount),
		)
		return false
	}

	dispatcher.logger.Warn("release_delivery_failed",
		slog.String("release_id", state.ReleaseID),
		slog.String("status", string(newStatus)),
		slog.Int("retry_count", retryCount),
		slog.Any("error", attemptErr),
	)

	return false
}
