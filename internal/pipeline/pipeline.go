// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package pipeline orchestrates one end-to-end cycle: poll every source,
normalize and filter the candidates, then run each notification channel's
dispatcher.

Architecture:

  - Poll phase: A bounded worker pool fans out over the source adapters.
    Each source owns its cursor; a failing source never blocks the others.
  - Ingest: Candidates stream through normalization and the filter snapshot
    taken at cycle start, so a mid-cycle rule reload never half-applies.
  - Dispatch phase: The channels run concurrently and independently.

Core Responsibility:

  - Budget: The whole cycle runs under one wall-clock deadline. Overruns cut
    the cycle short between operations, never mid-operation.
  - Source health: Consecutive failures suspend a source; successes clear it.
*/
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/machiyomi/internal/core/audit"
	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/ingest/filter"
	"github.com/taibuivan/machiyomi/internal/ingest/normalize"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
	"github.com/taibuivan/machiyomi/internal/notify/dispatch"
	"github.com/taibuivan/machiyomi/internal/platform/constants"
)

// # Pipeline Wiring

// Pipeline holds everything one cycle needs.
type Pipeline struct {
	adapters    []source.Adapter
	cursors     cursor.Repository
	normalizer  *normalize.Service
	rules       *filter.Loader
	releases    release.Repository
	recorder    *audit.Recorder
	dispatchers []*dispatch.Dispatcher

	redisClient *redis.Client

	pollWorkers      int
	failureThreshold int
	suspension       time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// Options bundles the cycle tuning knobs.
type Options struct {
	PollWorkers      int
	FailureThreshold int
	Suspension       time.Duration
}

// New wires a [Pipeline].
func New(
	adapters []source.Adapter,
	cursors cursor.Repository,
	normalizer *normalize.Service,
	rules *filter.Loader,
	releases release.Repository,
	recorder *audit.Recorder,
	dispatchers []*dispatch.Dispatcher,
	redisClient *redis.Client,
	options Options,
	logger *slog.Logger,
) *Pipeline {
	if options.PollWorkers < 1 {
		options.PollWorkers = constants.DefaultPollWorkers
	}
	if options.FailureThreshold < 1 {
		options.FailureThreshold = constants.DefaultSourceFailureThreshold
	}
	if options.Suspension <= 0 {
		options.Suspension = constants.DefaultSourceSuspension
	}

	return &Pipeline{
		adapters:         adapters,
		cursors:          cursors,
		normalizer:       normalizer,
		rules:            rules,
		releases:         releases,
		recorder:         recorder,
		dispatchers:      dispatchers,
		redisClient:      redisClient,
		pollWorkers:      options.PollWorkers,
		failureThreshold: options.FailureThreshold,
		suspension:       options.Suspension,
		logger:           logger,
		now:              time.Now,
	}
}

/*
RunCycle executes one full pipeline cycle under the given context.

Description: The context carries the cycle's wall-clock budget. Phases check
it between units of work; an expired budget abandons the remainder of the
cycle and the next cycle starts clean — all state transitions inside a cycle
are idempotent, so a cut-off cycle loses progress, never correctness.

Parameters:
  - context: context.Context (deadline = cycle budget)

Returns:
  - error: Only infrastructure failures that should abort the runner
*/
func (pipeline *Pipeline) RunCycle(ctx context.Context) error {
	startedAt := pipeline.now()
	snapshot := pipeline.rules.Snapshot()

	pipeline.logger.Info("cycle_started",
		slog.Int("sources", len(pipeline.adapters)),
		slog.Int("channels", len(pipeline.dispatchers)),
	)

	pipeline.pollPhase(ctx, snapshot)

	if ctx.Err() != nil {
		pipeline.logger.Warn("cycle_budget_exhausted_before_dispatch")
		return nil
	}

	pipeline.dispatchPhase(ctx)

	pipeline.logger.Info("cycle_finished",
		slog.Duration("elapsed", pipeline.now().Sub(startedAt)),
	)

	return nil
}

// # Poll Phase

// pollPhase fans the adapters out over the worker pool and waits for all of
// them, budget permitting.
func (pipeline *Pipeline) pollPhase(ctx context.Context, snapshot *filter.RuleSet) {
	jobs := make(chan source.Adapter)

	var waitGroup sync.WaitGroup
	for worker := 0; worker < pipeline.pollWorkers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for adapter := range jobs {
				pipeline.pollOne(ctx, adapter, snapshot)
			}
		}()
	}

	for _, adapter := range pipeline.adapters {
		if ctx.Err() != nil {
			break
		}
		jobs <- adapter
	}
	close(jobs)

	waitGroup.Wait()
}

// pollOne runs one source's poll plus the ingest of its candidates.
func (pipeline *Pipeline) pollOne(ctx context.Context, adapter source.Adapter, snapshot *filter.RuleSet) {
	name := adapter.Name()
	logger := pipeline.logger.With(slog.String("source", name))

	current, err := pipeline.cursors.Load(ctx, name)
	if err != nil {
		logger.Error("cursor_load_failed", slog.Any("error", err))
		return
	}

	if current.IsSuspended(pipeline.now()) {
		logger.Info("source_suspended_skipped",
			slog.Time("until", *current.SuspendedUntil))
		return
	}

	candidates, newToken, outcome := adapter.Poll(ctx, current)
	pipeline.cacheSourceHealth(ctx, name, outcome)

	// Candidates are ingested before the cursor advances: a crash mid-ingest
	// re-polls the same window next cycle and dedup absorbs the repeats.
	// Partial pages from a failed poll are kept for the same reason.
	created := pipeline.ingestCandidates(ctx, name, candidates, snapshot, logger)

	if !outcome.IsSuccess() {
		if created > 0 {
			logger.Info("partial_poll_ingested", slog.Int("created", created))
		}
		pipeline.recordPollFailure(ctx, name, outcome, logger)
		return
	}

	if err := pipeline.cursors.RecordSuccess(ctx, name, newToken); err != nil {
		logger.Error("cursor_record_success_failed", slog.Any("error", err))
		return
	}

	detail := "no change"
	if outcome.Kind == source.OutcomeOK {
		detail = pollDetail(len(candidates), created)
	}
	pipeline.recorder.Poll(ctx, name, audit.OutcomeSuccess, detail)

	logger.Info("source_polled",
		slog.String("outcome", string(outcome.Kind)),
		slog.Int("candidates", len(candidates)),
		slog.Int("created", created),
	)
}

// recordPollFailure applies failure bookkeeping for one source.
func (pipeline *Pipeline) recordPollFailure(ctx context.Context, name string, outcome source.Outcome, logger *slog.Logger) {
	detail := string(outcome.Kind)
	if outcome.Err != nil {
		detail = outcome.Err.Error()
	}

	if outcome.Kind == source.OutcomeAuthFailed {
		// Credential failures are operator problems, surfaced loudly.
		pipeline.recorder.AuthFailure(ctx, audit.SubjectSource, name, detail)
		logger.Error("source_credentials_rejected", slog.Any("error", outcome.Err))
	}

	if outcome.Kind == source.OutcomePermanent && outcome.RawPayload != "" {
		logger.Error("source_payload_undecodable",
			slog.String("payload_head", truncate(outcome.RawPayload, 512)))
	}

	fails, suspended, err := pipeline.cursors.RecordFailure(ctx, name,
		pipeline.failureThreshold, pipeline.now().Add(pipeline.suspension))
	if err != nil {
		logger.Error("cursor_record_failure_failed", slog.Any("error", err))
		return
	}

	pipeline.recorder.Poll(ctx, name, audit.OutcomeFailure, detail)

	if suspended {
		logger.Warn("source_suspended",
			slog.Int("consecutive_fails", fails),
			slog.Duration("for", pipeline.suspension),
		)
		return
	}

	logger.Warn("source_poll_failed",
		slog.String("outcome", string(outcome.Kind)),
		slog.Int("consecutive_fails", fails),
		slog.Any("error", outcome.Err),
	)
}

// ingestCandidates normalizes and filters one poll's candidates, returning
// how many new releases were created.
func (pipeline *Pipeline) ingestCandidates(ctx context.Context, sourceName string, candidates []source.Candidate, snapshot *filter.RuleSet, logger *slog.Logger) int {
	created := 0

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}

		result, err := pipeline.normalizer.Ingest(ctx, candidate, sourceName)
		if err != nil {
			logger.Error("candidate_ingest_failed",
				slog.String("title", candidate.Title), slog.Any("error", err))
			continue
		}

		if result.Rejected != "" {
			pipeline.recorder.Ingest(ctx, sourceName, audit.OutcomeFailure,
				"rejected ("+string(result.Rejected)+"): "+truncate(candidate.Title, 120))
			continue
		}

		if !result.Created {
			continue
		}
		created++

		// Filtering happens exactly once, on creation. The release row is
		// kept either way so the decision stays visible.
		ruleName, excluded := snapshot.Evaluate(filter.Subject{
			Title:       result.CanonicalTitle,
			Description: candidate.Description,
			Genres:      candidate.Genres,
			Platform:    candidate.Platform,
		})
		if excluded {
			if err := pipeline.releases.MarkFilteredOut(ctx, result.ReleaseID, ruleName); err != nil {
				logger.Error("mark_filtered_failed",
					slog.String("release_id", result.ReleaseID), slog.Any("error", err))
				continue
			}
			logger.Info("release_filtered_out",
				slog.String("release_id", result.ReleaseID),
				slog.String("rule", ruleName),
			)
		}

		pipeline.recorder.Ingest(ctx, sourceName, audit.OutcomeSuccess,
			"created release "+result.ReleaseID)
	}

	return created
}

// cacheSourceHealth stores the latest poll outcome for the ops endpoints.
// Best effort: a Redis failure is logged and ignored.
func (pipeline *Pipeline) cacheSourceHealth(ctx context.Context, name string, outcome source.Outcome) {
	if pipeline.redisClient == nil {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"outcome":   string(outcome.Kind),
		"polled_at": pipeline.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	key := constants.RedisPrefixSourceHealth + name
	if err := pipeline.redisClient.Set(ctx, key, payload, 24*time.Hour).Err(); err != nil {
		pipeline.logger.Warn("source_health_cache_failed",
			slog.String("source", name), slog.Any("error", err))
	}
}

// # Dispatch Phase

// dispatchPhase runs every channel's dispatcher concurrently.
func (pipeline *Pipeline) dispatchPhase(ctx context.Context) {
	var waitGroup sync.WaitGroup

	for _, dispatcher := range pipeline.dispatchers {
		waitGroup.Add(1)
		go func(dispatcher *dispatch.Dispatcher) {
			defer waitGroup.Done()
			if _, err := dispatcher.RunCycle(ctx); err != nil {
				pipeline.logger.Error("dispatch_cycle_failed", slog.Any("error", err))
			}
		}(dispatcher)
	}

	waitGroup.Wait()
}

// # Helpers

func pollDetail(candidates, created int) string {
	return fmt.Sprintf("candidates=%d created=%d", candidates, created)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
