// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package normalize maps heterogeneous candidate events into the canonical
Work/Release model and performs the dedup insert.

The flow per candidate:

 1. Reject events missing a required field (title or date) — logged, never retried.
 2. Fold the title into its canonical form.
 3. Upsert the Work keyed by (title, kind).
 4. Insert-if-absent the Release keyed by the dedup tuple — one atomic,
    constraint-backed statement, correct under concurrent polls.
 5. Record the source sighting either way, so every reporting source stays
    discoverable.

Only a newly created Release is handed to the filter engine; already-seen
releases are never re-filtered or re-queued.
*/
package normalize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
	"github.com/taibuivan/machiyomi/pkg/pointer"
	"github.com/taibuivan/machiyomi/pkg/uuidv7"
)

// # Results

// RejectReason explains why a candidate was dropped.
type RejectReason string

const (
	// RejectMissingTitle marks a candidate without a usable title.
	RejectMissingTitle RejectReason = "missing_title"

	// RejectMissingDate marks a candidate without a release date.
	RejectMissingDate RejectReason = "missing_date"

	// RejectMissingUnit marks a candidate without a unit number.
	RejectMissingUnit RejectReason = "missing_unit"
)

// Result describes the outcome of ingesting one candidate.
type Result struct {
	// Created is true when this ingestion created the release row.
	Created bool

	// ReleaseID / WorkID identify the (possibly pre-existing) rows.
	ReleaseID string
	WorkID    string

	// CanonicalTitle is the folded title, as persisted on the work.
	CanonicalTitle string

	// Rejected is non-empty when the candidate was dropped before storage.
	Rejected RejectReason
}

// # Service Layer

// Service orchestrates normalization and the dedup insert.
type Service struct {
	works    work.Repository
	releases release.Repository
	logger   *slog.Logger
}

// NewService constructs a normalization [Service].
func NewService(works work.Repository, releases release.Repository, logger *slog.Logger) *Service {
	return &Service{
		works:    works,
		releases: releases,
		logger:   logger,
	}
}

/*
Ingest normalizes one candidate and performs the dedup insert.

Description: The work upsert and the release insert are separate statements
by design — the work row must exist (and its ID be known) before the release
insert, and both statements are individually idempotent, so a crash between
them costs nothing: the next poll repeats both as no-ops.

Parameters:
  - context: context.Context
  - candidate: source.Candidate
  - sourceName: string (Reporting adapter name)

Returns:
  - *Result: Ingestion outcome (rejection, duplicate, or creation)
  - error: Storage failures only — rejection is not an error
*/
func (service *Service) Ingest(context context.Context, candidate source.Candidate, sourceName string) (*Result, error) {

	// Required-field rejection: malformed input is permanent for the item,
	// logged with enough context for diagnosis, never retried.
	if reason, ok := validateCandidate(candidate); !ok {
		service.logger.Warn("candidate_rejected",
			slog.String("source", sourceName),
			slog.String("reason", string(reason)),
			slog.String("raw_title", candidate.Title),
			slog.String("raw_url", candidate.SourceURL),
		)
		return &Result{Rejected: reason}, nil
	}

	canonicalTitle := CanonicalTitle(candidate.Title)
	if canonicalTitle == "" {
		return &Result{Rejected: RejectMissingTitle}, nil
	}

	// Work upsert keyed by (title, kind)
	workEntity := &work.Work{
		ID:        uuidv7.New(),
		Title:     canonicalTitle,
		Kind:      candidate.Kind,
		SourceURL: candidate.SourceURL,
	}
	if candidate.TitleNative != "" {
		workEntity.TitleNative = pointer.To(candidate.TitleNative)
	}
	if candidate.TitleEnglish != "" {
		workEntity.TitleEnglish = pointer.To(candidate.TitleEnglish)
	}

	if _, err := service.works.Upsert(context, workEntity); err != nil {
		return nil, fmt.Errorf("normalize: work upsert: %w", err)
	}

	// Constraint-backed insert-if-absent on the dedup tuple
	releaseEntity := &release.Release{
		ID:          uuidv7.New(),
		WorkID:      workEntity.ID,
		UnitKind:    candidate.UnitKind,
		UnitNumber:  candidate.UnitNumber,
		Platform:    candidate.Platform,
		ReleaseDate: candidate.ReleaseDate,
		SourceName:  sourceName,
		SourceURL:   candidate.SourceURL,
	}

	created, err := service.releases.InsertIfAbsent(context, releaseEntity)
	if err != nil {
		return nil, fmt.Errorf("normalize: release insert: %w", err)
	}

	releaseID := releaseEntity.ID
	if !created {
		// The dedup key already exists; resolve the surviving row so the
		// sighting lands on it.
		existing, err := service.releases.FindByDedupKey(context,
			workEntity.ID, releaseEntity.UnitKind, releaseEntity.UnitNumber,
			releaseEntity.Platform, releaseEntity.ReleaseDate)
		if err != nil {
			return nil, fmt.Errorf("normalize: resolve duplicate release: %w", err)
		}
		releaseID = existing.ID
	}

	// Sighting history: every reporting source stays discoverable.
	sighting := release.Sighting{
		ReleaseID:  releaseID,
		SourceName: sourceName,
		SourceURL:  candidate.SourceURL,
	}
	if err := service.releases.RecordSighting(context, sighting); err != nil {
		return nil, fmt.Errorf("normalize: record sighting: %w", err)
	}

	if created {
		service.logger.Info("release_created",
			slog.String("release_id", releaseID),
			slog.String("work_title", canonicalTitle),
			slog.String("unit", string(candidate.UnitKind)+" "+candidate.UnitNumber),
			slog.String("source", sourceName),
		)
	} else {
		service.logger.Debug("release_deduplicated",
			slog.String("release_id", releaseID),
			slog.String("source", sourceName),
		)
	}

	return &Result{
		Created:        created,
		ReleaseID:      releaseID,
		WorkID:         workEntity.ID,
		CanonicalTitle: canonicalTitle,
	}, nil
}

// validateCandidate applies the required-field rules.
func validateCandidate(candidate source.Candidate) (RejectReason, bool) {
	if CanonicalTitle(candidate.Title) == "" {
		return RejectMissingTitle, false
	}
	if candidate.ReleaseDate.IsZero() {
		return RejectMissingDate, false
	}
	if candidate.UnitNumber == "" {
		return RejectMissingUnit, false
	}
	return "", true
}
