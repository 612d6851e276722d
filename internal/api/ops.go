// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/machiyomi/internal/core/audit"
	"github.com/taibuivan/machiyomi/internal/core/delivery"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/platform/apperr"
	"github.com/taibuivan/machiyomi/internal/platform/constants"
	"github.com/taibuivan/machiyomi/internal/platform/respond"
)

// defaultSummaryWindow bounds /ops/summary when no window is requested.
const defaultSummaryWindow = 24 * time.Hour

// maxRecentFailures bounds /ops/failures.
const maxRecentFailures = 100

// OpsHandler serves the operational endpoints: audit summaries, recent
// failures, source health, release tracing, and work muting.
type OpsHandler struct {
	auditRepo   audit.Repository
	works       work.Repository
	releases    release.Repository
	deliveries  delivery.Repository
	redisClient *redis.Client
	sources     []string
	logger      *slog.Logger
}

// NewOpsHandler constructs an [OpsHandler]. 'sources' lists the configured
// adapter names, so health rows appear even before a source's first poll.
func NewOpsHandler(
	auditRepo audit.Repository,
	works work.Repository,
	releases release.Repository,
	deliveries delivery.Repository,
	redisClient *redis.Client,
	sources []string,
	logger *slog.Logger,
) *OpsHandler {
	return &OpsHandler{
		auditRepo:   auditRepo,
		works:       works,
		releases:    releases,
		deliveries:  deliveries,
		redisClient: redisClient,
		sources:     sources,
		logger:      logger,
	}
}

// Summary handles GET /ops/summary?hours=N.
func (handler *OpsHandler) Summary(writer http.ResponseWriter, request *http.Request) {
	window := defaultSummaryWindow
	if raw := request.URL.Query().Get("hours"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 && hours <= 24*30 {
			window = time.Duration(hours) * time.Hour
		}
	}

	summary, err := handler.auditRepo.Summarize(request.Context(), time.Now().Add(-window))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, summary)
}

// Failures handles GET /ops/failures?limit=N.
func (handler *OpsHandler) Failures(writer http.ResponseWriter, request *http.Request) {
	limit := 20
	if raw := request.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= maxRecentFailures {
			limit = parsed
		}
	}

	failures, err := handler.auditRepo.RecentFailures(request.Context(), limit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, failures)
}

// Release handles GET /ops/releases/{id}: the joined release+work view plus
// the per-channel delivery states, for tracing one release through the
// pipeline.
func (handler *OpsHandler) Release(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")
	if _, err := uuid.Parse(id); err != nil {
		respond.Error(writer, request, apperr.ValidationError("release id must be a UUID"))
		return
	}

	pending, err := handler.releases.FindPending(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// Channels with no row yet are simply omitted: seeding happens on the
	// first dispatch cycle after creation.
	states := make([]*delivery.State, 0, 2)
	for _, channel := range []string{constants.ChannelMessage, constants.ChannelCalendar} {
		state, err := handler.deliveries.FindByReleaseAndChannel(request.Context(), id, channel)
		if err != nil {
			if appErr := apperr.As(err); appErr != nil && appErr.HTTPStatus == http.StatusNotFound {
				continue
			}
			respond.Error(writer, request, err)
			return
		}
		states = append(states, state)
	}

	respond.OK(writer, map[string]any{
		"release":    pending,
		"deliveries": states,
	})
}

// Work handles GET /ops/works/{id}.
func (handler *OpsHandler) Work(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")
	if _, err := uuid.Parse(id); err != nil {
		respond.Error(writer, request, apperr.ValidationError("work id must be a UUID"))
		return
	}

	found, err := handler.works.FindByID(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, found)
}

// MuteWork handles DELETE /ops/works/{id}. A muted work keeps its history
// but is skipped by dispatch seeding from the next cycle on.
func (handler *OpsHandler) MuteWork(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")
	if _, err := uuid.Parse(id); err != nil {
		respond.Error(writer, request, apperr.ValidationError("work id must be a UUID"))
		return
	}

	if err := handler.works.SoftDelete(request.Context(), id); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.logger.Info("work_muted", slog.String("work_id", id))
	respond.OK(writer, map[string]string{"status": "muted", "work_id": id})
}

// Sightings handles GET /ops/releases/{id}/sightings, listing every source
// that reported one release.
func (handler *OpsHandler) Sightings(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")
	if _, err := uuid.Parse(id); err != nil {
		respond.Error(writer, request, apperr.ValidationError("release id must be a UUID"))
		return
	}

	sightings, err := handler.releases.ListSightings(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, sightings)
}

// Sources handles GET /ops/sources, reading the per-source health cache.
func (handler *OpsHandler) Sources(writer http.ResponseWriter, request *http.Request) {
	type sourceHealth struct {
		Source   string `json:"source"`
		Outcome  string `json:"outcome,omitempty"`
		PolledAt string `json:"polled_at,omitempty"`
		Known    bool   `json:"known"`
	}

	results := make([]sourceHealth, 0, len(handler.sources))

	for _, name := range handler.sources {
		entry := sourceHealth{Source: name}

		raw, err := handler.redisClient.Get(request.Context(), constants.RedisPrefixSourceHealth+name).Result()
		if err == nil {
			var cached struct {
				Outcome  string `json:"outcome"`
				PolledAt string `json:"polled_at"`
			}
			if json.Unmarshal([]byte(raw), &cached) == nil {
				entry.Outcome = cached.Outcome
				entry.PolledAt = cached.PolledAt
				entry.Known = true
			}
		} else if err != redis.Nil {
			handler.logger.Warn("source_health_read_failed",
				slog.String("source", name), slog.Any("error", err))
		}

		results = append(results, entry)
	}

	respond.OK(writer, results)
}
