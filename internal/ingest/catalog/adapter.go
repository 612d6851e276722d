// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package catalog implements the structured-query source adapter.

The catalog source exposes a paged search endpoint over upcoming airing and
publishing schedules. One poll walks the lookahead window page by page,
within the source's documented per-minute call budget.

Unlike the feed sources, the catalog protocol has no conditional-fetch
token; its cursor carries only health bookkeeping.
*/
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
)

// AdapterName is the cursor key for the catalog source.
const AdapterName = "catalog"

// maxPagesPerPoll caps the page walk so a misbehaving source cannot pin a
// whole cycle on one adapter.
const maxPagesPerPoll = 20

// # Wire Types

// searchRequest is the catalog's paged query payload.
type searchRequest struct {
	Page        int    `json:"page"`
	PerPage     int    `json:"per_page"`
	ReleasedGTE string `json:"released_gte"`
	ReleasedLTE string `json:"released_lte"`
}

// searchResponse is one page of scheduling records.
type searchResponse struct {
	Items    []scheduleItem `json:"items"`
	PageInfo struct {
		HasNextPage bool `json:"has_next_page"`
	} `json:"page_info"`
}

// scheduleItem is one media+scheduling record from the catalog.
type scheduleItem struct {
	Title        string   `json:"title"`
	TitleNative  string   `json:"title_native"`
	TitleEnglish string   `json:"title_english"`
	Kind         string   `json:"kind"`
	UnitKind     string   `json:"unit_kind"`
	UnitNumber   string   `json:"unit_number"`
	Platform     string   `json:"platform"`
	ReleaseDate  string   `json:"release_date"`
	URL          string   `json:"url"`
	Genres       []string `json:"genres"`
	Description  string   `json:"description"`
}

// # Adapter

// Adapter polls the catalog search endpoint.
type Adapter struct {
	baseURL       string
	client        *source.Client
	pageSize      int
	lookaheadDays int
}

// New constructs a catalog [Adapter] with its own rate budget.
func New(baseURL string, callsPerMinute, pageSize, lookaheadDays int, timeout time.Duration) *Adapter {
	return &Adapter{
		baseURL:       baseURL,
		client:        source.NewClient(callsPerMinute, timeout),
		pageSize:      pageSize,
		lookaheadDays: lookaheadDays,
	}
}

// Name implements [source.Adapter].
func (adapter *Adapter) Name() string { return AdapterName }

/*
Poll walks the lookahead window page by page.

Description: Each page is one rate-limited POST. The walk stops when the
source reports no next page, the page cap is reached, or the context is
cancelled between calls. Candidates from already-fetched pages are returned
even when a later page fails, paired with a retryable outcome, so the
normalizer can keep the partial progress (the dedup insert makes the overlap
on the next poll harmless).

Parameters:
  - context: context.Context
  - c: *cursor.Cursor (health bookkeeping only for this protocol)

Returns:
  - []source.Candidate: Normalization input
  - string: Always empty (no validator token in this protocol)
  - source.Outcome: Poll classification
*/
func (adapter *Adapter) Poll(ctx context.Context, c *cursor.Cursor) ([]source.Candidate, string, source.Outcome) {

	today := time.Now().UTC().Truncate(24 * time.Hour)
	until := today.AddDate(0, 0, adapter.lookaheadDays)

	var candidates []source.Candidate

	for page := 1; page <= maxPagesPerPoll; page++ {
		// Cancellation is observed between calls, never mid-call.
		if err := ctx.Err(); err != nil {
			return candidates, "", source.Outcome{Kind: source.OutcomeRetryable, Err: err}
		}

		pageItems, hasNext, outcome := adapter.fetchPage(ctx, page, today, until)
		if outcome.Kind != source.OutcomeOK {
			return candidates, "", outcome
		}

		candidates = append(candidates, pageItems...)
		if !hasNext {
			break
		}
	}

	return candidates, "", source.Outcome{Kind: source.OutcomeOK}
}

// fetchPage performs one paged search call and maps its items.
func (adapter *Adapter) fetchPage(ctx context.Context, page int, from, until time.Time) ([]source.Candidate, bool, source.Outcome) {

	body, err := json.Marshal(searchRequest{
		Page:        page,
		PerPage:     adapter.pageSize,
		ReleasedGTE: from.Format("2006-01-02"),
		ReleasedLTE: until.Format("2006-01-02"),
	})
	if err != nil {
		return nil, false, source.Outcome{Kind: source.OutcomePermanent, Err: err}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		adapter.baseURL+"/v1/schedule/search", bytes.NewReader(body))
	if err != nil {
		return nil, false, source.Outcome{Kind: source.OutcomePermanent, Err: err}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := adapter.client.Do(request)
	if err != nil {
		// Transport failures (timeouts, refused connections) are retryable.
		return nil, false, source.Outcome{Kind: source.OutcomeRetryable, Err: err}
	}
	defer func() { _ = response.Body.Close() }()

	if kind := source.ClassifyHTTPStatus(response.StatusCode); kind != source.OutcomeOK {
		return nil, false, source.Outcome{
			Kind: kind,
			Err:  fmt.Errorf("catalog: unexpected status %d", response.StatusCode),
		}
	}

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, false, source.Outcome{Kind: source.OutcomeRetryable, Err: err}
	}

	var decoded searchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Data-shape failure: permanent for this cycle, raw payload kept
		// for diagnosis, cursor untouched.
		return nil, false, source.Outcome{
			Kind:       source.OutcomePermanent,
			Err:        fmt.Errorf("catalog: malformed payload: %w", err),
			RawPayload: string(raw),
		}
	}

	candidates := make([]source.Candidate, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		candidates = append(candidates, mapItem(item))
	}

	return candidates, decoded.PageInfo.HasNextPage, source.Outcome{Kind: source.OutcomeOK}
}

// mapItem shapes one wire record into a [source.Candidate].
//
// Unparsable dates yield a zero ReleaseDate; the normalizer rejects those
// individually instead of failing the page.
func mapItem(item scheduleItem) source.Candidate {
	releaseDate, _ := time.Parse("2006-01-02", item.ReleaseDate)

	unitKind := release.UnitKind(item.UnitKind)
	if !unitKind.IsValid() {
		unitKind = release.UnitEpisode
	}

	kind := work.Kind(item.Kind)
	if !kind.IsValid() {
		kind = work.KindAnime
	}

	return source.Candidate{
		Title:        item.Title,
		TitleNative:  item.TitleNative,
		TitleEnglish: item.TitleEnglish,
		Kind:         kind,
		UnitKind:     unitKind,
		UnitNumber:   item.UnitNumber,
		Platform:     item.Platform,
		ReleaseDate:  releaseDate,
		SourceURL:    item.URL,
		Genres:       item.Genres,
		Description:  item.Description,
	}
}
