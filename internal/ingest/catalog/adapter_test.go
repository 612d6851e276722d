// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
)

func testAdapter(baseURL string) *Adapter {
	return New(baseURL, 120, 50, 14, 5*time.Second)
}

func pageResponse(titles []string, hasNext bool) string {
	type item struct {
		Title       string `json:"title"`
		Kind        string `json:"kind"`
		UnitKind    string `json:"unit_kind"`
		UnitNumber  string `json:"unit_number"`
		ReleaseDate string `json:"release_date"`
	}

	items := make([]item, 0, len(titles))
	for index, title := range titles {
		items = append(items, item{
			Title:       title,
			Kind:        "anime",
			UnitKind:    "episode",
			UnitNumber:  "1",
			ReleaseDate: time.Now().UTC().AddDate(0, 0, index+1).Format("2006-01-02"),
		})
	}

	payload, _ := json.Marshal(map[string]any{
		"items":     items,
		"page_info": map[string]bool{"has_next_page": hasNext},
	})
	return string(payload)
}

func TestPollWalksAllPages(t *testing.T) {
	var requestedPages []int
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, "/v1/schedule/search", request.URL.Path)

		var query struct {
			Page        int    `json:"page"`
			PerPage     int    `json:"per_page"`
			ReleasedGTE string `json:"released_gte"`
		}
		require.NoError(t, json.NewDecoder(request.Body).Decode(&query))
		requestedPages = append(requestedPages, query.Page)
		assert.Equal(t, 50, query.PerPage)
		assert.NotEmpty(t, query.ReleasedGTE)

		switch query.Page {
		case 1:
			_, _ = writer.Write([]byte(pageResponse([]string{"Alpha", "Beta"}, true)))
		default:
			_, _ = writer.Write([]byte(pageResponse([]string{"Gamma"}, false)))
		}
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)

	candidates, token, outcome := adapter.Poll(context.Background(), &cursor.Cursor{})

	require.Equal(t, source.OutcomeOK, outcome.Kind)
	assert.Empty(t, token, "catalog protocol has no validator token")
	assert.Equal(t, []int{1, 2}, requestedPages)
	require.Len(t, candidates, 3)
	assert.Equal(t, "Alpha", candidates[0].Title)
	assert.Equal(t, work.KindAnime, candidates[0].Kind)
	assert.Equal(t, release.UnitEpisode, candidates[0].UnitKind)
}

func TestPollKeepsPartialProgressOnPageFailure(t *testing.T) {
	// Page 1 succeeds, page 2 returns 503: the page-1 candidates must still
	// be returned, with a retryable outcome for the cursor bookkeeping.
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var query struct {
			Page int `json:"page"`
		}
		_ = json.NewDecoder(request.Body).Decode(&query)

		if query.Page == 1 {
			_, _ = writer.Write([]byte(pageResponse([]string{"Alpha"}, true)))
			return
		}
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)

	candidates, _, outcome := adapter.Poll(context.Background(), &cursor.Cursor{})

	assert.Equal(t, source.OutcomeRetryable, outcome.Kind)
	require.Len(t, candidates, 1, "page 1 progress survives the page 2 failure")
	assert.Equal(t, "Alpha", candidates[0].Title)
}

func TestPollMalformedPayloadIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"items": [`))
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)

	_, _, outcome := adapter.Poll(context.Background(), &cursor.Cursor{})

	assert.Equal(t, source.OutcomePermanent, outcome.Kind)
	assert.Contains(t, outcome.RawPayload, `{"items": [`)
}

func TestPollAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)

	_, _, outcome := adapter.Poll(context.Background(), &cursor.Cursor{})

	assert.Equal(t, source.OutcomeAuthFailed, outcome.Kind)
}

func TestMapItemDefaultsInvalidKinds(t *testing.T) {
	candidate := mapItem(scheduleItem{
		Title:       "Alpha",
		Kind:        "radio-drama",
		UnitKind:    "chapter",
		UnitNumber:  "3",
		ReleaseDate: "not-a-date",
	})

	assert.Equal(t, work.KindAnime, candidate.Kind)
	assert.Equal(t, release.UnitEpisode, candidate.UnitKind)
	assert.True(t, candidate.ReleaseDate.IsZero(), "unparsable date defers to the normalizer's rejection")
}
