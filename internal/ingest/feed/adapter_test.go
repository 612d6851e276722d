// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Kodansha Releases</title>
    <item>
      <title>Yotsuba Vol. 16</title>
      <link>https://feeds.example.test/yotsuba/16</link>
      <description>The long awaited volume.</description>
      <pubDate>Fri, 04 Sep 2026 00:00:00 +0900</pubDate>
      <category>Slice of Life</category>
    </item>
    <item>
      <title>ワンダー 第12巻</title>
      <link>https://feeds.example.test/wonder/12</link>
      <pubDate>2026-09-10</pubDate>
    </item>
  </channel>
</rss>`

func testAdapter(url string) *Adapter {
	return New("test-feed", url, 0, 5*time.Second)
}

func TestPollParsesFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("ETag", `"v1"`)
		_, _ = writer.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)

	candidates, token, outcome := adapter.Poll(context.Background(), &cursor.Cursor{})

	require.Equal(t, source.OutcomeOK, outcome.Kind)
	assert.Equal(t, `"v1"`, token)
	require.Len(t, candidates, 2)

	first := candidates[0]
	assert.Equal(t, "Yotsuba", first.Title)
	assert.Equal(t, "16", first.UnitNumber)
	assert.Equal(t, "Slice of Life", first.Platform, "first category becomes the platform")
	assert.Equal(t, 2026, first.ReleaseDate.Year())

	second := candidates[1]
	assert.Equal(t, "ワンダー", second.Title)
	assert.Equal(t, "12", second.UnitNumber)
	assert.Equal(t, "Kodansha Releases", second.Platform, "channel title is the platform fallback")
}

func TestPollSendsValidatorAndHandlesNotModified(t *testing.T) {
	var receivedValidator string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedValidator = request.Header.Get("If-None-Match")
		writer.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)

	candidates, token, outcome := adapter.Poll(context.Background(), &cursor.Cursor{ValidatorToken: `"v1"`})

	assert.Equal(t, `"v1"`, receivedValidator, "stored token must travel as If-None-Match")
	assert.Equal(t, source.OutcomeNotModified, outcome.Kind)
	assert.True(t, outcome.IsSuccess(), "not-modified counts as a successful poll")
	assert.Empty(t, candidates)
	assert.Equal(t, `"v1"`, token, "token unchanged on 304")
}

func TestPollClassifiesFailures(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		expected source.OutcomeKind
	}{
		{name: "server error", status: http.StatusInternalServerError, expected: source.OutcomeRetryable},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: source.OutcomeRetryable},
		{name: "unauthorized", status: http.StatusUnauthorized, expected: source.OutcomeAuthFailed},
		{name: "gone", status: http.StatusGone, expected: source.OutcomePermanent},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(testCase.status)
			}))
			defer server.Close()

			adapter := testAdapter(server.URL)

			candidates, token, outcome := adapter.Poll(context.Background(), &cursor.Cursor{})

			assert.Equal(t, testCase.expected, outcome.Kind)
			assert.Error(t, outcome.Err)
			assert.Empty(t, candidates)
			assert.Empty(t, token, "failures must not produce a new token")
		})
	}
}

func TestPollMalformedPayloadKeepsRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte("this is not xml"))
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)

	_, _, outcome := adapter.Poll(context.Background(), &cursor.Cursor{})

	assert.Equal(t, source.OutcomePermanent, outcome.Kind)
	assert.Contains(t, outcome.RawPayload, "this is not xml", "raw payload retained for diagnosis")
}

func TestSplitUnitMarker(t *testing.T) {
	testCases := []struct {
		input          string
		expectedTitle  string
		expectedNumber string
	}{
		{"Yotsuba Vol. 16", "Yotsuba", "16"},
		{"Yotsuba Volume 16", "Yotsuba", "16"},
		{"ワンダー 第12巻", "ワンダー", "12"},
		{"Sora no Kanata Ep. 12", "Sora no Kanata", "12"},
		{"Sora no Kanata #12.5", "Sora no Kanata", "12.5"},
		{"No Marker Here", "No Marker Here", ""},
	}

	for _, testCase := range testCases {
		t.Run(testCase.input, func(t *testing.T) {
			title, number := splitUnitMarker(testCase.input)
			assert.Equal(t, testCase.expectedTitle, title)
			assert.Equal(t, testCase.expectedNumber, number)
		})
	}
}
