// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package feed implements the feed-polling source adapter.

A feed source is a plain HTTP GET against an RSS document. The adapter sends
the previously stored validator token as an If-None-Match header; a
304 Not Modified response is a valid success with zero new candidates and an
unchanged token.

Each configured feed URL gets its own adapter instance, its own cursor row,
and its own pacing.
*/
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
)

// # Wire Types

// rssDocument is the subset of RSS 2.0 the adapter consumes.
type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

// rssItem is one feed entry.
type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	PubDate     string   `xml:"pubDate"`
	Categories  []string `xml:"category"`
}

// unitMarkers extracts a volume/episode number from a feed item title.
// Ordered: the first matching marker wins.
var unitMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bvol(?:ume)?\.?\s*([0-9]+(?:\.[0-9]+)?)`),
	regexp.MustCompile(`第\s*([0-9]+)\s*巻`),
	regexp.MustCompile(`(?i)\bep(?:isode)?\.?\s*([0-9]+(?:\.[0-9]+)?)`),
	regexp.MustCompile(`#\s*([0-9]+(?:\.[0-9]+)?)`),
}

// # Adapter

// Adapter polls one RSS feed with conditional fetch.
type Adapter struct {
	name     string
	url      string
	client   *source.Client
	unitKind release.UnitKind
	workKind work.Kind
}

// New constructs a feed [Adapter] for one feed URL.
//
// # Parameters
//   - name: Unique source name (cursor key).
//   - url: Feed URL.
//   - minPollSpacing: Minimum spacing between GETs, per the feed's etiquette.
func New(name, url string, minPollSpacing, timeout time.Duration) *Adapter {
	callsPerMinute := 1
	if minPollSpacing > 0 && minPollSpacing < time.Minute {
		callsPerMinute = int(time.Minute / minPollSpacing)
	}

	return &Adapter{
		name:     name,
		url:      url,
		client:   source.NewClient(callsPerMinute, timeout),
		unitKind: release.UnitVolume,
		workKind: work.KindManga,
	}
}

// Name implements [source.Adapter].
func (adapter *Adapter) Name() string { return adapter.name }

/*
Poll performs one conditional GET against the feed.

Description: The stored validator token travels as If-None-Match. On
304 Not Modified the poll is a success with zero candidates and the token is
returned unchanged, so the cursor's last-success time still updates and the
failure counter resets.

Parameters:
  - context: context.Context
  - c: *cursor.Cursor

Returns:
  - []source.Candidate: Parsed feed entries
  - string: New validator token (the response ETag), or the stored token on 304
  - source.Outcome: Poll classification
*/
func (adapter *Adapter) Poll(ctx context.Context, c *cursor.Cursor) ([]source.Candidate, string, source.Outcome) {

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, adapter.url, nil)
	if err != nil {
		return nil, "", source.Outcome{Kind: source.OutcomePermanent, Err: err}
	}

	// Conditional fetch: exchange the opaque validator each call.
	if c.ValidatorToken != "" {
		request.Header.Set("If-None-Match", c.ValidatorToken)
	}

	response, err := adapter.client.Do(request)
	if err != nil {
		return nil, "", source.Outcome{Kind: source.OutcomeRetryable, Err: err}
	}
	defer func() { _ = response.Body.Close() }()

	switch kind := source.ClassifyHTTPStatus(response.StatusCode); kind {
	case source.OutcomeNotModified:
		// Valid success: nothing new, token stays as-is.
		return nil, c.ValidatorToken, source.Outcome{Kind: source.OutcomeNotModified}
	case source.OutcomeOK:
		// fall through to the body parse
	default:
		return nil, "", source.Outcome{
			Kind: kind,
			Err:  fmt.Errorf("feed %s: unexpected status %d", adapter.name, response.StatusCode),
		}
	}

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, "", source.Outcome{Kind: source.OutcomeRetryable, Err: err}
	}

	var document rssDocument
	if err := xml.Unmarshal(raw, &document); err != nil {
		return nil, "", source.Outcome{
			Kind:       source.OutcomePermanent,
			Err:        fmt.Errorf("feed %s: malformed payload: %w", adapter.name, err),
			RawPayload: string(raw),
		}
	}

	candidates := make([]source.Candidate, 0, len(document.Channel.Items))
	for _, item := range document.Channel.Items {
		candidates = append(candidates, adapter.mapItem(document.Channel.Title, item))
	}

	// A stale validator simply produces a fresh one here; the source
	// signalling token staleness costs one full fetch, nothing more.
	newToken := response.Header.Get("ETag")

	return candidates, newToken, source.Outcome{Kind: source.OutcomeOK}
}

// mapItem shapes one feed entry into a [source.Candidate].
func (adapter *Adapter) mapItem(channelTitle string, item rssItem) source.Candidate {

	title, unitNumber := splitUnitMarker(item.Title)

	releaseDate := parsePubDate(item.PubDate)

	platform := channelTitle
	if len(item.Categories) > 0 {
		platform = item.Categories[0]
	}

	return source.Candidate{
		Title:       title,
		Kind:        adapter.workKind,
		UnitKind:    adapter.unitKind,
		UnitNumber:  unitNumber,
		Platform:    platform,
		ReleaseDate: releaseDate,
		SourceURL:   item.Link,
		Genres:      item.Categories,
		Description: item.Description,
	}
}

// splitUnitMarker separates "Title Vol. 12" into ("Title", "12").
//
// When no marker matches, the full title is returned with an empty unit
// number and the normalizer decides whether that is acceptable.
func splitUnitMarker(itemTitle string) (string, string) {
	for _, marker := range unitMarkers {
		if match := marker.FindStringSubmatchIndex(itemTitle); match != nil {
			title := strings.TrimSpace(itemTitle[:match[0]])
			number := itemTitle[match[2]:match[3]]
			return title, number
		}
	}
	return strings.TrimSpace(itemTitle), ""
}

// parsePubDate tries the date layouts seen in the wild for RSS pubDate.
func parsePubDate(value string) time.Time {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		"2006-01-02",
	}

	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
