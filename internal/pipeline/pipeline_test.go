// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/machiyomi/internal/core/audit"
	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/ingest/filter"
	"github.com/taibuivan/machiyomi/internal/ingest/normalize"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
)

// # Fakes

type fakeAdapter struct {
	name       string
	candidates []source.Candidate
	token      string
	outcome    source.Outcome
	polled     bool
}

func (adapter *fakeAdapter) Name() string { return adapter.name }

func (adapter *fakeAdapter) Poll(_ context.Context, _ *cursor.Cursor) ([]source.Candidate, string, source.Outcome) {
	adapter.polled = true
	return adapter.candidates, adapter.token, adapter.outcome
}

type fakeCursorRepo struct {
	cursors   map[string]*cursor.Cursor
	successes map[string]string
	failures  map[string]int
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{
		cursors:   map[string]*cursor.Cursor{},
		successes: map[string]string{},
		failures:  map[string]int{},
	}
}

func (repo *fakeCursorRepo) Load(_ context.Context, sourceName string) (*cursor.Cursor, error) {
	if existing, ok := repo.cursors[sourceName]; ok {
		return existing, nil
	}
	fresh := &cursor.Cursor{Source: sourceName}
	repo.cursors[sourceName] = fresh
	return fresh, nil
}

func (repo *fakeCursorRepo) RecordSuccess(_ context.Context, sourceName, token string) error {
	repo.successes[sourceName] = token
	return nil
}

func (repo *fakeCursorRepo) RecordFailure(_ context.Context, sourceName string, threshold int, _ time.Time) (int, bool, error) {
	repo.failures[sourceName]++
	count := repo.failures[sourceName]
	return count, count >= threshold, nil
}

type fakeWorkRepo struct {
	work.Repository
	byKey map[string]string
}

func (repo *fakeWorkRepo) Upsert(_ context.Context, w *work.Work) (bool, error) {
	key := w.Title + "|" + string(w.Kind)
	if id, ok := repo.byKey[key]; ok {
		w.ID = id
		return false, nil
	}
	repo.byKey[key] = w.ID
	return true, nil
}

type fakeReleaseRepo struct {
	release.Repository

	rows     map[string]*release.Release
	filtered map[string]string
}

func newFakeReleaseRepo() *fakeReleaseRepo {
	return &fakeReleaseRepo{rows: map[string]*release.Release{}, filtered: map[string]string{}}
}

func (repo *fakeReleaseRepo) InsertIfAbsent(_ context.Context, r *release.Release) (bool, error) {
	key := r.WorkID + "|" + string(r.UnitKind) + "|" + r.UnitNumber + "|" + r.Platform
	if _, ok := repo.rows[key]; ok {
		return false, nil
	}
	repo.rows[key] = r
	return true, nil
}

func (repo *fakeReleaseRepo) RecordSighting(_ context.Context, _ release.Sighting) error {
	return nil
}

func (repo *fakeReleaseRepo) MarkFilteredOut(_ context.Context, id, rule string) error {
	repo.filtered[id] = rule
	return nil
}

func (repo *fakeReleaseRepo) ListDispatchable(_ context.Context, _ string, _ time.Time, _ int) ([]*release.PendingRelease, error) {
	return nil, nil
}

type fakeAuditRepo struct {
	records []*audit.Record
}

func (repo *fakeAuditRepo) Append(_ context.Context, record *audit.Record) error {
	repo.records = append(repo.records, record)
	return nil
}

func (repo *fakeAuditRepo) Summarize(_ context.Context, _ time.Time) (*audit.Summary, error) {
	return nil, nil
}

func (repo *fakeAuditRepo) RecentFailures(_ context.Context, _ int) ([]*audit.Record, error) {
	return nil, nil
}

// # Helpers

func emptyRules(t *testing.T) *filter.Loader {
	t.Helper()

	loader, err := filter.NewLoader(filepath.Join(t.TempDir(), "absent.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return loader
}

func rulesFrom(t *testing.T, content string) *filter.Loader {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader, err := filter.NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return loader
}

func testCandidate(title string) source.Candidate {
	return source.Candidate{
		Title:       title,
		Kind:        work.KindAnime,
		UnitKind:    release.UnitEpisode,
		UnitNumber:  "1",
		Platform:    "TV Asahi",
		ReleaseDate: time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC),
	}
}

func testPipeline(t *testing.T, adapters []source.Adapter, cursors *fakeCursorRepo, releases *fakeReleaseRepo, auditRepo *fakeAuditRepo, rules *filter.Loader) *Pipeline {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	works := &fakeWorkRepo{byKey: map[string]string{}}
	normalizer := normalize.NewService(works, releases, logger)
	recorder := audit.NewRecorder(auditRepo, logger)

	return New(adapters, cursors, normalizer, rules, releases, recorder, nil, nil,
		Options{PollWorkers: 2, FailureThreshold: 3, Suspension: time.Hour}, logger)
}

func auditCount(repo *fakeAuditRepo, eventType audit.EventType, outcome audit.Outcome) int {
	count := 0
	for _, record := range repo.records {
		if record.EventType == eventType && record.Outcome == outcome {
			count++
		}
	}
	return count
}

// # Tests

func TestRunCycleIngestsAndAdvancesCursor(t *testing.T) {
	adapter := &fakeAdapter{
		name:       "catalog",
		candidates: []source.Candidate{testCandidate("Sora no Kanata")},
		token:      `"v2"`,
		outcome:    source.Outcome{Kind: source.OutcomeOK},
	}
	cursors := newFakeCursorRepo()
	releases := newFakeReleaseRepo()
	auditRepo := &fakeAuditRepo{}

	pipe := testPipeline(t, []source.Adapter{adapter}, cursors, releases, auditRepo, emptyRules(t))

	require.NoError(t, pipe.RunCycle(context.Background()))

	assert.True(t, adapter.polled)
	assert.Equal(t, `"v2"`, cursors.successes["catalog"], "cursor advances on success")
	assert.Len(t, releases.rows, 1)
	assert.Equal(t, 1, auditCount(auditRepo, audit.EventPoll, audit.OutcomeSuccess))
	assert.Equal(t, 1, auditCount(auditRepo, audit.EventIngest, audit.OutcomeSuccess))
}

func TestRunCycleFailedPollKeepsCursor(t *testing.T) {
	adapter := &fakeAdapter{
		name:    "catalog",
		outcome: source.Outcome{Kind: source.OutcomeRetryable, Err: errors.New("upstream 503")},
	}
	cursors := newFakeCursorRepo()
	releases := newFakeReleaseRepo()
	auditRepo := &fakeAuditRepo{}

	pipe := testPipeline(t, []source.Adapter{adapter}, cursors, releases, auditRepo, emptyRules(t))

	require.NoError(t, pipe.RunCycle(context.Background()))

	assert.Empty(t, cursors.successes, "failed polls must not advance the cursor")
	assert.Equal(t, 1, cursors.failures["catalog"])
	assert.Equal(t, 1, auditCount(auditRepo, audit.EventPoll, audit.OutcomeFailure))
}

func TestRunCyclePartialProgressIngested(t *testing.T) {
	// A page failure mid-walk still yields the earlier pages' candidates.
	adapter := &fakeAdapter{
		name:       "catalog",
		candidates: []source.Candidate{testCandidate("Sora no Kanata")},
		outcome:    source.Outcome{Kind: source.OutcomeRetryable, Err: errors.New("page 2 failed")},
	}
	cursors := newFakeCursorRepo()
	releases := newFakeReleaseRepo()
	auditRepo := &fakeAuditRepo{}

	pipe := testPipeline(t, []source.Adapter{adapter}, cursors, releases, auditRepo, emptyRules(t))

	require.NoError(t, pipe.RunCycle(context.Background()))

	assert.Len(t, releases.rows, 1, "partial candidates survive the poll failure")
	assert.Equal(t, 1, cursors.failures["catalog"], "the poll still counts as failed")
	assert.Empty(t, cursors.successes)
}

func TestRunCycleSkipsSuspendedSource(t *testing.T) {
	adapter := &fakeAdapter{name: "catalog", outcome: source.Outcome{Kind: source.OutcomeOK}}
	cursors := newFakeCursorRepo()
	suspendedUntil := time.Now().Add(time.Hour)
	cursors.cursors["catalog"] = &cursor.Cursor{Source: "catalog", SuspendedUntil: &suspendedUntil}

	releases := newFakeReleaseRepo()
	auditRepo := &fakeAuditRepo{}

	pipe := testPipeline(t, []source.Adapter{adapter}, cursors, releases, auditRepo, emptyRules(t))

	require.NoError(t, pipe.RunCycle(context.Background()))

	assert.False(t, adapter.polled, "suspended sources are not polled")
}

func TestRunCycleAuthFailureAudited(t *testing.T) {
	adapter := &fakeAdapter{
		name:    "catalog",
		outcome: source.Outcome{Kind: source.OutcomeAuthFailed, Err: errors.New("401")},
	}
	cursors := newFakeCursorRepo()
	releases := newFakeReleaseRepo()
	auditRepo := &fakeAuditRepo{}

	pipe := testPipeline(t, []source.Adapter{adapter}, cursors, releases, auditRepo, emptyRules(t))

	require.NoError(t, pipe.RunCycle(context.Background()))

	assert.Equal(t, 1, auditCount(auditRepo, audit.EventAuth, audit.OutcomeFailure))
}

func TestRunCycleAppliesFilterRules(t *testing.T) {
	adapter := &fakeAdapter{
		name: "catalog",
		candidates: []source.Candidate{
			testCandidate("Sora no Kanata"),
			{
				Title: "Recap Special", Kind: work.KindAnime, UnitKind: release.UnitEpisode,
				UnitNumber: "1", Platform: "TV Asahi",
				ReleaseDate: time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC),
			},
		},
		outcome: source.Outcome{Kind: source.OutcomeOK},
	}
	cursors := newFakeCursorRepo()
	releases := newFakeReleaseRepo()
	auditRepo := &fakeAuditRepo{}
	rules := rulesFrom(t, `{"rules": [{"name": "no-recaps", "type": "keyword", "values": ["recap"]}]}`)

	pipe := testPipeline(t, []source.Adapter{adapter}, cursors, releases, auditRepo, rules)

	require.NoError(t, pipe.RunCycle(context.Background()))

	assert.Len(t, releases.rows, 2, "filtered releases are stored, not dropped")
	require.Len(t, releases.filtered, 1)
	for _, rule := range releases.filtered {
		assert.Equal(t, "no-recaps", rule)
	}
}
