// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package normalize

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
)

// # Fakes

type fakeWorkRepo struct {
	work.Repository

	// byKey maps title|kind to the surviving row id.
	byKey   map[string]string
	upserts int
}

func newFakeWorkRepo() *fakeWorkRepo {
	return &fakeWorkRepo{byKey: map[string]string{}}
}

func (repo *fakeWorkRepo) Upsert(_ context.Context, w *work.Work) (bool, error) {
	repo.upserts++
	key := w.Title + "|" + string(w.Kind)
	if existing, ok := repo.byKey[key]; ok {
		w.ID = existing
		return false, nil
	}
	repo.byKey[key] = w.ID
	return true, nil
}

type fakeReleaseRepo struct {
	release.Repository

	rows      map[string]*release.Release
	sightings []release.Sighting
}

func newFakeReleaseRepo() *fakeReleaseRepo {
	return &fakeReleaseRepo{rows: map[string]*release.Release{}}
}

func dedupKey(workID string, kind release.UnitKind, number, platform string, date time.Time) string {
	return workID + "|" + string(kind) + "|" + number + "|" + platform + "|" + date.Format("2006-01-02")
}

func (repo *fakeReleaseRepo) InsertIfAbsent(_ context.Context, r *release.Release) (bool, error) {
	key := dedupKey(r.WorkID, r.UnitKind, r.UnitNumber, r.Platform, r.ReleaseDate)
	if _, ok := repo.rows[key]; ok {
		return false, nil
	}
	repo.rows[key] = r
	return true, nil
}

func (repo *fakeReleaseRepo) FindByDedupKey(_ context.Context, workID string, kind release.UnitKind, number, platform string, date time.Time) (*release.Release, error) {
	return repo.rows[dedupKey(workID, kind, number, platform, date)], nil
}

func (repo *fakeReleaseRepo) RecordSighting(_ context.Context, s release.Sighting) error {
	repo.sightings = append(repo.sightings, s)
	return nil
}

// # Helpers

func testCandidate() source.Candidate {
	return source.Candidate{
		Title:       "Sora no Kanata",
		Kind:        work.KindAnime,
		UnitKind:    release.UnitEpisode,
		UnitNumber:  "12",
		Platform:    "TV Asahi",
		ReleaseDate: time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC),
		SourceURL:   "https://example.test/sora/12",
	}
}

func testService(works *fakeWorkRepo, releases *fakeReleaseRepo) *Service {
	return NewService(works, releases, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// # Tests

func TestIngestCreatesWorkAndRelease(t *testing.T) {
	works := newFakeWorkRepo()
	releases := newFakeReleaseRepo()
	service := testService(works, releases)

	result, err := service.Ingest(context.Background(), testCandidate(), "catalog")
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Empty(t, result.Rejected)
	assert.Equal(t, "Sora no Kanata", result.CanonicalTitle)
	assert.NotEmpty(t, result.ReleaseID)
	require.Len(t, releases.sightings, 1)
	assert.Equal(t, "catalog", releases.sightings[0].SourceName)
}

func TestIngestDeduplicatesAcrossSources(t *testing.T) {
	// The same event reported by two sources must end as one release with
	// two sightings.
	works := newFakeWorkRepo()
	releases := newFakeReleaseRepo()
	service := testService(works, releases)

	first, err := service.Ingest(context.Background(), testCandidate(), "catalog")
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := service.Ingest(context.Background(), testCandidate(), "publisher-feed")
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.ReleaseID, second.ReleaseID, "both ingests must resolve to one row")
	assert.Len(t, releases.rows, 1)
	require.Len(t, releases.sightings, 2)
	assert.Equal(t, "publisher-feed", releases.sightings[1].SourceName)
}

func TestIngestFoldsTitleVariantsToOneWork(t *testing.T) {
	works := newFakeWorkRepo()
	releases := newFakeReleaseRepo()
	service := testService(works, releases)

	fullwidth := testCandidate()
	fullwidth.Title = "Ｓｏｒａ ｎｏ Ｋａｎａｔａ"

	plain := testCandidate()
	plain.UnitNumber = "13"

	first, err := service.Ingest(context.Background(), fullwidth, "catalog")
	require.NoError(t, err)
	second, err := service.Ingest(context.Background(), plain, "catalog")
	require.NoError(t, err)

	assert.Equal(t, first.WorkID, second.WorkID, "spelling variants must share a work")
	assert.Len(t, works.byKey, 1)
}

func TestIngestRejectsMissingFields(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*source.Candidate)
		expected RejectReason
	}{
		{
			name:     "missing title",
			mutate:   func(c *source.Candidate) { c.Title = "  " },
			expected: RejectMissingTitle,
		},
		{
			name:     "missing date",
			mutate:   func(c *source.Candidate) { c.ReleaseDate = time.Time{} },
			expected: RejectMissingDate,
		},
		{
			name:     "missing unit",
			mutate:   func(c *source.Candidate) { c.UnitNumber = "" },
			expected: RejectMissingUnit,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			works := newFakeWorkRepo()
			releases := newFakeReleaseRepo()
			service := testService(works, releases)

			candidate := testCandidate()
			testCase.mutate(&candidate)

			result, err := service.Ingest(context.Background(), candidate, "catalog")
			require.NoError(t, err, "rejection is not an error")

			assert.Equal(t, testCase.expected, result.Rejected)
			assert.Zero(t, works.upserts, "rejected candidates must not touch storage")
			assert.Empty(t, releases.rows)
		})
	}
}
