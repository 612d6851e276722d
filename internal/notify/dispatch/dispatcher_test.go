// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/machiyomi/internal/core/audit"
	"github.com/taibuivan/machiyomi/internal/core/delivery"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/platform/apperr"
	"github.com/taibuivan/machiyomi/pkg/backoff"
)

// # Fakes

type fakeReleaseRepo struct {
	release.Repository
	dispatchable []*release.PendingRelease
}

func (repo *fakeReleaseRepo) ListDispatchable(_ context.Context, _ string, _ time.Time, _ int) ([]*release.PendingRelease, error) {
	return repo.dispatchable, nil
}

type fakeDeliveryRepo struct {
	delivery.Repository

	rows        map[string]*delivery.State
	attemptable []*delivery.Attempt
	ensured     []string
	maxRetries  int
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{rows: map[string]*delivery.State{}}
}

func (repo *fakeDeliveryRepo) EnsurePending(_ context.Context, id, releaseID, channel string) (bool, error) {
	for _, state := range repo.rows {
		if state.ReleaseID == releaseID && state.Channel == channel {
			return false, nil
		}
	}
	repo.rows[id] = &delivery.State{ID: id, ReleaseID: releaseID, Channel: channel, Status: delivery.StatusPending}
	repo.ensured = append(repo.ensured, releaseID)
	return true, nil
}

func (repo *fakeDeliveryRepo) ListAttemptable(_ context.Context, _ string, _ int) ([]*delivery.Attempt, error) {
	return repo.attemptable, nil
}

func (repo *fakeDeliveryRepo) RecordExternalRef(_ context.Context, id, ref string) error {
	repo.rows[id].ExternalRef = &ref
	return nil
}

func (repo *fakeDeliveryRepo) MarkSucceeded(_ context.Context, id string, status delivery.Status, ref *string) error {
	state := repo.rows[id]
	state.Status = status
	if ref != nil {
		state.ExternalRef = ref
	}
	return nil
}

func (repo *fakeDeliveryRepo) MarkFailed(_ context.Context, id string, errText string, maxRetries int) (delivery.Status, int, error) {
	state := repo.rows[id]
	state.RetryCount++
	state.LastError = &errText
	switch {
	case state.RetryCount >= maxRetries:
		state.Status = delivery.StatusAbandoned
	case state.RetryCount == 1:
		state.Status = delivery.StatusFailed
	default:
		state.Status = delivery.StatusRetrying
	}
	return state.Status, state.RetryCount, nil
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

func (repo *fakeAuditRepo) countByType(eventType audit.EventType) int {
	count := 0
	for _, record := range repo.records {
		if record.EventType == eventType {
			count++
		}
	}
	return count
}

type fakeChannel struct {
	name          string
	success       delivery.Status
	refDelivers   bool
	attemptErr    error
	attemptRef    string
	attemptedRows []string
}

func (channel *fakeChannel) Name() string { return channel.name }

func (channel *fakeChannel) SuccessStatus() delivery.Status { return channel.success }

func (channel *fakeChannel) DeliversOnExistingRef() bool { return channel.refDelivers }

func (channel *fakeChannel) Attempt(_ context.Context, attempt *delivery.Attempt) (string, error) {
	channel.attemptedRows = append(channel.attemptedRows, attempt.State.ID)
	return channel.attemptRef, channel.attemptErr
}

// # Helpers

func testPending(releaseID string) release.PendingRelease {
	return release.PendingRelease{
		Release: release.Release{
			ID:          releaseID,
			WorkID:      "work-1",
			UnitKind:    release.UnitEpisode,
			UnitNumber:  "12",
			Platform:    "TV Asahi",
			ReleaseDate: time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC),
		},
		WorkTitle: "Sora no Kanata",
		WorkKind:  "anime",
	}
}

func testDispatcher(t *testing.T, channel Channel, deliveries *fakeDeliveryRepo, releases *fakeReleaseRepo, auditRepo *fakeAuditRepo, maxRetries int) *Dispatcher {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := audit.NewRecorder(auditRepo, logger)
	policy := backoff.Policy{Base: 2 * time.Minute, Cap: 12 * time.Hour}

	return NewDispatcher(channel, releases, deliveries, recorder, policy, maxRetries, 50, logger)
}

func attemptFor(repo *fakeDeliveryRepo, releaseID string, state *delivery.State) *delivery.Attempt {
	repo.rows[state.ID] = state
	attempt := &delivery.Attempt{State: *state, Release: testPending(releaseID)}
	repo.attemptable = append(repo.attemptable, attempt)
	return attempt
}

// # Tests

func TestRunCycleSeedsPendingRows(t *testing.T) {
	pending := testPending("rel-1")
	releases := &fakeReleaseRepo{dispatchable: []*release.PendingRelease{&pending}}
	deliveries := newFakeDeliveryRepo()
	auditRepo := &fakeAuditRepo{}
	channel := &fakeChannel{name: "message", success: delivery.StatusSent}

	dispatcher := testDispatcher(t, channel, deliveries, releases, auditRepo, 3)

	stats, err := dispatcher.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Seeded)
	assert.Equal(t, []string{"rel-1"}, deliveries.ensured)
}

func TestRunCycleDeliversAndStoresRef(t *testing.T) {
	releases := &fakeReleaseRepo{}
	deliveries := newFakeDeliveryRepo()
	auditRepo := &fakeAuditRepo{}
	channel := &fakeChannel{name: "message", success: delivery.StatusSent, attemptRef: "msg-900"}

	attemptFor(deliveries, "rel-1", &delivery.State{ID: "d1", ReleaseID: "rel-1", Channel: "message", Status: delivery.StatusPending})

	dispatcher := testDispatcher(t, channel, deliveries, releases, auditRepo, 3)

	stats, err := dispatcher.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, delivery.StatusSent, deliveries.rows["d1"].Status)
	require.NotNil(t, deliveries.rows["d1"].ExternalRef)
	assert.Equal(t, "msg-900", *deliveries.rows["d1"].ExternalRef)
	assert.Equal(t, 1, auditRepo.countByType(audit.EventDispatch))
}

func TestRunCycleFailureArcEndsAbandoned(t *testing.T) {
	// Three consecutive failing cycles against a budget of three must end
	// in abandoned, with the retry counter at the budget.
	releases := &fakeReleaseRepo{}
	deliveries := newFakeDeliveryRepo()
	auditRepo := &fakeAuditRepo{}
	channel := &fakeChannel{name: "calendar", success: delivery.StatusSynced, refDelivers: true,
		attemptErr: errors.New("provider unavailable")}

	attemptFor(deliveries, "rel-1", &delivery.State{ID: "d1", ReleaseID: "rel-1", Channel: "calendar", Status: delivery.StatusPending})

	dispatcher := testDispatcher(t, channel, deliveries, releases, auditRepo, 3)
	dispatcher.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }

	expectedStatuses := []delivery.Status{delivery.StatusFailed, delivery.StatusRetrying, delivery.StatusAbandoned}
	for cycle, expected := range expectedStatuses {
		// Refresh the attemptable snapshot and move past the backoff window.
		state := deliveries.rows["d1"]
		attemptAt := dispatcher.now().Add(24 * time.Hour)
		dispatcher.now = func() time.Time { return attemptAt }
		deliveries.attemptable = nil
		if !state.Status.IsTerminal() {
			lastAttempt := attemptAt.Add(-24 * time.Hour)
			state.LastAttemptAt = &lastAttempt
			attemptFor(deliveries, "rel-1", state)
		}

		stats, err := dispatcher.RunCycle(context.Background())
		require.NoError(t, err, "cycle %d", cycle)
		assert.Equal(t, 1, stats.Failed, "cycle %d", cycle)
		assert.Equal(t, expected, deliveries.rows["d1"].Status, "cycle %d", cycle)
	}

	assert.Equal(t, 3, deliveries.rows["d1"].RetryCount)
	assert.Equal(t, 1, auditRepo.countByType(audit.EventAbandoned))
	assert.Equal(t, 3, auditRepo.countByType(audit.EventDispatch))
}

func TestRunCycleBackoffSkipsIneligibleRows(t *testing.T) {
	releases := &fakeReleaseRepo{}
	deliveries := newFakeDeliveryRepo()
	auditRepo := &fakeAuditRepo{}
	channel := &fakeChannel{name: "message", success: delivery.StatusSent}

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	lastAttempt := now.Add(-time.Minute)
	attemptFor(deliveries, "rel-1", &delivery.State{
		ID: "d1", ReleaseID: "rel-1", Channel: "message",
		Status: delivery.StatusFailed, RetryCount: 1, LastAttemptAt: &lastAttempt,
	})

	dispatcher := testDispatcher(t, channel, deliveries, releases, auditRepo, 3)
	dispatcher.now = func() time.Time { return now }

	stats, err := dispatcher.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Attempted)
	assert.Empty(t, channel.attemptedRows)
}

func TestRunCycleRecoversFromStoredExternalRef(t *testing.T) {
	// A crash between event creation and the success transition leaves the
	// reference on the row. The next cycle must complete the row without
	// another provider call.
	releases := &fakeReleaseRepo{}
	deliveries := newFakeDeliveryRepo()
	auditRepo := &fakeAuditRepo{}
	channel := &fakeChannel{name: "calendar", success: delivery.StatusSynced, refDelivers: true}

	ref := "evt-123"
	attemptFor(deliveries, "rel-1", &delivery.State{
		ID: "d1", ReleaseID: "rel-1", Channel: "calendar",
		Status: delivery.StatusPending, ExternalRef: &ref,
	})

	dispatcher := testDispatcher(t, channel, deliveries, releases, auditRepo, 3)

	stats, err := dispatcher.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 0, stats.Attempted)
	assert.Empty(t, channel.attemptedRows, "no provider call expected")
	assert.Equal(t, delivery.StatusSynced, deliveries.rows["d1"].Status)
}

func TestRunCycleAuthFailureAbortsChannel(t *testing.T) {
	// A credential failure must stop the whole channel for the cycle
	// without consuming any row's retry budget.
	releases := &fakeReleaseRepo{}
	deliveries := newFakeDeliveryRepo()
	auditRepo := &fakeAuditRepo{}
	channel := &fakeChannel{name: "message", success: delivery.StatusSent,
		attemptErr: apperr.Unauthorized("api key rejected")}

	attemptFor(deliveries, "rel-1", &delivery.State{ID: "d1", ReleaseID: "rel-1", Channel: "message", Status: delivery.StatusPending})
	attemptFor(deliveries, "rel-2", &delivery.State{ID: "d2", ReleaseID: "rel-2", Channel: "message", Status: delivery.StatusPending})

	dispatcher := testDispatcher(t, channel, deliveries, releases, auditRepo, 3)

	stats, err := dispatcher.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"d1"}, channel.attemptedRows, "second row must not be attempted")
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, deliveries.rows["d1"].RetryCount, "auth failure must not burn retries")
	assert.Equal(t, delivery.StatusPending, deliveries.rows["d1"].Status)
	assert.Equal(t, 1, auditRepo.countByType(audit.EventAuth))
}

func TestRunCycleStopsOnCancelledContext(t *testing.T) {
	releases := &fakeReleaseRepo{}
	deliveries := newFakeDeliveryRepo()
	auditRepo := &fakeAuditRepo{}
	channel := &fakeChannel{name: "message", success: delivery.StatusSent, attemptRef: "msg-1"}

	attemptFor(deliveries, "rel-1", &delivery.State{ID: "d1", ReleaseID: "rel-1", Channel: "message", Status: delivery.StatusPending})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatcher := testDispatcher(t, channel, deliveries, releases, auditRepo, 3)

	stats, err := dispatcher.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Attempted)
	assert.Empty(t, channel.attemptedRows)
	assert.Equal(t, delivery.StatusPending, deliveries.rows["d1"].Status, "interrupted row stays attemptable")
}
