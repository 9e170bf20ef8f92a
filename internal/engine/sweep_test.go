package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/repository"
	"admitflow/backend/pkg/models"
)

func newTestSweeper(repo repository.Repository, notify *fakeNotifier, now time.Time) *Sweeper {
	s := NewSweeper(repo, notify, logging.NewNop(), 0)
	s.now = func() time.Time { return now }
	return s
}

func seedSweepEntry(t *testing.T, repo repository.Repository, deadline time.Time, status models.StageStatus) *models.PipelineEntry {
	t.Helper()
	entry := &models.PipelineEntry{
		ID:           uuid.New().String(),
		TenantID:     testTenant,
		PipelineID:   "pipe-1",
		EntityID:     uuid.New().String(),
		EntityType:   models.EntityTypeStudent,
		CurrentStage: "application",
		StageStatus:  status,
		SLADeadline:  &deadline,
		EnteredAt:    deadline.Add(-7 * 24 * time.Hour),
		MovedAt:      deadline.Add(-7 * 24 * time.Hour),
	}
	require.NoError(t, repo.CreateEntry(context.Background(), entry))
	return entry
}

func TestSweep_FlagsOverdueEntries(t *testing.T) {
	repo := repository.NewInMemory()
	notify := &fakeNotifier{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sweeper := newTestSweeper(repo, notify, now)
	ctx := context.Background()

	overdue := seedSweepEntry(t, repo, now.Add(-time.Hour), models.StageStatusInProgress)
	onTime := seedSweepEntry(t, repo, now.Add(time.Hour), models.StageStatusInProgress)
	closed := seedSweepEntry(t, repo, now.Add(-time.Hour), models.StageStatusCompleted)

	flagged, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	got, err := repo.GetEntry(ctx, testTenant, overdue.ID)
	require.NoError(t, err)
	assert.True(t, got.SLABreached)

	got, err = repo.GetEntry(ctx, testTenant, onTime.ID)
	require.NoError(t, err)
	assert.False(t, got.SLABreached)

	got, err = repo.GetEntry(ctx, testTenant, closed.ID)
	require.NoError(t, err)
	assert.False(t, got.SLABreached)
}

func TestSweep_EmitsEventAndNotification(t *testing.T) {
	repo := repository.NewInMemory()
	notify := &fakeNotifier{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sweeper := newTestSweeper(repo, notify, now)
	ctx := context.Background()

	entry := seedSweepEntry(t, repo, now.Add(-time.Hour), models.StageStatusInProgress)

	_, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)

	events, err := repo.ListEvents(ctx, entry.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSLABreached, events[0].EventType)
	assert.Equal(t, models.TriggeredBySystem, events[0].TriggeredByType)
	assert.Equal(t, "sla-sweep", events[0].TriggeredBy)

	require.Len(t, notify.sent, 1)
	assert.Equal(t, entry.EntityID, notify.sent[0].RecipientID)
	assert.Equal(t, entry.ID, notify.sent[0].Payload["pipeline_entry_id"])
}

func TestSweep_Idempotent(t *testing.T) {
	repo := repository.NewInMemory()
	notify := &fakeNotifier{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sweeper := newTestSweeper(repo, notify, now)
	ctx := context.Background()

	entry := seedSweepEntry(t, repo, now.Add(-time.Hour), models.StageStatusInProgress)

	flagged, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	// Second pass sees no candidates; nothing is re-flagged or re-notified.
	flagged, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)

	events, err := repo.ListEvents(ctx, entry.ID, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, notify.sent, 1)
}

func TestSweep_BatchSizeCapsPass(t *testing.T) {
	repo := repository.NewInMemory()
	notify := &fakeNotifier{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sweeper := NewSweeper(repo, notify, logging.NewNop(), 2)
	sweeper.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedSweepEntry(t, repo, now.Add(-time.Hour), models.StageStatusInProgress)
	}

	flagged, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, flagged)

	// The remainder is picked up by the next pass.
	flagged, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
}

func TestSweep_NotificationFailureStillFlags(t *testing.T) {
	repo := repository.NewInMemory()
	notify := &fakeNotifier{err: assert.AnError}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sweeper := newTestSweeper(repo, notify, now)
	ctx := context.Background()

	entry := seedSweepEntry(t, repo, now.Add(-time.Hour), models.StageStatusInProgress)

	flagged, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	got, err := repo.GetEntry(ctx, testTenant, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.SLABreached)
}
