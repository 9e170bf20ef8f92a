package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/repository"
	"admitflow/backend/internal/services"
	"admitflow/backend/pkg/models"
)

const defaultSweepBatch = 200

// Sweeper is the periodic SLA breach detector. It only ever flips
// slaBreached false→true; the reverse transition happens exclusively through
// EXTEND_SLA. Running it repeatedly or concurrently is safe: the revision
// check makes each flip happen at most once.
type Sweeper struct {
	repo   repository.Repository
	notify services.NotificationDispatcher
	logger *logging.Logger

	now       func() time.Time
	batchSize int

	breaches metric.Int64Counter
}

// NewSweeper creates a new Sweeper. batchSize caps how many candidates a
// single pass processes; zero or negative selects the default.
func NewSweeper(repo repository.Repository, notify services.NotificationDispatcher, logger *logging.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	meter := otel.Meter("admitflow/backend/engine")
	breaches, _ := meter.Int64Counter("sla_breaches_total",
		metric.WithDescription("SLA breaches flagged by the sweep"))

	return &Sweeper{
		repo:      repo,
		notify:    notify,
		logger:    logger,
		now:       time.Now,
		batchSize: batchSize,
		breaches:  breaches,
	}
}

// RunOnce performs a single sweep pass and returns how many entries it
// flagged. Individual entry failures are logged and skipped; the sweep keeps
// going.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	candidates, err := s.repo.ListBreachCandidates(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list breach candidates: %w", err)
	}

	flagged := 0
	for _, entry := range candidates {
		if err := s.flag(ctx, entry, now); err != nil {
			s.logger.Error("sla sweep failed for entry", "entry_id", entry.ID, "error", err)
			continue
		}
		flagged++
	}
	return flagged, nil
}

func (s *Sweeper) flag(ctx context.Context, entry *models.PipelineEntry, now time.Time) error {
	entry.SLABreached = true
	err := s.repo.UpdateEntry(ctx, entry, entry.Revision)
	if errors.Is(err, repository.ErrRevisionConflict) {
		// A concurrent writer moved or extended the entry; the next pass
		// re-evaluates it from fresh state.
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.repo.AppendEvent(ctx, &models.JourneyEvent{
		PipelineEntryID: entry.ID,
		EventType:       models.EventSLABreached,
		FromStage:       entry.CurrentStage,
		ToStage:         entry.CurrentStage,
		Description:     fmt.Sprintf("SLA deadline %s passed", entry.SLADeadline.Format(time.RFC3339)),
		TriggeredBy:     "sla-sweep",
		TriggeredByType: models.TriggeredBySystem,
	}); err != nil {
		s.logger.Error("failed to append breach event", "entry_id", entry.ID, "error", err)
	}

	s.breaches.Add(ctx, 1)

	if err := s.notify.Notify(ctx, services.Notification{
		TenantID:      entry.TenantID,
		RecipientID:   entry.EntityID,
		RecipientType: string(entry.EntityType),
		Channel:       "sla",
		Title:         "SLA breached",
		Message:       fmt.Sprintf("Entry %s exceeded its stage deadline", entry.ID),
		Payload: map[string]any{
			"pipeline_entry_id": entry.ID,
			"stage_id":          entry.CurrentStage,
			"deadline":          entry.SLADeadline.Format(time.RFC3339),
		},
	}); err != nil {
		// Notification delivery is best-effort; the breach flag is already
		// durable and visible in the progress view.
		s.logger.Warn("breach notification failed", "entry_id", entry.ID, "error", err)
	}
	return nil
}

// Start runs the sweep on a fixed interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flagged, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error("sla sweep pass failed", "error", err)
				continue
			}
			if flagged > 0 {
				s.logger.Info("sla sweep flagged entries", "count", flagged)
			}
		case <-ctx.Done():
			return
		}
	}
}
