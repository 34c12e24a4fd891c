package services

import (
	"context"
	"time"

	"citypulse/metrics"
	"citypulse/models"
	"citypulse/storage"
	"citypulse/utils"
)

// Scheduler runs the orchestrator on a fixed interval, forever. Its
// availability guarantee is stronger than any single cycle's success
// guarantee: a failing or panicking cycle is logged and the loop continues.
type Scheduler struct {
	orch      *Orchestrator
	store     storage.Catalog
	snapshots *storage.SnapshotWriter
	notifier  Notifier
	interval  time.Duration
	logger    *utils.Logger
	metrics   *metrics.Pipeline
}

// NewScheduler wires a Scheduler. Snapshots and notifier may be nil when the
// respective collaborator is not configured.
func NewScheduler(
	orch *Orchestrator,
	store storage.Catalog,
	snapshots *storage.SnapshotWriter,
	notifier Notifier,
	interval time.Duration,
	logger *utils.Logger,
	m *metrics.Pipeline,
) *Scheduler {
	return &Scheduler{
		orch:      orch,
		store:     store,
		snapshots: snapshots,
		notifier:  notifier,
		interval:  interval,
		logger:    logger,
		metrics:   m,
	}
}

// Run loops until the context is cancelled. The sleep between cycles is the
// only long-lived suspension point and is interruptible; no store state is
// ever left uncommitted across it.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("[scheduler] Cycle loop started — interval %v", s.interval)

	for {
		s.cycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("[scheduler] Shutdown requested — stopping")
			return
		case <-time.After(s.interval):
		}
	}
}

// cycle runs one pass plus its bookkeeping: audit row, snapshot export, then
// the at-most-once notification. The panic guard keeps a broken cycle from
// taking the process down.
func (s *Scheduler) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("[scheduler] cycle panicked: %v", r)
			s.metrics.CycleFailures.Inc()
		}
	}()

	start := time.Now()
	report, ok := s.orch.TryRunOnce(ctx)
	if !ok {
		s.logger.Warn("[scheduler] previous run still active — skipping this cycle")
		return
	}
	s.metrics.CyclesTotal.Inc()
	s.metrics.CycleDuration.Observe(time.Since(start).Seconds())

	total := s.persistAudit(ctx)
	s.export(ctx, report)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, report, total); err != nil {
			// A failed notification never invalidates the completed cycle.
			s.logger.Warn("[scheduler] notification failed: %v", err)
		}
	}
}

// persistAudit writes the append-only audit row with the catalog size at the
// end of the cycle and returns that size.
func (s *Scheduler) persistAudit(ctx context.Context) int {
	places, err := s.store.CountPlaces(ctx)
	if err != nil {
		s.logger.Error("[scheduler] count places failed: %v", err)
	}
	events, err := s.store.CountEvents(ctx)
	if err != nil {
		s.logger.Error("[scheduler] count events failed: %v", err)
	}
	total := places + events
	s.metrics.CatalogSize.Set(float64(total))

	if err := s.store.AppendAudit(ctx, total); err != nil {
		s.logger.Error("[scheduler] audit write failed: %v", err)
	}
	return total
}

// export hands the catalog contents and run statistics to the snapshot
// writer.
func (s *Scheduler) export(ctx context.Context, report *models.SyncReport) {
	if s.snapshots == nil {
		return
	}

	places, err := s.store.ListPlaces(ctx, storage.ListFilter{Limit: 10000})
	if err != nil {
		s.logger.Error("[scheduler] list places for snapshot failed: %v", err)
		return
	}
	events, err := s.store.ListEvents(ctx, 10000)
	if err != nil {
		s.logger.Error("[scheduler] list events for snapshot failed: %v", err)
		return
	}

	if err := s.snapshots.Write(places, events, report); err != nil {
		s.logger.Error("[scheduler] snapshot write failed: %v", err)
		return
	}
	s.logger.Info("[scheduler] Snapshot exported — %d places, %d events", len(places), len(events))
}
