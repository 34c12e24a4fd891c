package services

import (
	"context"
	"sync/atomic"
	"time"

	"citypulse/config"
	"citypulse/metrics"
	"citypulse/models"
	"citypulse/source"
	"citypulse/storage"
	"citypulse/utils"
)

// Orchestrator drives one full acquisition pass: for every configured
// category and every place type inside it, it pages the source until the
// per-category quota or exhaustion, normalizing and upserting each record
// immediately, then runs the agenda pass. Everything is strictly sequential —
// the adapters' rate limiting depends on that.
type Orchestrator struct {
	places  source.PlaceSource
	agenda  source.EventSource
	store   storage.Catalog
	norm    *Normalizer
	catalog *config.Catalog
	quota   int
	logger  *utils.Logger
	metrics *metrics.Pipeline

	running atomic.Bool
}

// NewOrchestrator wires an Orchestrator. The agenda source may be nil when
// only the places pipeline is configured.
func NewOrchestrator(
	places source.PlaceSource,
	agenda source.EventSource,
	store storage.Catalog,
	norm *Normalizer,
	catalog *config.Catalog,
	quota int,
	logger *utils.Logger,
	m *metrics.Pipeline,
) *Orchestrator {
	return &Orchestrator{
		places:  places,
		agenda:  agenda,
		store:   store,
		norm:    norm,
		catalog: catalog,
		quota:   quota,
		logger:  logger,
		metrics: m,
	}
}

// RunOnce executes a single complete pass and returns its statistics.
// Per-record failures are logged and skipped; a source that yields nothing
// simply contributes zero results. RunOnce itself fails only by panicking,
// which the scheduler boundary absorbs.
func (o *Orchestrator) RunOnce(ctx context.Context) *models.SyncReport {
	report := models.NewSyncReport()
	o.logger.Info("[sync] Starting pass — %d categories, quota %d per type",
		len(o.catalog.Categories), o.quota)

	for _, category := range o.catalog.CategoryNames() {
		o.logger.Info("[sync] Category: %s", category)
		for _, placeType := range o.catalog.Categories[category] {
			o.syncPlaceType(ctx, category, placeType, report)
		}
	}

	o.syncAgenda(ctx, report)

	report.Duration = time.Since(report.StartedAt)
	o.logger.Info("[sync] Pass complete in %v — found %d, new %d, updated %d, skipped %d, events %d",
		report.Duration.Round(time.Millisecond), report.TotalFound, report.TotalNew,
		report.TotalUpdated, report.Skipped, report.EventsFound)
	return report
}

// TryRunOnce runs a pass unless one is already active. Used by the façade's
// manual trigger so overlapping runs cannot interleave upserts.
func (o *Orchestrator) TryRunOnce(ctx context.Context) (*models.SyncReport, bool) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, false
	}
	defer o.running.Store(false)
	return o.RunOnce(ctx), true
}

// Running reports whether a pass is currently active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// syncPlaceType pages one source type until the quota is met or the source
// is exhausted. The adapter owns the inter-page delay.
func (o *Orchestrator) syncPlaceType(ctx context.Context, category, placeType string, report *models.SyncReport) {
	processed := 0
	cursor := ""

	for processed < o.quota {
		if ctx.Err() != nil {
			return
		}

		records, next, err := o.places.FetchPage(ctx, placeType, cursor)
		if err != nil {
			// Adapters absorb transport errors; anything else still just
			// ends this type for the cycle.
			o.logger.Warn("[sync] %s/%s: page fetch error: %v", category, placeType, err)
			return
		}
		if len(records) == 0 {
			o.logger.Debug("[sync] %s/%s: exhausted after %d records", category, placeType, processed)
			return
		}

		for _, raw := range records {
			if processed >= o.quota {
				break
			}
			processed++
			o.processPlace(ctx, raw, category, report)
		}

		if next == "" || processed >= o.quota {
			return
		}
		cursor = next
	}
}

// processPlace normalizes and upserts one raw record. Every observed record
// counts as found; failures additionally count as skipped and never abort
// the run.
func (o *Orchestrator) processPlace(ctx context.Context, raw models.RawPlace, category string, report *models.SyncReport) {
	report.TotalFound++
	o.metrics.RecordsFound.Inc()

	detail, err := o.places.FetchDetail(ctx, raw.PlaceID)
	if err != nil {
		o.logger.Warn("[sync] detail fetch for %s failed: %v", raw.PlaceID, err)
		detail = nil
	}

	place, err := o.norm.Place(raw, detail, category)
	if err != nil {
		o.logger.Warn("[sync] skipping malformed record: %v", err)
		report.Skipped++
		o.metrics.RecordsSkipped.Inc()
		return
	}

	res, err := o.store.UpsertPlace(ctx, place)
	if err != nil {
		o.logger.Error("[sync] upsert %s failed: %v", place.PlaceID, err)
		report.Skipped++
		o.metrics.RecordsSkipped.Inc()
		return
	}

	report.ByCategory[category]++
	if res == storage.Inserted {
		report.TotalNew++
		o.metrics.RecordsInserted.Inc()
		o.logger.Debug("[sync] + %s (%s)", place.Name, category)
	} else {
		report.TotalUpdated++
		o.metrics.RecordsUpdated.Inc()
		o.logger.Debug("[sync] ~ %s (%s)", place.Name, category)
	}
}

// syncAgenda wipes the event table and runs the heuristic scrape pass once.
func (o *Orchestrator) syncAgenda(ctx context.Context, report *models.SyncReport) {
	if o.agenda == nil {
		return
	}

	if err := o.store.WipeEvents(ctx); err != nil {
		o.logger.Error("[sync] event wipe failed: %v", err)
		return
	}

	for _, raw := range o.agenda.FetchEvents(ctx) {
		event, err := o.norm.Event(raw)
		if err != nil {
			o.logger.Warn("[sync] skipping event candidate: %v", err)
			report.Skipped++
			o.metrics.RecordsSkipped.Inc()
			continue
		}

		if _, err := o.store.UpsertEvent(ctx, event); err != nil {
			o.logger.Error("[sync] upsert event %q failed: %v", event.Title, err)
			report.Skipped++
			o.metrics.RecordsSkipped.Inc()
			continue
		}
		report.EventsFound++
	}

	o.logger.Info("[sync] Agenda pass: %d events", report.EventsFound)
}
