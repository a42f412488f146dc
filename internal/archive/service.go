package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coldfront/coldfront/internal/config"
	"github.com/coldfront/coldfront/internal/metrics"
	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

// Service wires the engine components over a set of stores and is the
// surface consumed by the request layer and the run scheduler.
type Service struct {
	cfg     *config.Config
	live    store.LiveStore
	cold    store.ColdStore
	index   store.IndexStore
	runs    store.RunStore
	metrics *metrics.EngineMetrics
	logger  zerolog.Logger

	orchestrator *Orchestrator
	resolver     *Resolver
	restorer     *Restorer
	reconciler   *Reconciler
}

// NewService assembles the engine from its stores.
func NewService(cfg *config.Config, live store.LiveStore, cold store.ColdStore, index store.IndexStore, runs store.RunStore, m *metrics.EngineMetrics, logger zerolog.Logger) *Service {
	migrator := NewMigrator(live, cold, index, cfg.MigrateRetries, logger)
	return &Service{
		cfg:     cfg,
		live:    live,
		cold:    cold,
		index:   index,
		runs:    runs,
		metrics: m,
		logger:  logger,

		orchestrator: NewOrchestrator(live, runs, migrator, record.AgeField(cfg.AgeField), cfg.LockTTL(), logger),
		resolver:     NewResolver(live, cold, index, logger),
		restorer:     NewRestorer(live, cold, index, cfg.RetainIndexAfterRestore, logger),
		reconciler:   NewReconciler(live, cold, index, cfg.StaleAfter(), logger),
	}
}

// CreateRecord stores a new billing record in the live tier, assigning
// an identifier and timestamps when the caller left them empty.
func (s *Service) CreateRecord(ctx context.Context, rec *record.Billing) (*record.Billing, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Currency == "" {
		rec.Currency = "USD"
	}
	if rec.Status == "" {
		rec.Status = record.StatusPending
	}
	if err := s.live.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record %s: %w", rec.ID, err)
	}
	s.logger.Info().Str("record", rec.ID).Str("customer", rec.CustomerID).Msg("Record created")
	return rec, nil
}

// Resolve returns the authoritative copy of a record from whichever
// tier currently owns it.
func (s *Service) Resolve(ctx context.Context, id string) (*record.Billing, Source, error) {
	rec, source, err := s.resolver.Resolve(ctx, id)
	switch {
	case err == nil:
		s.metrics.ResolveTotal.WithLabelValues(string(source)).Inc()
	case errors.Is(err, store.ErrNotFound):
		s.metrics.ResolveMiss.Inc()
	case errors.Is(err, store.ErrCorrupt):
		s.metrics.CorruptionDetected.Inc()
	}
	return rec, source, err
}

// Restore brings an archived record back to the live tier.
func (s *Service) Restore(ctx context.Context, id string) (*record.Billing, error) {
	rec, err := s.restorer.Restore(ctx, id)
	if err == nil {
		s.metrics.RecordsRestored.Inc()
	} else if errors.Is(err, store.ErrCorrupt) {
		s.metrics.CorruptionDetected.Inc()
	}
	return rec, err
}

// RunOnce executes one archival run with the service's configured age
// threshold and batch size unless overridden by the caller (zero values
// select the configuration).
func (s *Service) RunOnce(ctx context.Context, ageThreshold time.Duration, batchSize int) (*store.RunSummary, error) {
	if ageThreshold <= 0 {
		ageThreshold = s.cfg.AgeThreshold()
	}
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}

	run, err := s.orchestrator.RunOnce(ctx, ageThreshold, batchSize)
	if errors.Is(err, store.ErrRunInProgress) {
		s.metrics.RunsRejected.Inc()
	}
	if run != nil {
		s.metrics.RecordsExamined.Add(float64(run.Examined))
		s.metrics.RecordsMigrated.Add(float64(run.Migrated))
		s.metrics.RecordsFailed.Add(float64(run.Failed))
		s.metrics.RunDurationSeconds.Set(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	return run, err
}

// Reconcile sweeps stale index entries once.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileSummary, error) {
	summary, err := s.reconciler.RunOnce(ctx)
	if summary != nil {
		s.metrics.EntriesReconciled.Add(float64(summary.Completed))
		s.metrics.EntriesDiscarded.Add(float64(summary.Discarded))
	}
	return summary, err
}

// RunSummaryByID returns the summary of a past run.
func (s *Service) RunSummaryByID(ctx context.Context, runID string) (*store.RunSummary, error) {
	return s.runs.GetRun(ctx, runID)
}

// CurrentStats reports tier populations and the last run outcome.
func (s *Service) CurrentStats(ctx context.Context) (*Stats, error) {
	liveCount, err := s.live.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count live records: %w", err)
	}
	indexCount, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count index entries: %w", err)
	}
	coldCount, err := s.cold.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count cold objects: %w", err)
	}

	stats := &Stats{
		LiveRecords:      liveCount,
		ArchivedRecords:  indexCount,
		ColdObjects:      coldCount,
		AgeThresholdDays: s.cfg.AgeThresholdDays,
	}

	lastRun, err := s.runs.LatestRun(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("read latest run: %w", err)
	}
	stats.LastRun = lastRun

	s.metrics.LiveRecords.Set(float64(liveCount))
	s.metrics.ArchivedRecords.Set(float64(indexCount))
	return stats, nil
}
