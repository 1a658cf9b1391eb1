package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/analytics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/cache"
	cacheredis "github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/cache/redis"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/ingestion"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/knowledge"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/metrics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/providers"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/query"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/sqlite"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/scheduler"
)

// Options overrides the connections New would open itself.
type Options struct {
	// Clients replaces the OpenAI-compatible clients built from config.
	Clients map[string]providers.Client
	// Tier1 replaces the Redis tier. When nil and redis is disabled or
	// unreachable, responses routed to tier 1 stay in memory.
	Tier1 cache.Store
	// DisableJobs skips the background scheduler.
	DisableJobs bool
}

// Service owns every component of the engine and the background jobs that
// keep them current. Close releases all of it.
type Service struct {
	cfg       *config.Config
	db        *sqlite.Client
	redis     *cacheredis.Client
	cache     *cache.Tiered
	kb        *knowledge.Service
	importer  *ingestion.Processor
	usage     *providers.Tracker
	providers *providers.Manager
	analytics *analytics.Aggregator
	engine    *query.Engine
	jobs      *scheduler.Scheduler
	logger    *zap.Logger
}

// New runs the startup checks, opens storage, restores persisted state and
// starts the background jobs. Any failed check is returned as an
// *apperr.ConfigError.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, logger: logger.Named("service")}
	metrics.Init()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	s.db = db
	if err := db.InitSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	tier1 := opts.Tier1
	if tier1 == nil && cfg.Redis.Enabled {
		rc, err := cacheredis.NewClient(ctx, cacheredis.Options{
			Host:       cfg.Redis.Host,
			Port:       cfg.Redis.Port,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			MaxEntries: cfg.Cache.Tier1MaxEntries,
			MaxBytes:   cfg.Cache.Tier1MaxBytes,
		})
		if err != nil {
			s.logger.Warn("Redis tier unavailable, small entries stay in memory", zap.Error(err))
		} else {
			s.redis = rc
			tier1 = rc
		}
	}

	memory, err := cache.NewMemory(cfg.Cache.MemoryMaxEntries)
	if err != nil {
		s.Close()
		return nil, apperr.Invalid("cache.memoryMaxEntries", err)
	}
	s.cache = cache.NewTiered(cache.Config{
		DefaultTTL:          cfg.Cache.DefaultTTL,
		HighEvidenceTTL:     cfg.Cache.HighEvidenceTTL,
		ModerateEvidenceTTL: cfg.Cache.ModerateEvidenceTTL,
		LowEvidenceTTL:      cfg.Cache.LowEvidenceTTL,
		Tier1ItemMaxBytes:   cfg.Cache.Tier1ItemMaxBytes,
	}, memory, tier1, db.CacheStore(cfg.Cache.Tier2MaxEntries))

	s.kb = knowledge.NewService(db, knowledge.IndexConfig{
		MinConfidence:  cfg.Knowledge.MinConfidence,
		MinRelevance:   cfg.Knowledge.MinRelevance,
		FuzzyEnabled:   cfg.Knowledge.FuzzyEnabled,
		FuzzyThreshold: cfg.Knowledge.FuzzyThreshold,
		MaxResults:     cfg.Knowledge.MaxResults,
	})
	if err := s.kb.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.importer = ingestion.NewProcessor(s.kb)

	s.analytics = analytics.NewAggregator(cfg.Analytics, db)
	if err := s.analytics.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.usage = providers.NewTracker(providers.Thresholds{
		Warning:  cfg.Usage.WarningThreshold,
		Critical: cfg.Usage.CriticalThreshold,
	}, db, s.analytics)

	clients := opts.Clients
	if clients == nil {
		clients = providers.NewClients(cfg.Providers)
	}
	s.providers, err = providers.NewManager(cfg, clients, s.usage, providers.NewAnonymizer(cfg.Anonymization.Enabled, cfg.Anonymization.Names))
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.usage.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.analytics.SetProviderStats(s.providers.Stats)

	s.engine = query.NewEngine(query.Config{
		MinConfidence:          cfg.Knowledge.MinConfidence,
		MaxResults:             cfg.Knowledge.MaxResults,
		DefaultMaxResponseTime: cfg.Engine.DefaultMaxResponseTime,
		SchedulingKeywords:     cfg.Engine.SchedulingKeywords,
	}, s.kb, s.cache, s.providers, s.analytics)

	if !opts.DisableJobs {
		s.startJobs()
	}

	s.logger.Info("Engine initialized",
		zap.Int("knowledge_entries", s.kb.Statistics().TotalEntries),
		zap.Int("providers", len(cfg.Providers)),
		zap.Bool("redis_tier", tier1 != nil),
	)
	return s, nil
}

func (s *Service) startJobs() {
	s.jobs = scheduler.New(logger.Named("scheduler"))

	s.jobs.Every("usage-reset", s.cfg.Usage.CheckInterval, func(ctx context.Context) {
		s.usage.Reset(ctx, providers.WindowHourly)
		s.usage.Reset(ctx, providers.WindowDaily)
	})
	s.jobs.Every("usage-monthly-reset", s.cfg.Usage.MonthlyInterval, func(ctx context.Context) {
		s.usage.Reset(ctx, providers.WindowMonthly)
	})
	s.jobs.Every("cache-sweep", s.cfg.Cache.SweepInterval, func(ctx context.Context) {
		s.cache.Sweep(ctx)
	})
	s.jobs.Every("analytics-rollup", s.cfg.Analytics.RollupInterval, func(ctx context.Context) {
		if err := s.analytics.Rollup(ctx); err != nil {
			s.logger.Warn("Analytics rollup failed", zap.Error(err))
		}
	})
}

// Close stops the jobs and releases storage. It is safe on a partially
// built service.
func (s *Service) Close() error {
	if s.jobs != nil {
		s.jobs.Stop()
	}
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sqlite: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Ready pings the durable stores.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (s *Service) Config() *config.Config { return s.cfg }

func (s *Service) ProcessQuery(ctx context.Context, text string, qt models.QueryType, qctx *models.QueryContext) (*models.Response, error) {
	return s.engine.ProcessQuery(ctx, text, qt, qctx)
}

// Resolve runs a caller-built query, e.g. one with its own MaxResponseTime.
func (s *Service) Resolve(ctx context.Context, q *models.Query) (*models.Response, error) {
	return s.engine.Resolve(ctx, q)
}

func (s *Service) NewQuery(text string, qt models.QueryType, qctx *models.QueryContext) *models.Query {
	return s.engine.NewQuery(text, qt, qctx)
}

func (s *Service) AddKnowledge(ctx context.Context, entry *models.KnowledgeEntry) (string, error) {
	return s.kb.Add(ctx, entry)
}

func (s *Service) UpdateEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	return s.kb.Update(ctx, entry)
}

func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	return s.kb.Delete(ctx, id)
}

func (s *Service) GetEntry(id string) (*models.KnowledgeEntry, error) {
	return s.kb.Get(id)
}

func (s *Service) ListEntries(tenantID string) []*models.KnowledgeEntry {
	return s.kb.List(tenantID)
}

func (s *Service) Search(ctx context.Context, params models.SearchParams) ([]models.KnowledgeResult, error) {
	return s.kb.Search(ctx, params)
}

func (s *Service) FindBySymptom(ctx context.Context, symptom, tenantID string) ([]models.KnowledgeResult, error) {
	return s.kb.FindBySymptom(ctx, symptom, tenantID)
}

func (s *Service) FindByDiagnosis(ctx context.Context, diagnosis, tenantID string) ([]models.KnowledgeResult, error) {
	return s.kb.FindByDiagnosis(ctx, diagnosis, tenantID)
}

func (s *Service) FindByTechnique(ctx context.Context, technique, tenantID string) ([]models.KnowledgeResult, error) {
	return s.kb.FindByTechnique(ctx, technique, tenantID)
}

func (s *Service) GetStatistics() models.KnowledgeStatistics {
	return s.kb.Statistics()
}

// ImportDocument turns an HTML document into a knowledge entry.
func (s *Service) ImportDocument(ctx context.Context, source, html string, opts ingestion.Options) (string, error) {
	return s.importer.ProcessDocument(ctx, source, html, opts)
}

func (s *Service) GetCurrentAnalytics() models.AnalyticsSnapshot {
	return s.analytics.GetCurrentAnalytics()
}

func (s *Service) GetDetailedReport(ctx context.Context, period string) (*models.DetailedReport, error) {
	return s.analytics.GetDetailedReport(ctx, period)
}

func (s *Service) GetEconomyReport() models.EconomyReport {
	return s.analytics.GetEconomyReport()
}

// Rollup runs the analytics rollup now instead of waiting for the job.
func (s *Service) Rollup(ctx context.Context) error {
	return s.analytics.Rollup(ctx)
}

func (s *Service) GetAlerts(onlyOpen bool) []models.Alert {
	return s.analytics.GetAlerts(onlyOpen)
}

func (s *Service) ResolveAlert(ctx context.Context, id string) error {
	return s.analytics.ResolveAlert(ctx, id)
}

func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

func (s *Service) CacheStats(ctx context.Context) models.CacheStats {
	return s.cache.Stats(ctx)
}

func (s *Service) TestAllProviders(ctx context.Context) map[string]bool {
	return s.providers.TestAll(ctx)
}

func (s *Service) GetProviderStats() []models.ProviderStats {
	return s.providers.Stats()
}

// RecordFeedback attaches the feedback to the query's metric, then moves the
// confidence of every entry that answered the query. Unknown queries leave
// the knowledge base untouched. Entries that no longer exist are skipped.
func (s *Service) RecordFeedback(ctx context.Context, queryID string, entryIDs []string, helpful bool, rating int) error {
	if queryID == "" {
		return &apperr.ValidationError{Field: "queryId"}
	}
	if rating < 0 || rating > 5 {
		return &apperr.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}

	if err := s.analytics.RecordFeedback(ctx, queryID, models.Feedback{Helpful: helpful, Rating: rating}); err != nil {
		return err
	}
	for _, id := range entryIDs {
		if _, err := s.kb.RecordFeedback(ctx, id, helpful); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				s.logger.Debug("Feedback for missing entry", zap.String("entry_id", id))
				continue
			}
			return err
		}
	}
	return nil
}

// Health is the body of /health.
func (s *Service) Health() map[string]any {
	return map[string]any{
		"status":            "healthy",
		"time":              time.Now().Unix(),
		"knowledge_entries": s.kb.Statistics().TotalEntries,
		"redis_tier":        s.redis != nil,
	}
}
