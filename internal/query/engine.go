package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/knowledge"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/providers"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/hashutil"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

type KnowledgeBase interface {
	Search(ctx context.Context, params models.SearchParams) ([]models.KnowledgeResult, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (*models.Response, bool)
	Set(ctx context.Context, key string, resp *models.Response, ttl time.Duration) error
}

type Providers interface {
	SelectBestProvider(qt models.QueryType) (string, error)
	Query(ctx context.Context, name string, q *models.Query, tmpl providers.Template) (*models.Response, error)
}

// Recorder receives one metric per resolved query.
type Recorder interface {
	Record(ctx context.Context, m models.QueryMetric)
}

type Config struct {
	MinConfidence          float64
	MaxResults             int
	DefaultMaxResponseTime time.Duration
	SchedulingKeywords     []string
}

// Engine resolves a query through the knowledge base, the cache, a premium
// provider and finally a canned fallback, stopping at the first stage that
// answers.
type Engine struct {
	cfg        Config
	kb         KnowledgeBase
	cache      Cache
	providers  Providers
	recorder   Recorder
	scheduling []string
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(cfg Config, kb KnowledgeBase, cache Cache, p Providers, recorder Recorder) *Engine {
	if cfg.DefaultMaxResponseTime <= 0 {
		cfg.DefaultMaxResponseTime = 30 * time.Second
	}
	e := &Engine{
		cfg:       cfg,
		kb:        kb,
		cache:     cache,
		providers: p,
		recorder:  recorder,
		logger:    logger.Named("engine"),
		now:       time.Now,
	}
	for _, kw := range cfg.SchedulingKeywords {
		if kw = knowledge.Normalize(kw); kw != "" {
			e.scheduling = append(e.scheduling, kw)
		}
	}
	return e
}

func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// NewQuery builds a query with a fresh id, the default priority and time
// budget, and its cache key.
func (e *Engine) NewQuery(text string, qt models.QueryType, qctx *models.QueryContext) *models.Query {
	return &models.Query{
		ID:              uuid.New().String(),
		Text:            text,
		Type:            qt,
		Context:         qctx,
		Priority:        models.PriorityNormal,
		MaxResponseTime: e.cfg.DefaultMaxResponseTime,
		CreatedAt:       e.now(),
	}
}

// ProcessQuery is the entry point used by every caller. Only malformed input
// returns an error; every other failure ends in a fallback response.
func (e *Engine) ProcessQuery(ctx context.Context, text string, qt models.QueryType, qctx *models.QueryContext) (*models.Response, error) {
	return e.Resolve(ctx, e.NewQuery(text, qt, qctx))
}

// Resolve runs the pipeline for a prepared query.
func (e *Engine) Resolve(ctx context.Context, q *models.Query) (*models.Response, error) {
	start := time.Now()

	if err := Validate(q); err != nil {
		e.logger.Debug("Query rejected", zap.Error(err))
		return nil, err
	}
	if q.MaxResponseTime <= 0 {
		q.MaxResponseTime = e.cfg.DefaultMaxResponseTime
	}
	key, err := CacheKey(q.Text, q.Context)
	if err != nil {
		return nil, &apperr.ValidationError{Field: "context", Reason: err.Error()}
	}
	q.CacheKey = key

	e.logger.Info("Processing query",
		zap.String("query_id", q.ID),
		zap.String("type", string(q.Type)),
		zap.String("priority", string(q.Priority)),
	)

	var resp *models.Response
	if e.IsScheduling(q) {
		e.stage(q, "query-premium", "scheduling intent")
		resp = e.queryPremium(ctx, q, providers.TemplateScheduling)
	} else {
		resp = e.resolveClinical(ctx, q)
	}
	if resp == nil {
		e.stage(q, "fallback", "")
		resp = Fallback(q, e.now())
	}

	return e.finish(ctx, q, resp, start), nil
}

func (e *Engine) resolveClinical(ctx context.Context, q *models.Query) *models.Response {
	e.stage(q, "search-internal", "")
	if resp := e.searchInternal(ctx, q); resp != nil {
		return resp
	}

	e.stage(q, "check-cache", "")
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, q.CacheKey); ok {
			cached.QueryID = q.ID
			cached.Source = models.SourceCache
			cached.Metadata.Source = models.SourceCache
			cached.TokensUsed = 0
			return cached
		}
	}

	e.stage(q, "query-premium", "")
	resp := e.queryPremium(ctx, q, providers.TemplateClinical)
	if resp != nil && e.cache != nil {
		if err := e.cache.Set(ctx, q.CacheKey, resp, 0); err != nil {
			e.logger.Warn("Failed to cache premium response", zap.String("query_id", q.ID), zap.Error(err))
		}
	}
	return resp
}

func (e *Engine) searchInternal(ctx context.Context, q *models.Query) *models.Response {
	params := models.SearchParams{
		Text:          q.Text,
		Symptoms:      q.Context.Symptoms,
		Diagnosis:     q.Context.Diagnosis,
		TenantID:      q.Context.TenantID,
		Limit:         e.cfg.MaxResults,
		MinConfidence: e.cfg.MinConfidence,
	}
	results, err := e.kb.Search(ctx, params)
	if err != nil {
		e.logger.Warn("Knowledge search failed", zap.String("query_id", q.ID), zap.Error(err))
		return nil
	}
	if len(results) == 0 {
		return nil
	}
	return Synthesize(q, results, e.now())
}

// queryPremium returns nil when no provider answers within the query's time
// budget.
func (e *Engine) queryPremium(ctx context.Context, q *models.Query, tmpl providers.Template) *models.Response {
	if e.providers == nil {
		return nil
	}
	name, err := e.providers.SelectBestProvider(q.Type)
	if err != nil {
		e.logger.Info("No premium provider available", zap.String("query_id", q.ID), zap.Error(err))
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, q.MaxResponseTime)
	defer cancel()

	type result struct {
		resp *models.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.providers.Query(pctx, name, q, tmpl)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			level := e.logger.Warn
			if errors.Is(r.err, apperr.ErrProviderUnavailable) {
				level = e.logger.Info
			}
			level("Premium stage failed", zap.String("query_id", q.ID), zap.String("provider", name), zap.Error(r.err))
			return nil
		}
		return r.resp
	case <-pctx.Done():
		e.logger.Warn("Premium stage timed out",
			zap.String("query_id", q.ID),
			zap.String("provider", name),
			zap.Duration("max_response_time", q.MaxResponseTime),
		)
		return nil
	}
}

func (e *Engine) finish(ctx context.Context, q *models.Query, resp *models.Response, start time.Time) *models.Response {
	elapsed := time.Since(start)
	resp.QueryID = q.ID
	resp.ResponseTime = elapsed

	tokens := 0
	if resp.Source == models.SourcePremium {
		tokens = resp.TokensUsed
	}
	if e.recorder != nil {
		e.recorder.Record(ctx, models.QueryMetric{
			QueryID:      q.ID,
			Type:         q.Type,
			Source:       resp.Source,
			Provider:     resp.Provider,
			ResponseTime: elapsed,
			TokensUsed:   tokens,
			Confidence:   resp.Confidence,
			Success:      resp.Source != models.SourceFallback,
			Timestamp:    e.now(),
		})
	}

	e.logger.Info("Query resolved",
		zap.String("query_id", q.ID),
		zap.String("source", string(resp.Source)),
		zap.String("provider", resp.Provider),
		zap.Float64("confidence", resp.Confidence),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
		zap.Bool("success", resp.Source != models.SourceFallback),
	)
	return resp
}

func (e *Engine) stage(q *models.Query, name, reason string) {
	fields := []zap.Field{zap.String("query_id", q.ID), zap.String("stage", name)}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	e.logger.Debug("Query stage", fields...)
}

// IsScheduling reports whether q must bypass the knowledge base and cache.
func (e *Engine) IsScheduling(q *models.Query) bool {
	if q.Type == models.QueryScheduling {
		return true
	}
	text := knowledge.Normalize(q.Text)
	for _, kw := range e.scheduling {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Validate fails fast on a malformed query.
func Validate(q *models.Query) error {
	switch {
	case q == nil:
		return &apperr.ValidationError{Field: "query"}
	case q.ID == "":
		return &apperr.ValidationError{Field: "id"}
	case strings.TrimSpace(q.Text) == "":
		return &apperr.ValidationError{Field: "text"}
	case q.Type == "":
		return &apperr.ValidationError{Field: "type"}
	case !q.Type.Valid():
		return &apperr.ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a known query type", q.Type)}
	case q.Context == nil:
		return &apperr.ValidationError{Field: "context"}
	case strings.TrimSpace(q.Context.UserRole) == "":
		return &apperr.ValidationError{Field: "context.userRole"}
	}
	return nil
}

// CacheKey derives the cache key of a query from its text and context.
func CacheKey(text string, qctx *models.QueryContext) (string, error) {
	return hashutil.DeriveKey(text, qctx)
}
