package providers

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/metrics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/circuitbreaker"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

const (
	premiumConfidence   = 0.8
	followUpLimit       = 3
	providerTestTimeout = 10 * time.Second
)

type provider struct {
	cfg    config.ProviderConfig
	client Client

	requests atomic.Int64
	errors   atomic.Int64

	mu           sync.Mutex
	lastResponse time.Duration
	lastUsed     time.Time
}

// Manager picks a premium provider per query and dispatches anonymized calls.
type Manager struct {
	providers   map[string]*provider
	order       []string
	usage       *Tracker
	anonymizer  *Anonymizer
	lb          config.LoadBalancingConfig
	preferences map[models.QueryType][]string
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	lastUsed map[models.QueryType]string
	rng      *rand.Rand
}

// NewManager wires providers to their clients and registers them with the
// usage tracker. An enabled provider without a client is a configuration
// error.
func NewManager(cfg *config.Config, clients map[string]Client, usage *Tracker, anonymizer *Anonymizer) (*Manager, error) {
	m := &Manager{
		providers:   make(map[string]*provider, len(cfg.Providers)),
		usage:       usage,
		anonymizer:  anonymizer,
		lb:          cfg.LoadBalancing,
		preferences: make(map[models.QueryType][]string, len(cfg.LoadBalancing.Preferences)),
		logger:      logger.Named("providers"),
		now:         time.Now,
		lastUsed:    make(map[models.QueryType]string),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if m.anonymizer == nil {
		m.anonymizer = NewAnonymizer(false, nil)
	}

	for _, pc := range cfg.Providers {
		client := clients[pc.Name]
		if pc.Enabled && client == nil {
			return nil, apperr.Invalid("provider "+pc.Name+" is enabled but has no client", nil)
		}
		m.providers[pc.Name] = &provider{cfg: pc, client: client}
		m.order = append(m.order, pc.Name)
		usage.Register(pc.Name, models.UsageWindow{
			Hourly:  pc.Limits.Hourly,
			Daily:   pc.Limits.Daily,
			Monthly: pc.Limits.Monthly,
		})
	}
	for qt, names := range cfg.LoadBalancing.Preferences {
		m.preferences[models.QueryType(qt)] = names
	}

	m.logger.Info("Provider manager initialized",
		zap.Strings("providers", m.order),
		zap.String("strategy", m.lb.Strategy),
		zap.Bool("load_balancing", m.lb.Enabled),
	)
	return m, nil
}

func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Seed fixes the random source used by the weighted strategy.
func (m *Manager) Seed(seed int64) {
	m.mu.Lock()
	m.rng = rand.New(rand.NewSource(seed))
	m.mu.Unlock()
}

func (m *Manager) Usage() *Tracker {
	return m.usage
}

func (m *Manager) available(p *provider) bool {
	if !p.cfg.Enabled || p.client == nil {
		return false
	}
	if m.usage.Status(p.cfg.Name) == models.StatusBlocked {
		return false
	}
	if b, ok := p.client.(breakerAware); ok && b.BreakerState() == circuitbreaker.StateOpen {
		return false
	}
	return true
}

// candidates lists available providers, preferred ones for qt first.
func (m *Manager) candidates(qt models.QueryType) (preferred, others []*provider) {
	seen := make(map[string]bool)
	for _, name := range m.preferences[qt] {
		p, ok := m.providers[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		if m.available(p) {
			preferred = append(preferred, p)
		}
	}
	for _, name := range m.order {
		if seen[name] {
			continue
		}
		if p := m.providers[name]; m.available(p) {
			others = append(others, p)
		}
	}
	return preferred, others
}

// SelectBestProvider returns the provider that should answer a query of type
// qt, or ErrProviderUnavailable when every provider is disabled or blocked.
func (m *Manager) SelectBestProvider(qt models.QueryType) (string, error) {
	preferred, others := m.candidates(qt)
	pool := preferred
	if len(pool) == 0 {
		pool = others
	}
	if len(pool) == 0 {
		return "", &apperr.ProviderError{Provider: "any", Err: apperr.ErrProviderUnavailable, Cause: errors.New("no provider available")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chosen := pool[0]
	if m.lb.Enabled && len(pool) > 1 {
		switch m.lb.Strategy {
		case config.StrategyLeastUsed:
			chosen = m.leastUsed(pool)
		case config.StrategyWeighted:
			chosen = m.weighted(pool)
		default:
			chosen = m.roundRobin(qt, pool)
		}
	}
	m.lastUsed[qt] = chosen.cfg.Name
	return chosen.cfg.Name, nil
}

func (m *Manager) roundRobin(qt models.QueryType, pool []*provider) *provider {
	last := m.lastUsed[qt]
	for i, p := range pool {
		if p.cfg.Name == last {
			return pool[(i+1)%len(pool)]
		}
	}
	return pool[0]
}

func (m *Manager) leastUsed(pool []*provider) *provider {
	best := pool[0]
	bestCount := int64(-1)
	for _, p := range pool {
		tr, _ := m.usage.Get(p.cfg.Name)
		if bestCount < 0 || tr.Current.Monthly < bestCount {
			best, bestCount = p, tr.Current.Monthly
		}
	}
	return best
}

// weighted draws a provider with probability proportional to
// weight * (1 - percentage).
func (m *Manager) weighted(pool []*provider) *provider {
	weights := make([]float64, len(pool))
	total := 0.0
	for i, p := range pool {
		tr, _ := m.usage.Get(p.cfg.Name)
		w := p.cfg.Weight * (1 - tr.Percentage)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return pool[0]
	}
	r := m.rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return pool[i]
		}
		r -= w
	}
	return pool[len(pool)-1]
}

// Query sends q to the named provider. Disabled or blocked providers are
// rejected with ErrProviderUnavailable before anything leaves the process.
func (m *Manager) Query(ctx context.Context, name string, q *models.Query, tmpl Template) (*models.Response, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, apperr.Unavailable(name, "unknown provider")
	}
	if !p.cfg.Enabled || p.client == nil {
		return nil, apperr.Unavailable(name, "disabled")
	}
	if m.usage.Status(name) == models.StatusBlocked {
		return nil, apperr.Unavailable(name, "quota exhausted")
	}

	anon := m.anonymizer.Query(q)
	req := BuildPrompt(anon, tmpl)

	start := time.Now()
	p.requests.Add(1)
	result, err := p.client.Complete(ctx, req)
	elapsed := time.Since(start)

	p.mu.Lock()
	p.lastResponse = elapsed
	p.lastUsed = m.now()
	p.mu.Unlock()

	if err != nil {
		p.errors.Add(1)
		metrics.ProviderRequests.WithLabelValues(name, "error").Inc()
		m.logger.Warn("Provider call failed",
			zap.String("provider", name),
			zap.String("query_id", q.ID),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, &apperr.ProviderError{Provider: name, Err: apperr.ErrProviderUnavailable, Cause: err}
		}
		return nil, apperr.CallFailed(name, err)
	}

	tokens := result.Usage.TotalTokens
	metrics.ProviderRequests.WithLabelValues(name, "success").Inc()
	metrics.ProviderTokens.WithLabelValues(name).Add(float64(tokens))
	if _, err := m.usage.Track(ctx, name, tokens); err != nil {
		m.logger.Warn("Failed to track usage", zap.String("provider", name), zap.Error(err))
	}

	evidence := models.EvidenceModerate
	if tmpl == TemplateScheduling {
		evidence = models.EvidenceLow
	}
	content := strings.TrimSpace(result.Content)
	resp := &models.Response{
		ID:                uuid.New().String(),
		QueryID:           q.ID,
		Content:           content,
		Confidence:        premiumConfidence,
		Source:            models.SourcePremium,
		Provider:          name,
		FollowUpQuestions: followUps(content, followUpLimit),
		TokensUsed:        tokens,
		ResponseTime:      elapsed,
		CreatedAt:         m.now(),
		Metadata: models.ResponseMetadata{
			EvidenceLevel: evidence,
			Reliability:   premiumConfidence,
			Relevance:     premiumConfidence,
			Source:        models.SourcePremium,
		},
	}

	m.logger.Info("Provider answered",
		zap.String("provider", name),
		zap.String("query_id", q.ID),
		zap.Int("tokens", tokens),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
	)
	return resp, nil
}

// TestAll pings every provider concurrently. Disabled providers report false.
func (m *Manager) TestAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(m.order))
	var mu sync.Mutex
	var wg sync.WaitGroup

	var live []*provider
	for _, name := range m.order {
		p := m.providers[name]
		results[name] = false
		if p.cfg.Enabled && p.client != nil {
			live = append(live, p)
		}
	}

	for _, p := range live {
		wg.Add(1)
		go func(name string, p *provider) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, providerTestTimeout)
			defer cancel()

			err := p.client.Ping(pingCtx)
			if err != nil {
				m.logger.Warn("Provider test failed", zap.String("provider", name), zap.Error(err))
			}
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
		}(p.cfg.Name, p)
	}
	wg.Wait()
	return results
}

// Stats reports configuration, usage and breaker state per provider.
func (m *Manager) Stats() []models.ProviderStats {
	stats := make([]models.ProviderStats, 0, len(m.order))
	for _, name := range m.order {
		p := m.providers[name]
		tr, _ := m.usage.Get(name)
		s := models.ProviderStats{
			Provider:     name,
			Enabled:      p.cfg.Enabled,
			Model:        p.cfg.Model,
			Usage:        tr,
			BreakerState: "n/a",
			Requests:     p.requests.Load(),
			Errors:       p.errors.Load(),
		}
		if b, ok := p.client.(breakerAware); ok {
			s.BreakerState = b.BreakerState().String()
		}
		p.mu.Lock()
		s.LastResponseTime = p.lastResponse
		s.LastUsed = p.lastUsed
		p.mu.Unlock()
		stats = append(stats, s)
	}
	return stats
}
