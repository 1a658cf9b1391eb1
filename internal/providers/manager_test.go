package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	lastReq CompletionRequest
	content string
	tokens  int
	err     error
	pingErr error
}

func (c *fakeClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
	return &CompletionResponse{Content: c.content, Usage: Usage{TotalTokens: c.tokens}}, nil
}

func (c *fakeClient) Ping(ctx context.Context) error {
	return c.pingErr
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func providerConfig(name string, enabled bool, weight float64, hourly int64) config.ProviderConfig {
	return config.ProviderConfig{
		Name:    name,
		Type:    TypeOpenAI,
		Model:   name + "-model",
		Enabled: enabled,
		Weight:  weight,
		Limits:  config.ProviderLimits{Hourly: hourly, Daily: 1000, Monthly: 10000},
	}
}

func setupManager(t *testing.T, lb config.LoadBalancingConfig, providers []config.ProviderConfig, clients map[string]Client) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Providers = providers
	cfg.LoadBalancing = lb

	tracker := NewTracker(Thresholds{Warning: 0.8, Critical: 0.95}, newMemUsageStore(), &alertRecorder{})
	m, err := NewManager(cfg, clients, tracker, NewAnonymizer(true, []string{"Maria"}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func twoProviders() ([]config.ProviderConfig, map[string]Client, *fakeClient, *fakeClient) {
	a := &fakeClient{content: "resposta a", tokens: 100}
	b := &fakeClient{content: "resposta b", tokens: 200}
	return []config.ProviderConfig{
			providerConfig("alpha", true, 1, 100),
			providerConfig("beta", true, 1, 100),
		},
		map[string]Client{"alpha": a, "beta": b},
		a, b
}

func TestNewManagerRejectsEnabledProviderWithoutClient(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{providerConfig("alpha", true, 1, 10)}

	_, err := NewManager(cfg, map[string]Client{}, NewTracker(Thresholds{Warning: 0.8, Critical: 0.95}, nil, nil), nil)
	if !errors.Is(err, apperr.ErrConfigurationInvalid) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	var cfgErr *apperr.ConfigError
	if !errors.As(err, &cfgErr) || !strings.Contains(cfgErr.Check, "alpha") {
		t.Errorf("expected the check to name the provider, got %v", err)
	}
}

func TestSelectBestProviderFollowsPreferences(t *testing.T) {
	providers, clients, _, _ := twoProviders()
	m := setupManager(t, config.LoadBalancingConfig{
		Strategy:    config.StrategyRoundRobin,
		Preferences: map[string][]string{"diagnosis_help": {"beta", "alpha"}},
	}, providers, clients)

	name, err := m.SelectBestProvider(models.QueryDiagnosisHelp)
	if err != nil || name != "beta" {
		t.Fatalf("expected preferred beta, got %q (%v)", name, err)
	}

	// no preference list: configuration order
	name, _ = m.SelectBestProvider(models.QueryGeneralQuestion)
	if name != "alpha" {
		t.Errorf("expected alpha without preferences, got %q", name)
	}

	// a blocked preferred provider is skipped
	for i := 0; i < 100; i++ {
		_, _ = m.Usage().Track(context.Background(), "beta", 0)
	}
	name, _ = m.SelectBestProvider(models.QueryDiagnosisHelp)
	if name != "alpha" {
		t.Errorf("expected alpha once beta is blocked, got %q", name)
	}
}

func TestSelectBestProviderAllUnavailable(t *testing.T) {
	providers := []config.ProviderConfig{
		providerConfig("alpha", true, 1, 1),
		providerConfig("off", false, 1, 10),
	}
	m := setupManager(t, config.LoadBalancingConfig{Strategy: config.StrategyRoundRobin},
		providers, map[string]Client{"alpha": &fakeClient{}})
	_, _ = m.Usage().Track(context.Background(), "alpha", 0)

	_, err := m.SelectBestProvider(models.QueryCaseAnalysis)
	if !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestRoundRobinCyclesPerQueryType(t *testing.T) {
	providers, clients, _, _ := twoProviders()
	m := setupManager(t, config.LoadBalancingConfig{Enabled: true, Strategy: config.StrategyRoundRobin}, providers, clients)

	var got []string
	for i := 0; i < 4; i++ {
		name, _ := m.SelectBestProvider(models.QueryExerciseRecommendation)
		got = append(got, name)
	}
	if strings.Join(got, ",") != "alpha,beta,alpha,beta" {
		t.Errorf("unexpected rotation %v", got)
	}

	if name, _ := m.SelectBestProvider(models.QueryCaseAnalysis); name != "alpha" {
		t.Errorf("rotation must be tracked per query type, got %q", name)
	}
}

func TestLeastUsedPicksLowestMonthlyCounter(t *testing.T) {
	providers, clients, _, _ := twoProviders()
	m := setupManager(t, config.LoadBalancingConfig{Enabled: true, Strategy: config.StrategyLeastUsed}, providers, clients)

	_, _ = m.Usage().Track(context.Background(), "alpha", 0)
	_, _ = m.Usage().Track(context.Background(), "alpha", 0)

	if name, _ := m.SelectBestProvider(models.QueryGeneralQuestion); name != "beta" {
		t.Errorf("expected least used beta, got %q", name)
	}
}

func TestWeightedIgnoresZeroWeight(t *testing.T) {
	providers, clients, _, _ := twoProviders()
	providers[0].Weight = 0
	m := setupManager(t, config.LoadBalancingConfig{Enabled: true, Strategy: config.StrategyWeighted}, providers, clients)
	m.Seed(7)

	for i := 0; i < 20; i++ {
		if name, _ := m.SelectBestProvider(models.QueryGeneralQuestion); name != "beta" {
			t.Fatalf("zero-weight provider selected on draw %d", i)
		}
	}
}

func TestQueryAnonymizesAndRestoresQueryID(t *testing.T) {
	providers, clients, alpha, _ := twoProviders()
	alpha.content = "Faça mobilidade lombar.\nA dor piora ao sentar?"
	m := setupManager(t, config.LoadBalancingConfig{Strategy: config.StrategyRoundRobin}, providers, clients)

	q := &models.Query{
		ID:   "query-1",
		Text: "Maria, CPF 123.456.789-09, tel (11) 98765-4321, maria@clinica.com, dor lombar",
		Type: models.QueryExerciseRecommendation,
		Context: &models.QueryContext{
			UserRole:  "physiotherapist",
			PatientID: "patient-9",
			Symptoms:  []string{"dor lombar"},
		},
	}

	resp, err := m.Query(context.Background(), "alpha", q, TemplateClinical)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	prompt := alpha.lastReq.UserPrompt
	for _, leaked := range []string{"Maria", "123.456.789-09", "98765-4321", "maria@clinica.com", "patient-9"} {
		if strings.Contains(prompt, leaked) {
			t.Errorf("prompt leaked %q: %s", leaked, prompt)
		}
	}
	if !strings.Contains(prompt, "dor lombar") {
		t.Errorf("clinical content must survive anonymization: %s", prompt)
	}

	if resp.QueryID != "query-1" {
		t.Errorf("expected original query id, got %q", resp.QueryID)
	}
	if resp.Source != models.SourcePremium || resp.Provider != "alpha" || resp.TokensUsed != 100 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.FollowUpQuestions) != 1 || resp.FollowUpQuestions[0] != "A dor piora ao sentar?" {
		t.Errorf("unexpected follow-ups %v", resp.FollowUpQuestions)
	}

	tr, _ := m.Usage().Get("alpha")
	if tr.Current.Hourly != 1 || tr.TotalTokens != 100 {
		t.Errorf("usage not recorded: %+v", tr)
	}
}

func TestQueryRejectsDisabledAndBlocked(t *testing.T) {
	alpha := &fakeClient{content: "ok", tokens: 10}
	providers := []config.ProviderConfig{
		providerConfig("alpha", true, 1, 1),
		providerConfig("off", false, 1, 10),
	}
	m := setupManager(t, config.LoadBalancingConfig{Strategy: config.StrategyRoundRobin},
		providers, map[string]Client{"alpha": alpha})
	q := &models.Query{ID: "q", Text: "pergunta", Type: models.QueryGeneralQuestion}
	ctx := context.Background()

	if _, err := m.Query(ctx, "off", q, TemplateClinical); !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Errorf("expected disabled provider rejected, got %v", err)
	}
	if _, err := m.Query(ctx, "alpha", q, TemplateClinical); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := m.Query(ctx, "alpha", q, TemplateClinical); !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Errorf("expected blocked provider rejected, got %v", err)
	}
	if alpha.Calls() != 1 {
		t.Errorf("rejected queries must not reach the client, got %d calls", alpha.Calls())
	}
}

func TestQueryCallFailure(t *testing.T) {
	providers, clients, alpha, _ := twoProviders()
	alpha.err = errors.New("connection reset")
	m := setupManager(t, config.LoadBalancingConfig{Strategy: config.StrategyRoundRobin}, providers, clients)

	_, err := m.Query(context.Background(), "alpha", &models.Query{ID: "q", Text: "x"}, TemplateClinical)
	if !errors.Is(err, apperr.ErrProviderCallFailed) {
		t.Fatalf("expected call failure, got %v", err)
	}
	tr, _ := m.Usage().Get("alpha")
	if tr.Current.Hourly != 0 {
		t.Errorf("failed calls must not consume quota, got %d", tr.Current.Hourly)
	}
	stats := m.Stats()
	if stats[0].Requests != 1 || stats[0].Errors != 1 {
		t.Errorf("unexpected stats %+v", stats[0])
	}
}

func TestSchedulingTemplate(t *testing.T) {
	providers, clients, alpha, _ := twoProviders()
	m := setupManager(t, config.LoadBalancingConfig{Strategy: config.StrategyRoundRobin}, providers, clients)

	q := &models.Query{ID: "q", Text: "quero agendar uma sessão", Type: models.QueryGeneralQuestion}
	resp, err := m.Query(context.Background(), "alpha", q, TemplateScheduling)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if alpha.lastReq.SystemPrompt != schedulingSystemPrompt {
		t.Error("expected the scheduling prompt")
	}
	if resp.Metadata.EvidenceLevel != models.EvidenceLow {
		t.Errorf("expected low evidence for scheduling answers, got %s", resp.Metadata.EvidenceLevel)
	}
}

func TestTestAll(t *testing.T) {
	providers := []config.ProviderConfig{
		providerConfig("alpha", true, 1, 10),
		providerConfig("beta", true, 1, 10),
		providerConfig("off", false, 1, 10),
	}
	clients := map[string]Client{
		"alpha": &fakeClient{},
		"beta":  &fakeClient{pingErr: errors.New("401 unauthorized")},
	}
	m := setupManager(t, config.LoadBalancingConfig{Strategy: config.StrategyRoundRobin}, providers, clients)

	got := m.TestAll(context.Background())
	want := map[string]bool{"alpha": true, "beta": false, "off": false}
	for name, ok := range want {
		if got[name] != ok {
			t.Errorf("%s: got %v, want %v", name, got[name], ok)
		}
	}
}

func TestTestAllWithDisabledProvidersAfterEnabled(t *testing.T) {
	providers := []config.ProviderConfig{providerConfig("alpha", true, 1, 10)}
	for i := 0; i < 16; i++ {
		providers = append(providers, providerConfig(fmt.Sprintf("off-%d", i), false, 1, 10))
	}
	m := setupManager(t, config.LoadBalancingConfig{Strategy: config.StrategyRoundRobin}, providers, map[string]Client{"alpha": &fakeClient{}})

	for round := 0; round < 20; round++ {
		got := m.TestAll(context.Background())
		if len(got) != len(providers) || !got["alpha"] || got["off-0"] {
			t.Fatalf("round %d: %v", round, got)
		}
	}
}

func TestConcurrentQueriesCountEveryCall(t *testing.T) {
	providers, clients, alpha, beta := twoProviders()
	m := setupManager(t, config.LoadBalancingConfig{Enabled: true, Strategy: config.StrategyRoundRobin}, providers, clients)

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				name, err := m.SelectBestProvider(models.QueryGeneralQuestion)
				if err != nil {
					t.Errorf("SelectBestProvider: %v", err)
					return
				}
				q := &models.Query{ID: fmt.Sprintf("q-%d-%d", w, i), Text: "pergunta", Type: models.QueryGeneralQuestion}
				if _, err := m.Query(context.Background(), name, q, TemplateClinical); err != nil {
					t.Errorf("Query: %v", err)
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			m.TestAll(context.Background())
			m.Stats()
		}
	}()
	wg.Wait()

	a, _ := m.Usage().Get("alpha")
	b, _ := m.Usage().Get("beta")
	if a.Current.Monthly+b.Current.Monthly != workers*perWorker {
		t.Errorf("monthly usage = %d + %d, want %d", a.Current.Monthly, b.Current.Monthly, workers*perWorker)
	}
	if alpha.Calls()+beta.Calls() != workers*perWorker {
		t.Errorf("client calls = %d, want %d", alpha.Calls()+beta.Calls(), workers*perWorker)
	}
}
