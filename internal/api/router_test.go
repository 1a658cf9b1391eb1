package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/providers"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
)

type echoClient struct{}

func (echoClient) Complete(_ context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return &providers.CompletionResponse{
		Content: "Sugestão do provedor.",
		Usage:   providers.Usage{TotalTokens: 50},
	}, nil
}

func (echoClient) Ping(context.Context) error { return nil }

func setupServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Redis.Enabled = false
	cfg.Server.IsDevelopment = true
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := service.New(context.Background(), cfg, service.Options{
		Clients:     map[string]providers.Client{"chatgpt": echoClient{}},
		DisableJobs: true,
	})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	srv := NewServer(svc, cfg.Server)
	t.Cleanup(func() {
		srv.Shutdown()
		svc.Close()
	})
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.App.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func queryBody(text string, qt models.QueryType) map[string]any {
	return map[string]any{
		"text":    text,
		"type":    qt,
		"context": map[string]any{"user_role": "physiotherapist", "tenant_id": "clinic-a"},
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv := setupServer(t, nil)

	status, body := do(t, srv, http.MethodPost, "/api/v1/query", queryBody("  dor no ombro ao elevar o braço ", models.QueryDiagnosisHelp))
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	var resp models.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Source != models.SourcePremium || resp.QueryID == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestQueryEndpointRejectsMalformedInput(t *testing.T) {
	srv := setupServer(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing text", queryBody("", models.QueryGeneralQuestion)},
		{"unknown type", queryBody("texto", "billing")},
		{"script", queryBody("<script>alert(1)</script>", models.QueryGeneralQuestion)},
		{"missing role", map[string]any{"text": "texto", "type": models.QueryGeneralQuestion, "context": map[string]any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, http.MethodPost, "/api/v1/query", tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, body = %s", status, body)
			}
		})
	}
}

func TestKnowledgeCRUD(t *testing.T) {
	srv := setupServer(t, nil)

	entry := map[string]any{
		"title":     "Tendinopatia patelar: excêntricos",
		"content":   strings.Repeat("Agachamento excêntrico em plano declinado para tendinopatia patelar. ", 10),
		"type":      models.EntryProtocol,
		"tenant_id": "clinic-a",
		"tags":      []string{"tendinopatia"},
	}
	status, body := do(t, srv, http.MethodPost, "/api/v1/knowledge", entry)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", status, body)
	}
	var created struct{ ID string }
	json.Unmarshal(body, &created)

	status, body = do(t, srv, http.MethodGet, "/api/v1/knowledge/"+created.ID, nil)
	if status != http.StatusOK || !strings.Contains(string(body), "Tendinopatia") {
		t.Fatalf("get status = %d, body = %s", status, body)
	}

	status, body = do(t, srv, http.MethodPost, "/api/v1/knowledge/search", map[string]any{"text": "tendinopatia patelar", "min_confidence": 0.1})
	if status != http.StatusOK || !strings.Contains(string(body), created.ID) {
		t.Fatalf("search status = %d, body = %s", status, body)
	}

	if status, body = do(t, srv, http.MethodPost, "/api/v1/knowledge", map[string]any{"title": "sem conteúdo"}); status != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, body = %s", status, body)
	}

	if status, _ = do(t, srv, http.MethodDelete, "/api/v1/knowledge/"+created.ID, nil); status != http.StatusNoContent {
		t.Errorf("delete status = %d", status)
	}
	if status, _ = do(t, srv, http.MethodGet, "/api/v1/knowledge/"+created.ID, nil); status != http.StatusNotFound {
		t.Errorf("get after delete status = %d", status)
	}
}

func TestImportDocument(t *testing.T) {
	srv := setupServer(t, nil)

	html := `<html><head><title>Protocolo de LCA</title></head><body>
		<p>Reabilitação após reconstrução do ligamento cruzado anterior.</p>
		<h2>Técnicas</h2><ul><li>Fortalecimento de quadríceps</li></ul></body></html>`
	status, body := do(t, srv, http.MethodPost, "/api/v1/knowledge/import", map[string]any{
		"source": "https://clinica.example/protocolos/lca", "html": html, "tenant_id": "clinic-a",
	})
	if status != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", status, body)
	}

	status, body = do(t, srv, http.MethodPost, "/api/v1/knowledge/import", map[string]any{"source": "x"})
	if status != http.StatusBadRequest {
		t.Errorf("missing html status = %d, body = %s", status, body)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	srv := setupServer(t, nil)
	do(t, srv, http.MethodPost, "/api/v1/query", queryBody("exercícios para fascite plantar", models.QueryExerciseRecommendation))

	status, body := do(t, srv, http.MethodGet, "/api/v1/analytics", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var snap models.AnalyticsSnapshot
	json.Unmarshal(body, &snap)
	if snap.Last24h.TotalQueries != 1 {
		t.Errorf("total queries = %d, want 1", snap.Last24h.TotalQueries)
	}

	if status, _ = do(t, srv, http.MethodGet, "/api/v1/analytics/report/week", nil); status != http.StatusOK {
		t.Errorf("week report status = %d", status)
	}
	if status, _ = do(t, srv, http.MethodGet, "/api/v1/analytics/report/decade", nil); status != http.StatusBadRequest {
		t.Errorf("unknown period status = %d", status)
	}
	if status, _ = do(t, srv, http.MethodGet, "/api/v1/analytics/economy", nil); status != http.StatusOK {
		t.Errorf("economy status = %d", status)
	}
	if status, _ = do(t, srv, http.MethodPost, "/api/v1/alerts/missing/resolve", nil); status != http.StatusNotFound {
		t.Errorf("resolve missing alert status = %d", status)
	}
}

func TestAdminEndpoints(t *testing.T) {
	srv := setupServer(t, nil)

	status, body := do(t, srv, http.MethodPost, "/api/v1/providers/test", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"chatgpt":true`) {
		t.Errorf("providers test = %d %s", status, body)
	}
	if status, _ = do(t, srv, http.MethodDelete, "/api/v1/cache", nil); status != http.StatusOK {
		t.Errorf("clear cache status = %d", status)
	}
	if status, _ = do(t, srv, http.MethodGet, "/ready", nil); status != http.StatusOK {
		t.Errorf("ready status = %d", status)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := srv.App.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" || resp.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("security headers missing: %v", resp.Header)
	}
}

func TestRateLimit(t *testing.T) {
	srv := setupServer(t, func(cfg *config.Config) { cfg.Server.RequestsPerMin = 2 })

	var last int
	for i := 0; i < 3; i++ {
		last, _ = do(t, srv, http.MethodGet, "/api/v1/knowledge/stats", nil)
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}
