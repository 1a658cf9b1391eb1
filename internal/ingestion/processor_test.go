package ingestion

import (
	"context"
	"strings"
	"testing"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/knowledge"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

const protocolHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Protocolo de reabilitação do LCA</title>
  <meta name="description" content="Fases da reabilitação pós-operatória do ligamento cruzado anterior.">
  <meta name="keywords" content="joelho, LCA, pós-operatório">
  <script>var tracking = true;</script>
</head>
<body>
  <nav>Menu da clínica</nav>
  <h1>Reabilitação do LCA</h1>
  <p>Controle de edema e ganho de amplitude nas primeiras semanas.</p>
  <h2>Indicações</h2>
  <ul><li>Reconstrução do LCA</li><li>Instabilidade do joelho</li></ul>
  <h2>Técnicas</h2>
  <ul><li>Cinesioterapia</li><li>Eletroestimulação</li></ul>
  <h2>Contraindicações</h2>
  <ul><li>Infecção ativa</li></ul>
  <h3>Referências</h3>
  <ul><li>JOSPT 2022</li></ul>
  <p>Ver <a href="https://pubmed.ncbi.nlm.nih.gov/000000">estudo</a>.</p>
  <footer>Rodapé</footer>
</body>
</html>`

type memStore struct {
	entries map[string]*models.KnowledgeEntry
}

func (s *memStore) SaveEntry(_ context.Context, e *models.KnowledgeEntry) error {
	s.entries[e.ID] = e.Clone()
	return nil
}

func (s *memStore) DeleteEntry(_ context.Context, id string) error {
	delete(s.entries, id)
	return nil
}

func (s *memStore) LoadEntries(_ context.Context, _ string) ([]*models.KnowledgeEntry, error) {
	return nil, nil
}

func TestParseExtractsSections(t *testing.T) {
	p := NewProcessor(nil)
	e, err := p.Parse("https://intranet/protocolos/lca", protocolHTML, Options{TenantID: "clinic-a"})
	if err != nil {
		t.Fatal(err)
	}

	if e.Title != "Protocolo de reabilitação do LCA" {
		t.Errorf("title = %q", e.Title)
	}
	if e.Type != models.EntryProtocol {
		t.Errorf("type = %q", e.Type)
	}
	if e.Summary == "" || len(e.Tags) != 3 {
		t.Errorf("summary/tags not extracted: %q %v", e.Summary, e.Tags)
	}
	if len(e.Conditions) != 2 || e.Conditions[0] != "Reconstrução do LCA" {
		t.Errorf("conditions = %v", e.Conditions)
	}
	if len(e.Techniques) != 2 || len(e.Contraindications) != 1 {
		t.Errorf("techniques = %v contraindications = %v", e.Techniques, e.Contraindications)
	}
	if len(e.References) != 2 {
		t.Errorf("references = %v", e.References)
	}
	for _, unwanted := range []string{"tracking", "Menu da clínica", "Rodapé"} {
		if strings.Contains(e.Content, unwanted) {
			t.Errorf("content still contains %q", unwanted)
		}
	}
	if e.ID == "" {
		t.Error("expected an id derived from the source")
	}
}

func TestProcessDocumentAddsThenUpdates(t *testing.T) {
	store := &memStore{entries: make(map[string]*models.KnowledgeEntry)}
	kb := knowledge.NewService(store, knowledge.IndexConfig{MinConfidence: 0.5, MinRelevance: 0.1})
	p := NewProcessor(kb)
	ctx := context.Background()

	id, err := p.ProcessDocument(ctx, "lca.html", protocolHTML, Options{TenantID: "clinic-a"})
	if err != nil {
		t.Fatal(err)
	}
	again, err := p.ProcessDocument(ctx, "lca.html", protocolHTML, Options{TenantID: "clinic-a"})
	if err != nil {
		t.Fatal(err)
	}
	if id != again || len(store.entries) != 1 {
		t.Fatalf("re-import should update the same entry: %s vs %s, %d stored", id, again, len(store.entries))
	}

	results, _ := kb.FindByDiagnosis(ctx, "instabilidade do joelho", "clinic-a")
	if len(results) != 1 {
		t.Fatalf("imported entry not searchable: %+v", results)
	}
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	if _, err := NewProcessor(nil).Parse("x", "<html><body><script>x()</script></body></html>", Options{}); err == nil {
		t.Fatal("expected an error for a document without text")
	}
}
