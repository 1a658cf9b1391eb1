package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

const (
	maxSynthesizedEntries = 3
	maxSuggestions        = 5
)

// Synthesize merges the best knowledge base matches into one answer.
// Confidence is the mean confidence of the merged entries.
func Synthesize(q *models.Query, results []models.KnowledgeResult, now time.Time) *models.Response {
	if len(results) > maxSynthesizedEntries {
		results = results[:maxSynthesizedEntries]
	}

	var (
		b                 strings.Builder
		refs, suggestions []string
		contra            []string
		ids               []string
		confidence        float64
		relevance         float64
	)
	seenRef := make(map[string]bool)
	seenSuggestion := make(map[string]bool)
	seenContra := make(map[string]bool)

	for i, r := range results {
		e := r.Entry
		ids = append(ids, e.ID)
		confidence += e.Confidence
		relevance += r.Relevance

		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s\n%s", e.Title, entryBody(e))

		for _, ref := range e.References {
			if !seenRef[ref] {
				seenRef[ref] = true
				refs = append(refs, ref)
			}
		}
		for _, t := range e.Techniques {
			if !seenSuggestion[t] && len(suggestions) < maxSuggestions {
				seenSuggestion[t] = true
				suggestions = append(suggestions, t)
			}
		}
		for _, c := range e.Contraindications {
			if !seenContra[c] {
				seenContra[c] = true
				contra = append(contra, c)
			}
		}
	}
	if len(contra) > 0 {
		fmt.Fprintf(&b, "\n\nContraindicações: %s.", strings.Join(contra, "; "))
	}

	n := float64(len(results))
	confidence /= n
	return &models.Response{
		ID:          uuid.New().String(),
		QueryID:     q.ID,
		Content:     b.String(),
		Confidence:  confidence,
		Source:      models.SourceInternal,
		References:  refs,
		Suggestions: suggestions,
		CreatedAt:   now,
		Metadata: models.ResponseMetadata{
			EvidenceLevel: evidenceFor(confidence),
			Reliability:   confidence,
			Relevance:     relevance / n,
			Source:        models.SourceInternal,
			EntryIDs:      ids,
		},
	}
}

func entryBody(e *models.KnowledgeEntry) string {
	if s := strings.TrimSpace(e.Summary); s != "" {
		return s
	}
	const maxBody = 600
	body := strings.TrimSpace(e.Content)
	if r := []rune(body); len(r) > maxBody {
		body = strings.TrimSpace(string(r[:maxBody])) + "..."
	}
	return body
}

func evidenceFor(confidence float64) models.EvidenceLevel {
	switch {
	case confidence >= 0.85:
		return models.EvidenceHigh
	case confidence >= 0.7:
		return models.EvidenceModerate
	}
	return models.EvidenceLow
}

type fallbackTemplate struct {
	content     string
	confidence  float64
	suggestions []string
}

var fallbacks = map[models.QueryType]fallbackTemplate{
	models.QueryExerciseRecommendation: {
		content: "Não foi possível gerar uma recomendação específica agora. Como orientação geral, " +
			"priorize exercícios de baixa carga e progressão gradual, respeitando o limiar de dor do paciente.",
		confidence:  0.3,
		suggestions: []string{"Reavaliar o paciente antes de progredir a carga", "Registrar a resposta à dor após cada sessão"},
	},
	models.QueryDiagnosisHelp: {
		content: "Não há informação suficiente para apoiar um raciocínio diagnóstico. " +
			"Realize avaliação clínica completa e, se necessário, encaminhe para avaliação médica.",
		confidence:  0.1,
		suggestions: []string{"Aplicar testes ortopédicos específicos", "Investigar sinais de alerta (red flags)"},
	},
	models.QueryProtocolSuggestion: {
		content: "Nenhum protocolo correspondente foi encontrado. Consulte as diretrizes clínicas " +
			"atualizadas para a condição e adapte às metas funcionais do paciente.",
		confidence:  0.2,
		suggestions: []string{"Definir metas funcionais mensuráveis", "Revisar diretrizes clínicas recentes"},
	},
	models.QueryGeneralQuestion: {
		content:    "Não foi possível responder a esta pergunta no momento. Tente reformular ou consulte a literatura de referência.",
		confidence: 0.2,
	},
	models.QueryCaseAnalysis: {
		content: "A análise do caso não pôde ser concluída. Discuta o caso com a equipe " +
			"e reúna mais dados de avaliação antes de definir a conduta.",
		confidence:  0.15,
		suggestions: []string{"Discutir o caso em reunião clínica"},
	},
	models.QueryScheduling: {
		content:    "O assistente de agendamento está indisponível no momento. Entre em contato com a recepção da clínica.",
		confidence: 0.25,
	},
}

// Fallback is the canned answer used when no other stage produced one.
func Fallback(q *models.Query, now time.Time) *models.Response {
	tmpl, ok := fallbacks[q.Type]
	if !ok {
		tmpl = fallbacks[models.QueryGeneralQuestion]
	}
	return &models.Response{
		ID:          uuid.New().String(),
		QueryID:     q.ID,
		Content:     tmpl.content,
		Confidence:  tmpl.confidence,
		Source:      models.SourceFallback,
		Suggestions: append([]string(nil), tmpl.suggestions...),
		CreatedAt:   now,
		Metadata: models.ResponseMetadata{
			EvidenceLevel: models.EvidenceLow,
			Reliability:   tmpl.confidence,
			Source:        models.SourceFallback,
		},
	}
}
