package providers

import (
	"fmt"
	"strings"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

type Template int

const (
	TemplateClinical Template = iota
	// TemplateScheduling is the conversational prompt used for scheduling intent.
	TemplateScheduling
)

const clinicalSystemPrompt = `Você é um assistente clínico de fisioterapia que apoia fisioterapeutas de uma clínica.

Suas respostas devem:
1. Ser baseadas em evidências e indicar o nível de evidência quando possível
2. Listar contraindicações e sinais de alerta relevantes
3. Trazer orientações práticas e objetivas
4. Terminar com até três perguntas de acompanhamento, uma por linha, terminando em "?"

Nunca faça diagnóstico definitivo; recomende avaliação presencial quando necessário.`

const schedulingSystemPrompt = `Você é o assistente de agendamento de uma clínica de fisioterapia.
Responda de forma breve e cordial. Confirme o tipo de atendimento, o dia e o período desejados
e peça as informações que faltarem para concluir o agendamento. Não invente horários disponíveis.`

var focusByType = map[models.QueryType]string{
	models.QueryExerciseRecommendation: "Recomende exercícios com séries, repetições, progressão e cuidados.",
	models.QueryDiagnosisHelp:          "Liste hipóteses diagnósticas diferenciais e testes clínicos que ajudem a confirmá-las.",
	models.QueryProtocolSuggestion:     "Sugira um protocolo de tratamento em fases com objetivos e critérios de progressão.",
	models.QueryCaseAnalysis:           "Analise o caso, aponte fatores contribuintes e proponha um plano de tratamento.",
	models.QueryGeneralQuestion:        "Responda de forma objetiva e cite referências quando houver.",
}

// BuildPrompt turns an (already anonymized) query into a completion request.
func BuildPrompt(q *models.Query, tmpl Template) CompletionRequest {
	if tmpl == TemplateScheduling {
		return CompletionRequest{
			SystemPrompt: schedulingSystemPrompt,
			UserPrompt:   q.Text,
			Temperature:  0.5,
			MaxTokens:    400,
		}
	}

	var b strings.Builder
	if focus, ok := focusByType[q.Type]; ok {
		b.WriteString(focus)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Pergunta: %s\n", q.Text)
	if c := q.Context; c != nil {
		if c.UserRole != "" {
			fmt.Fprintf(&b, "Perfil do solicitante: %s\n", c.UserRole)
		}
		if len(c.Symptoms) > 0 {
			fmt.Fprintf(&b, "Sintomas: %s\n", strings.Join(c.Symptoms, ", "))
		}
		if c.Diagnosis != "" {
			fmt.Fprintf(&b, "Diagnóstico: %s\n", c.Diagnosis)
		}
		if len(c.PreviousTreatments) > 0 {
			fmt.Fprintf(&b, "Tratamentos anteriores: %s\n", strings.Join(c.PreviousTreatments, ", "))
		}
	}

	return CompletionRequest{
		SystemPrompt: clinicalSystemPrompt,
		UserPrompt:   b.String(),
	}
}

// followUps picks the trailing question lines of a completion.
func followUps(content string, limit int) []string {
	var questions []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if strings.HasSuffix(line, "?") && len([]rune(line)) > 10 {
			questions = append(questions, line)
		}
	}
	if len(questions) > limit {
		questions = questions[len(questions)-limit:]
	}
	return questions
}
