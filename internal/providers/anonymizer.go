package providers

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: CPF before RG before phone, since the shapes overlap.
var redactions = []redaction{
	{regexp.MustCompile(`[\w.+-]+@[\w-]+(\.[\w-]+)+`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`), "[CPF]"},
	{regexp.MustCompile(`\b\d{1,2}\.\d{3}\.\d{3}-[\dxX]\b`), "[RG]"},
	{regexp.MustCompile(`(\+?55\s?)?\(?\b\d{2}\)?[\s.-]?9?\d{4}[\s.-]?\d{4}\b`), "[TELEFONE]"},
	{regexp.MustCompile(`\b\d{11}\b`), "[DOCUMENTO]"},
}

// word matches letters, keeping hyphenated compounds as one token.
var word = regexp.MustCompile(`\p{L}+(?:-\p{L}+)*`)

// Anonymizer strips personal data from queries before they leave the process.
type Anonymizer struct {
	enabled bool
	names   map[string]bool
}

func NewAnonymizer(enabled bool, names []string) *Anonymizer {
	a := &Anonymizer{enabled: enabled, names: make(map[string]bool, len(names))}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			a.names[strings.ToLower(n)] = true
		}
	}
	return a
}

// Text redacts documents, emails and phones, plus known first names in any
// case. A hyphenated compound is redacted only when every part is a name.
func (a *Anonymizer) Text(s string) string {
	if !a.enabled || s == "" {
		return s
	}
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	if len(a.names) == 0 {
		return s
	}
	return word.ReplaceAllStringFunc(s, func(w string) string {
		for _, part := range strings.Split(strings.ToLower(w), "-") {
			if !a.names[part] {
				return w
			}
		}
		return "[NOME]"
	})
}

// Query returns an anonymized copy of q with a throwaway id. The patient id
// never leaves the process.
func (a *Anonymizer) Query(q *models.Query) *models.Query {
	out := *q
	if !a.enabled {
		return &out
	}

	out.ID = "anon-" + uuid.New().String()
	out.Text = a.Text(q.Text)
	if q.Context != nil {
		c := *q.Context
		c.PatientID = ""
		c.Symptoms = a.all(q.Context.Symptoms)
		c.Diagnosis = a.Text(q.Context.Diagnosis)
		c.PreviousTreatments = a.all(q.Context.PreviousTreatments)
		out.Context = &c
	}
	return &out
}

func (a *Anonymizer) all(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = a.Text(v)
	}
	return out
}
