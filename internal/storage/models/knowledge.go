package models

import "time"

type EntryType string

const (
	EntryProtocol   EntryType = "protocol"
	EntryExercise   EntryType = "exercise"
	EntryCase       EntryType = "case"
	EntryTechnique  EntryType = "technique"
	EntryExperience EntryType = "experience"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryProtocol, EntryExercise, EntryCase, EntryTechnique, EntryExperience:
		return true
	}
	return false
}

type Author struct {
	Name string `json:"name"`
	// Experience is measured in years of clinical practice.
	Experience int `json:"experience"`
}

type KnowledgeEntry struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	Summary           string    `json:"summary,omitempty"`
	Type              EntryType `json:"type"`
	Tags              []string  `json:"tags"`
	Conditions        []string  `json:"conditions"`
	Techniques        []string  `json:"techniques"`
	Contraindications []string  `json:"contraindications"`
	References        []string  `json:"references"`
	Author            Author    `json:"author"`
	TenantID          string    `json:"tenant_id"`
	Confidence        float64   `json:"confidence"`
	UsageCount        int       `json:"usage_count"`
	SuccessRate       float64   `json:"success_rate"`
	FeedbackCount     int       `json:"feedback_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	LastUsed          time.Time `json:"last_used"`
}

func (e *KnowledgeEntry) Clone() *KnowledgeEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Conditions = append([]string(nil), e.Conditions...)
	c.Techniques = append([]string(nil), e.Techniques...)
	c.Contraindications = append([]string(nil), e.Contraindications...)
	c.References = append([]string(nil), e.References...)
	return &c
}

type SearchParams struct {
	Text      string    `json:"text,omitempty"`
	Symptoms  []string  `json:"symptoms,omitempty"`
	Diagnosis string    `json:"diagnosis,omitempty"`
	Technique string    `json:"technique,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Type      EntryType `json:"type,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	// MinConfidence overrides the configured floor when positive.
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

type KnowledgeResult struct {
	Entry        *KnowledgeEntry `json:"entry"`
	Relevance    float64         `json:"relevance"`
	Score        float64         `json:"score"`
	MatchedTerms []string        `json:"matched_terms,omitempty"`
}

type KnowledgeStatistics struct {
	TotalEntries      int               `json:"total_entries"`
	ByType            map[EntryType]int `json:"by_type"`
	ByTenant          map[string]int    `json:"by_tenant"`
	AverageConfidence float64           `json:"average_confidence"`
	TotalUsage        int               `json:"total_usage"`
	IndexedTerms      int               `json:"indexed_terms"`
	IndexedConditions int               `json:"indexed_conditions"`
	IndexedTechniques int               `json:"indexed_techniques"`
	IndexedSymptoms   int               `json:"indexed_symptoms"`
	MostUsed          []*KnowledgeEntry `json:"most_used"`
}
