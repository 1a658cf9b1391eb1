package models

import "time"

type QueryType string

const (
	QueryExerciseRecommendation QueryType = "exercise_recommendation"
	QueryDiagnosisHelp          QueryType = "diagnosis_help"
	QueryProtocolSuggestion     QueryType = "protocol_suggestion"
	QueryGeneralQuestion        QueryType = "general_question"
	QueryCaseAnalysis           QueryType = "case_analysis"
	QueryScheduling             QueryType = "scheduling"
)

// QueryTypes lists every query type the engine accepts.
var QueryTypes = []QueryType{
	QueryExerciseRecommendation,
	QueryDiagnosisHelp,
	QueryProtocolSuggestion,
	QueryGeneralQuestion,
	QueryCaseAnalysis,
	QueryScheduling,
}

func (t QueryType) Valid() bool {
	for _, known := range QueryTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// QueryContext is hashed into the cache key, so field order matters.
type QueryContext struct {
	UserRole           string   `json:"user_role"`
	Symptoms           []string `json:"symptoms,omitempty"`
	Diagnosis          string   `json:"diagnosis,omitempty"`
	PreviousTreatments []string `json:"previous_treatments,omitempty"`
	PatientID          string   `json:"patient_id,omitempty"`
	TenantID           string   `json:"tenant_id,omitempty"`
}

type Query struct {
	ID              string        `json:"id"`
	Text            string        `json:"text"`
	Type            QueryType     `json:"type"`
	Context         *QueryContext `json:"context"`
	Priority        Priority      `json:"priority"`
	MaxResponseTime time.Duration `json:"max_response_time"`
	CacheKey        string        `json:"cache_key"`
	CreatedAt       time.Time     `json:"created_at"`
}

type Source string

const (
	SourceInternal Source = "internal"
	SourceCache    Source = "cache"
	SourcePremium  Source = "premium"
	SourceFallback Source = "fallback"
)

type EvidenceLevel string

const (
	EvidenceHigh     EvidenceLevel = "high"
	EvidenceModerate EvidenceLevel = "moderate"
	EvidenceLow      EvidenceLevel = "low"
)

type ResponseMetadata struct {
	EvidenceLevel EvidenceLevel `json:"evidence_level,omitempty"`
	Reliability   float64       `json:"reliability"`
	Relevance     float64       `json:"relevance"`
	Source        Source        `json:"source"`
	EntryIDs      []string      `json:"entry_ids,omitempty"`
}

type Response struct {
	ID                string           `json:"id"`
	QueryID           string           `json:"query_id"`
	Content           string           `json:"content"`
	Confidence        float64          `json:"confidence"`
	Source            Source           `json:"source"`
	Provider          string           `json:"provider,omitempty"`
	References        []string         `json:"references,omitempty"`
	Suggestions       []string         `json:"suggestions,omitempty"`
	FollowUpQuestions []string         `json:"follow_up_questions,omitempty"`
	TokensUsed        int              `json:"tokens_used"`
	ResponseTime      time.Duration    `json:"response_time"`
	CreatedAt         time.Time        `json:"created_at"`
	Metadata          ResponseMetadata `json:"metadata"`
}

// Clone returns a deep copy so cached responses are never mutated by callers.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.References = append([]string(nil), r.References...)
	c.Suggestions = append([]string(nil), r.Suggestions...)
	c.FollowUpQuestions = append([]string(nil), r.FollowUpQuestions...)
	c.Metadata.EntryIDs = append([]string(nil), r.Metadata.EntryIDs...)
	return &c
}
