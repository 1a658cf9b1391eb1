package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/metrics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

const (
	MinConfidence      = 0.1
	MaxConfidence      = 1.0
	FeedbackStep       = 0.05
	mostUsedListLength = 5
)

// Store persists entries as documents keyed by id.
type Store interface {
	SaveEntry(ctx context.Context, entry *models.KnowledgeEntry) error
	DeleteEntry(ctx context.Context, id string) error
	LoadEntries(ctx context.Context, tenantID string) ([]*models.KnowledgeEntry, error)
}

// Service keeps the store and the index in step. Reads go to the index only.
type Service struct {
	store  Store
	index  *Index
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, cfg IndexConfig) *Service {
	return &Service{
		store:  store,
		index:  NewIndex(cfg),
		logger: logger.Named("knowledge"),
		now:    time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.index.now = now
}

// Load rebuilds the index from the store. Malformed or duplicated documents
// are reported as index corruption.
func (s *Service) Load(ctx context.Context) error {
	entries, err := s.store.LoadEntries(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return &apperr.ConfigError{Check: "stored entry without id", Err: apperr.ErrIndexCorruption}
		}
		if seen[e.ID] {
			return &apperr.ConfigError{Check: "duplicate entry " + e.ID, Err: apperr.ErrIndexCorruption}
		}
		if e.Confidence < MinConfidence || e.Confidence > MaxConfidence {
			return &apperr.ConfigError{
				Check: fmt.Sprintf("entry %s confidence %.2f out of range", e.ID, e.Confidence),
				Err:   apperr.ErrIndexCorruption,
			}
		}
		seen[e.ID] = true
		s.index.Put(e)
	}

	if err := s.index.Verify(); err != nil {
		return err
	}

	metrics.KnowledgeEntries.Set(float64(s.index.Len()))
	s.logger.Info("Knowledge base loaded", zap.Int("entries", len(entries)))
	return nil
}

func validateEntry(e *models.KnowledgeEntry) error {
	switch {
	case e == nil:
		return &apperr.ValidationError{Field: "entry"}
	case strings.TrimSpace(e.Title) == "":
		return &apperr.ValidationError{Field: "title"}
	case strings.TrimSpace(e.Content) == "":
		return &apperr.ValidationError{Field: "content"}
	case e.TenantID == "":
		return &apperr.ValidationError{Field: "tenantId"}
	case !e.Type.Valid():
		return &apperr.ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a known entry type", e.Type)}
	}
	return nil
}

// Add stores a new entry with a seeded confidence and returns its id.
func (s *Service) Add(ctx context.Context, entry *models.KnowledgeEntry) (string, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}

	e := entry.Clone()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.LastUsed = time.Time{}
	e.UsageCount = 0
	e.FeedbackCount = 0
	e.SuccessRate = 0
	e.Confidence = SeedConfidence(e)

	err := s.index.Insert(e, func(e *models.KnowledgeEntry) error {
		if err := s.store.SaveEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to add entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	metrics.KnowledgeEntries.Set(float64(s.index.Len()))

	s.logger.Info("Knowledge entry added",
		zap.String("entry_id", e.ID),
		zap.String("tenant_id", e.TenantID),
		zap.Float64("confidence", e.Confidence),
	)
	return e.ID, nil
}

// Update replaces the editable fields of an existing entry. Usage history
// and creation time are kept.
func (s *Service) Update(ctx context.Context, entry *models.KnowledgeEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	_, err := s.index.Mutate(entry.ID, func(current *models.KnowledgeEntry) error {
		e := entry.Clone()
		e.CreatedAt = current.CreatedAt
		e.UpdatedAt = s.now()
		e.UsageCount = current.UsageCount
		e.LastUsed = current.LastUsed
		e.FeedbackCount = current.FeedbackCount
		e.SuccessRate = current.SuccessRate
		if e.Confidence <= 0 {
			e.Confidence = current.Confidence
		}
		e.Confidence = clampConfidence(e.Confidence)

		if err := s.store.SaveEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}
		*current = *e
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Knowledge entry updated", zap.String("entry_id", entry.ID))
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.index.Delete(id, func(id string) error {
		if err := s.store.DeleteEntry(ctx, id); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.KnowledgeEntries.Set(float64(s.index.Len()))

	s.logger.Info("Knowledge entry deleted", zap.String("entry_id", id))
	return nil
}

func (s *Service) Get(id string) (*models.KnowledgeEntry, error) {
	e, ok := s.index.Get(id)
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

// List returns the entries of tenantID, or all entries when it is empty.
func (s *Service) List(tenantID string) []*models.KnowledgeEntry {
	return s.index.Entries(tenantID)
}

// Search queries the index and persists the usage counters it bumped.
func (s *Service) Search(ctx context.Context, params models.SearchParams) ([]models.KnowledgeResult, error) {
	results := s.index.Search(params)
	for _, r := range results {
		err := s.index.WithEntry(r.Entry.ID, func(e *models.KnowledgeEntry) error {
			return s.store.SaveEntry(ctx, e)
		})
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("Failed to persist entry usage", zap.String("entry_id", r.Entry.ID), zap.Error(err))
		}
	}

	s.logger.Debug("Knowledge search",
		zap.String("text", params.Text),
		zap.Strings("symptoms", params.Symptoms),
		zap.String("diagnosis", params.Diagnosis),
		zap.Int("results", len(results)),
	)
	return results, nil
}

func (s *Service) FindBySymptom(ctx context.Context, symptom, tenantID string) ([]models.KnowledgeResult, error) {
	return s.Search(ctx, models.SearchParams{Symptoms: []string{symptom}, TenantID: tenantID})
}

func (s *Service) FindByDiagnosis(ctx context.Context, diagnosis, tenantID string) ([]models.KnowledgeResult, error) {
	return s.Search(ctx, models.SearchParams{Diagnosis: diagnosis, TenantID: tenantID})
}

func (s *Service) FindByTechnique(ctx context.Context, technique, tenantID string) ([]models.KnowledgeResult, error) {
	return s.Search(ctx, models.SearchParams{Technique: technique, TenantID: tenantID})
}

// RecordFeedback moves an entry's confidence by one step and folds the
// outcome into its success rate.
func (s *Service) RecordFeedback(ctx context.Context, entryID string, helpful bool) (*models.KnowledgeEntry, error) {
	e, err := s.index.Mutate(entryID, func(e *models.KnowledgeEntry) error {
		e.Confidence = AdjustConfidence(e.Confidence, helpful)
		outcome := 0.0
		if helpful {
			outcome = 1
		}
		e.SuccessRate = (e.SuccessRate*float64(e.FeedbackCount) + outcome) / float64(e.FeedbackCount+1)
		e.FeedbackCount++
		e.UpdatedAt = s.now()

		if err := s.store.SaveEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to record feedback: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Entry feedback recorded",
		zap.String("entry_id", entryID),
		zap.Bool("helpful", helpful),
		zap.Float64("confidence", e.Confidence),
	)
	return e, nil
}

func (s *Service) Statistics() models.KnowledgeStatistics {
	entries := s.index.Entries("")
	stats := models.KnowledgeStatistics{
		TotalEntries: len(entries),
		ByType:       make(map[models.EntryType]int),
		ByTenant:     make(map[string]int),
	}
	stats.IndexedTerms, stats.IndexedConditions, stats.IndexedTechniques, stats.IndexedSymptoms = s.index.Sizes()

	var confidence float64
	for _, e := range entries {
		stats.ByType[e.Type]++
		stats.ByTenant[e.TenantID]++
		stats.TotalUsage += e.UsageCount
		confidence += e.Confidence
	}
	if len(entries) > 0 {
		stats.AverageConfidence = confidence / float64(len(entries))
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].UsageCount > entries[j].UsageCount })
	for _, e := range entries {
		if len(stats.MostUsed) == mostUsedListLength || e.UsageCount == 0 {
			break
		}
		stats.MostUsed = append(stats.MostUsed, e)
	}
	return stats
}

// SeedConfidence estimates the trust of a new entry from its author's
// experience, its references, its length and its tags.
func SeedConfidence(e *models.KnowledgeEntry) float64 {
	c := 0.5
	c += math.Min(float64(e.Author.Experience), 20) / 20 * 0.2
	c += math.Min(float64(len(e.References)), 5) * 0.04
	switch n := len([]rune(e.Content)); {
	case n >= 1000:
		c += 0.1
	case n >= 300:
		c += 0.05
	}
	c += math.Min(float64(len(e.Tags)), 5) * 0.02
	return clampConfidence(c)
}

// AdjustConfidence applies one feedback step and keeps the result in bounds.
func AdjustConfidence(c float64, helpful bool) float64 {
	if helpful {
		return clampConfidence(c + FeedbackStep)
	}
	return clampConfidence(c - FeedbackStep)
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return MinConfidence
	}
	return math.Max(MinConfidence, math.Min(MaxConfidence, c))
}
