package knowledge

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
)

const (
	weightDiagnosis = 1.2
	weightSymptom   = 0.8
	weightText      = 1.0
	weightTechnique = 1.0
	fuzzyFactor     = 0.5
	partialFactor   = 0.5
)

type IndexConfig struct {
	MinConfidence  float64
	MinRelevance   float64
	FuzzyEnabled   bool
	FuzzyThreshold float64
	MaxResults     int
}

// postings maps a normalized key to the ids of the entries carrying it.
type postings map[string]map[string]struct{}

func (p postings) add(key, id string) {
	ids, ok := p[key]
	if !ok {
		ids = make(map[string]struct{})
		p[key] = ids
	}
	ids[id] = struct{}{}
}

func (p postings) remove(key, id string) {
	ids, ok := p[key]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(p, key)
	}
}

type entryKeys struct {
	terms      []string
	conditions []string
	techniques []string
	symptoms   []string
}

// Index is the in-memory inverted index over knowledge entries. It owns
// copies of the entries and hands out copies.
type Index struct {
	cfg IndexConfig
	now func() time.Time

	mu         sync.RWMutex
	entries    map[string]*models.KnowledgeEntry
	seq        map[string]uint64
	nextSeq    uint64
	keys       map[string]entryKeys
	terms      postings
	conditions postings
	techniques postings
	symptoms   postings
}

func NewIndex(cfg IndexConfig) *Index {
	return &Index{
		cfg:        cfg,
		now:        time.Now,
		entries:    make(map[string]*models.KnowledgeEntry),
		seq:        make(map[string]uint64),
		keys:       make(map[string]entryKeys),
		terms:      make(postings),
		conditions: make(postings),
		techniques: make(postings),
		symptoms:   make(postings),
	}
}

func keysFor(e *models.KnowledgeEntry) entryKeys {
	text := strings.Join([]string{
		e.Title, e.Summary, e.Content,
		strings.Join(e.Tags, " "),
		strings.Join(e.Conditions, " "),
		strings.Join(e.Techniques, " "),
	}, " ")

	return entryKeys{
		terms:      Tokenize(text),
		conditions: normalizeAll(e.Conditions),
		techniques: normalizeAll(e.Techniques),
		symptoms:   normalizeAll(e.Tags),
	}
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := Normalize(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Put indexes entry, replacing any previous version. The old postings are
// removed before the new ones are inserted, under one lock.
func (ix *Index) Put(entry *models.KnowledgeEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.putLocked(entry)
}

// Insert runs persist and indexes entry only if no entry with its id exists
// and persist succeeds.
func (ix *Index) Insert(entry *models.KnowledgeEntry, persist func(*models.KnowledgeEntry) error) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.entries[entry.ID]; exists {
		return &apperr.ValidationError{Field: "id", Reason: "already exists"}
	}
	if err := persist(entry); err != nil {
		return err
	}
	ix.putLocked(entry)
	return nil
}

// Mutate applies fn to a copy of the entry and, when fn succeeds, reindexes
// the copy. fn runs under the index lock, so it may persist the result
// without racing other writers or the usage updates of Search.
func (ix *Index) Mutate(id string, fn func(*models.KnowledgeEntry) error) (*models.KnowledgeEntry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	current, ok := ix.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, apperr.ErrNotFound)
	}
	e := current.Clone()
	if err := fn(e); err != nil {
		return nil, err
	}
	e.ID = id
	ix.putLocked(e)
	return e.Clone(), nil
}

// WithEntry calls fn with a copy of the current entry under the index lock.
func (ix *Index) WithEntry(id string, fn func(*models.KnowledgeEntry) error) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	current, ok := ix.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, apperr.ErrNotFound)
	}
	return fn(current.Clone())
}

// Delete runs persist and drops the entry if persist succeeds.
func (ix *Index) Delete(id string, persist func(id string) error) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.entries[id]; !ok {
		return fmt.Errorf("entry %s: %w", id, apperr.ErrNotFound)
	}
	if err := persist(id); err != nil {
		return err
	}
	ix.removeLocked(id)
	delete(ix.seq, id)
	return nil
}

func (ix *Index) putLocked(entry *models.KnowledgeEntry) {
	ix.removeLocked(entry.ID)
	if _, ok := ix.seq[entry.ID]; !ok {
		ix.nextSeq++
		ix.seq[entry.ID] = ix.nextSeq
	}

	k := keysFor(entry)
	for _, t := range k.terms {
		ix.terms.add(t, entry.ID)
	}
	for _, c := range k.conditions {
		ix.conditions.add(c, entry.ID)
	}
	for _, t := range k.techniques {
		ix.techniques.add(t, entry.ID)
	}
	for _, s := range k.symptoms {
		ix.symptoms.add(s, entry.ID)
	}
	ix.keys[entry.ID] = k
	ix.entries[entry.ID] = entry.Clone()
}

// Remove drops the entry and reports whether it was indexed.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, ok := ix.entries[id]
	ix.removeLocked(id)
	delete(ix.seq, id)
	return ok
}

func (ix *Index) removeLocked(id string) {
	k, ok := ix.keys[id]
	if !ok {
		return
	}
	for _, t := range k.terms {
		ix.terms.remove(t, id)
	}
	for _, c := range k.conditions {
		ix.conditions.remove(c, id)
	}
	for _, t := range k.techniques {
		ix.techniques.remove(t, id)
	}
	for _, s := range k.symptoms {
		ix.symptoms.remove(s, id)
	}
	delete(ix.keys, id)
	delete(ix.entries, id)
}

func (ix *Index) Get(id string) (*models.KnowledgeEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Entries lists entries in insertion order, restricted to tenantID when set.
func (ix *Index) Entries(tenantID string) []*models.KnowledgeEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*models.KnowledgeEntry, 0, len(ix.entries))
	for _, e := range ix.entries {
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return ix.seq[out[i].ID] < ix.seq[out[j].ID] })
	return out
}

// Sizes returns the number of distinct keys in each inverted map.
func (ix *Index) Sizes() (terms, conditions, techniques, symptoms int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.terms), len(ix.conditions), len(ix.techniques), len(ix.symptoms)
}

// Verify checks that every posting points at an indexed entry and that every
// entry is reachable from its own keys.
func (ix *Index) Verify() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	maps := map[string]postings{
		"terms": ix.terms, "conditions": ix.conditions,
		"techniques": ix.techniques, "symptoms": ix.symptoms,
	}
	for name, p := range maps {
		for key, ids := range p {
			for id := range ids {
				if _, ok := ix.entries[id]; !ok {
					return &apperr.ConfigError{
						Check: fmt.Sprintf("%s posting %q references missing entry %s", name, key, id),
						Err:   apperr.ErrIndexCorruption,
					}
				}
			}
		}
	}
	for id := range ix.entries {
		k, ok := ix.keys[id]
		if !ok {
			return &apperr.ConfigError{Check: "entry " + id + " has no postings", Err: apperr.ErrIndexCorruption}
		}
		for _, t := range k.terms {
			if _, ok := ix.terms[t][id]; !ok {
				return &apperr.ConfigError{Check: fmt.Sprintf("term %q lost entry %s", t, id), Err: apperr.ErrIndexCorruption}
			}
		}
	}
	return nil
}

type candidate struct {
	entry     *models.KnowledgeEntry
	relevance float64
	matched   []string
}

// Search scores entries against params and returns those above the
// confidence floor, best first. Returned entries are marked as used.
func (ix *Index) Search(params models.SearchParams) []models.KnowledgeResult {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	now := ix.now()
	cands := make(map[string]*candidate)
	credit := func(id string, weight float64, key string) {
		c, ok := cands[id]
		if !ok {
			c = &candidate{entry: ix.entries[id]}
			cands[id] = c
		}
		c.relevance += weight
		c.matched = append(c.matched, key)
	}

	if tokens := Tokenize(params.Text); len(tokens) > 0 {
		ix.searchText(tokens, credit)
	}
	if len(params.Symptoms) > 0 {
		ix.searchKeyed(ix.symptoms, normalizeAll(params.Symptoms), weightSymptom, credit)
	}
	if d := Normalize(params.Diagnosis); d != "" {
		ix.searchDiagnosis(d, credit)
	}
	if t := Normalize(params.Technique); t != "" {
		ix.searchKeyed(ix.techniques, []string{t}, weightTechnique, credit)
	}

	floor := ix.cfg.MinConfidence
	if params.MinConfidence > 0 {
		floor = params.MinConfidence
	}

	results := make([]models.KnowledgeResult, 0, len(cands))
	for _, c := range cands {
		e := c.entry
		if e == nil || e.Confidence < floor || c.relevance < ix.cfg.MinRelevance {
			continue
		}
		if params.TenantID != "" && e.TenantID != params.TenantID {
			continue
		}
		if params.Type != "" && e.Type != params.Type {
			continue
		}
		results = append(results, models.KnowledgeResult{
			Entry:        e,
			Relevance:    c.relevance,
			Score:        c.relevance * e.Confidence * recencyBonus(e, now),
			MatchedTerms: dedupe(c.matched),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return ix.seq[results[i].Entry.ID] < ix.seq[results[j].Entry.ID]
	})

	limit := params.Limit
	if limit <= 0 {
		limit = ix.cfg.MaxResults
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	for i := range results {
		stored := results[i].Entry
		stored.UsageCount++
		stored.LastUsed = now
		results[i].Entry = stored.Clone()
	}
	return results
}

// searchText credits each query token once per entry: full weight for an
// exact term, half weight for a fuzzy one. Credits are averaged over tokens.
// When the query has a specific token, entries matching only generic ones
// ("dor", "exercicio") get no text credit.
func (ix *Index) searchText(tokens []string, credit func(string, float64, string)) {
	type textHit struct {
		keys     []string
		weights  []float64
		specific bool
	}
	per := weightText / float64(len(tokens))
	needSpecific := false
	hits := make(map[string]*textHit)
	add := func(id string, w float64, key, tok string) {
		h, ok := hits[id]
		if !ok {
			h = &textHit{}
			hits[id] = h
		}
		h.keys = append(h.keys, key)
		h.weights = append(h.weights, w)
		if !IsGeneric(tok) {
			h.specific = true
		}
	}

	for _, tok := range tokens {
		if !IsGeneric(tok) {
			needSpecific = true
		}
		seen := make(map[string]bool)
		for id := range ix.terms[tok] {
			seen[id] = true
			add(id, per, tok, tok)
		}
		if !ix.cfg.FuzzyEnabled {
			continue
		}
		for term, ids := range ix.terms {
			if term == tok || similarity(term, tok) < ix.cfg.FuzzyThreshold {
				continue
			}
			for id := range ids {
				if seen[id] {
					continue
				}
				seen[id] = true
				add(id, per*fuzzyFactor, term, tok)
			}
		}
	}

	for id, h := range hits {
		if needSpecific && !h.specific {
			continue
		}
		for i, key := range h.keys {
			credit(id, h.weights[i], key)
		}
	}
}

// searchKeyed matches whole normalized keys, with half credit when one key
// contains the other ("lombalgia" against "lombalgia cronica").
func (ix *Index) searchKeyed(p postings, wanted []string, weight float64, credit func(string, float64, string)) {
	if len(wanted) == 0 {
		return
	}
	per := weight / float64(len(wanted))
	for _, w := range wanted {
		hit := make(map[string]bool)
		for id := range p[w] {
			hit[id] = true
			credit(id, per, w)
		}
		for key, ids := range p {
			if key == w || !(strings.Contains(key, w) || strings.Contains(w, key)) {
				continue
			}
			for id := range ids {
				if hit[id] {
					continue
				}
				hit[id] = true
				credit(id, per*partialFactor, key)
			}
		}
	}
}

// searchDiagnosis credits the best overlap between the diagnosis and each
// indexed condition.
func (ix *Index) searchDiagnosis(diagnosis string, credit func(string, float64, string)) {
	best := make(map[string]float64)
	bestKey := make(map[string]string)
	for id := range ix.conditions[diagnosis] {
		best[id] = 1
		bestKey[id] = diagnosis
	}

	want := Tokenize(diagnosis)
	if len(want) > 0 {
		for key, ids := range ix.conditions {
			if key == diagnosis {
				continue
			}
			overlap := tokenOverlap(want, Tokenize(key))
			if overlap == 0 {
				continue
			}
			for id := range ids {
				if overlap > best[id] {
					best[id] = overlap
					bestKey[id] = key
				}
			}
		}
	}

	for id, v := range best {
		credit(id, weightDiagnosis*v, bestKey[id])
	}
}

func tokenOverlap(want, have []string) float64 {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	n := 0
	for _, w := range want {
		if _, ok := set[w]; ok {
			n++
		}
	}
	return float64(n) / float64(len(want))
}

// similarity is one minus the edit distance normalized by the longer word.
func similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func recencyBonus(e *models.KnowledgeEntry, now time.Time) float64 {
	ref := e.LastUsed
	if ref.IsZero() {
		ref = e.CreatedAt
	}
	age := now.Sub(ref)
	switch {
	case age <= 7*24*time.Hour:
		return 1.25
	case age <= 30*24*time.Hour:
		return 1.1
	case age <= 90*24*time.Hour:
		return 1.0
	default:
		return 0.9
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
