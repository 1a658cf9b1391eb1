package ingestion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/knowledge"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/hashutil"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

var whitespace = regexp.MustCompile(`\s+`)

// KnowledgeBase is the part of the knowledge service the importer writes to.
type KnowledgeBase interface {
	Get(id string) (*models.KnowledgeEntry, error)
	Add(ctx context.Context, entry *models.KnowledgeEntry) (string, error)
	Update(ctx context.Context, entry *models.KnowledgeEntry) error
}

type Options struct {
	TenantID string
	Type     models.EntryType
	Author   models.Author
	Tags     []string
}

// Processor turns clinic-editor HTML documents into knowledge entries.
type Processor struct {
	kb         KnowledgeBase
	maxContent int
}

func NewProcessor(kb KnowledgeBase) *Processor {
	return &Processor{
		kb:         kb,
		maxContent: 20000,
	}
}

// ProcessDocument imports one document. Re-importing the same source
// updates the entry created the first time.
func (p *Processor) ProcessDocument(ctx context.Context, source, htmlContent string, opts Options) (string, error) {
	logger.Info("Processing document", zap.String("source", source))

	entry, err := p.Parse(source, htmlContent, opts)
	if err != nil {
		return "", err
	}

	if _, err := p.kb.Get(entry.ID); err == nil {
		if err := p.kb.Update(ctx, entry); err != nil {
			return "", fmt.Errorf("failed to update imported entry: %w", err)
		}
		logger.Info("Document re-imported", zap.String("entry_id", entry.ID))
		return entry.ID, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}

	id, err := p.kb.Add(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("failed to add imported entry: %w", err)
	}

	logger.Info("Document processed successfully",
		zap.String("entry_id", id),
		zap.String("title", entry.Title),
		zap.Int("conditions", len(entry.Conditions)),
		zap.Int("references", len(entry.References)),
	)
	return id, nil
}

// Parse extracts an entry from HTML without storing it.
func (p *Processor) Parse(source, htmlContent string, opts Options) (*models.KnowledgeEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	entry := &models.KnowledgeEntry{
		ID:       generateID(source),
		Title:    extractTitle(doc),
		TenantID: opts.TenantID,
		Author:   opts.Author,
		Type:     opts.Type,
	}

	entry.Summary = clean(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if entry.Summary == "" {
		entry.Summary = clean(doc.Find("p").First().Text())
	}

	entry.Tags = append(entry.Tags, opts.Tags...)
	for _, kw := range strings.Split(doc.Find(`meta[name="keywords"]`).AttrOr("content", ""), ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			entry.Tags = append(entry.Tags, kw)
		}
	}

	doc.Find("h2, h3").Each(func(i int, s *goquery.Selection) {
		heading := knowledge.Normalize(s.Text())
		items := listItems(s.NextUntil("h1, h2, h3"))
		switch {
		case strings.Contains(heading, "contraindica"):
			entry.Contraindications = append(entry.Contraindications, items...)
		case strings.Contains(heading, "indica") || strings.Contains(heading, "condic"):
			entry.Conditions = append(entry.Conditions, items...)
		case strings.Contains(heading, "tecnica"):
			entry.Techniques = append(entry.Techniques, items...)
		case strings.Contains(heading, "referencia"):
			entry.References = append(entry.References, items...)
		}
	})

	doc.Find(`a[href^="http"]`).Each(func(i int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && !contains(entry.References, href) {
			entry.References = append(entry.References, href)
		}
	})

	if entry.Type == "" {
		entry.Type = detectEntryType(entry.Title + " " + source)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	entry.Content = clean(doc.Find("body").Text())
	if entry.Content == "" {
		return nil, fmt.Errorf("no content extracted from HTML")
	}
	if runes := []rune(entry.Content); len(runes) > p.maxContent {
		entry.Content = string(runes[:p.maxContent])
	}

	return entry, nil
}

func extractTitle(doc *goquery.Document) string {
	title := clean(doc.Find("title").First().Text())
	if title == "" {
		title = clean(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Sem título"
	}
	return title
}

func listItems(sel *goquery.Selection) []string {
	var items []string
	sel.Find("li").Each(func(i int, li *goquery.Selection) {
		if text := clean(li.Text()); text != "" {
			items = append(items, text)
		}
	})
	return items
}

func detectEntryType(text string) models.EntryType {
	t := knowledge.Normalize(text)
	switch {
	case strings.Contains(t, "protocolo"):
		return models.EntryProtocol
	case strings.Contains(t, "exercicio"):
		return models.EntryExercise
	case strings.Contains(t, "caso"):
		return models.EntryCase
	case strings.Contains(t, "tecnica"):
		return models.EntryTechnique
	}
	return models.EntryExperience
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func generateID(source string) string {
	if source == "" {
		return ""
	}
	return "doc-" + hashutil.HashString(source)
}
