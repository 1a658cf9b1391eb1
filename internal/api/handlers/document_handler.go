package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/ingestion"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

type DocumentHandler struct {
	svc *service.Service
}

func NewDocumentHandler(svc *service.Service) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// ImportDocument stores an HTML document from the clinic editor as a
// knowledge entry. Re-importing the same source updates that entry.
func (h *DocumentHandler) ImportDocument(c *fiber.Ctx) error {
	var req struct {
		Source   string           `json:"source"`
		HTML     string           `json:"html"`
		TenantID string           `json:"tenant_id"`
		Type     models.EntryType `json:"type"`
		Author   models.Author    `json:"author"`
		Tags     []string         `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Source == "" || req.HTML == "" {
		return badRequest(c, "source and html are required")
	}

	id, err := h.svc.ImportDocument(c.UserContext(), req.Source, req.HTML, ingestion.Options{
		TenantID: req.TenantID,
		Type:     req.Type,
		Author:   req.Author,
		Tags:     req.Tags,
	})
	if err != nil {
		return respondError(c, err, "Failed to process document")
	}

	logger.Info("Document imported", zap.String("source", req.Source), zap.String("entry_id", id))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     id,
		"source": req.Source,
	})
}
