package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

type KnowledgeHandler struct {
	svc *service.Service
}

func NewKnowledgeHandler(svc *service.Service) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

func (h *KnowledgeHandler) Create(c *fiber.Ctx) error {
	var entry models.KnowledgeEntry
	if err := c.BodyParser(&entry); err != nil {
		return badRequest(c, "Invalid request body")
	}

	id, err := h.svc.AddKnowledge(c.UserContext(), &entry)
	if err != nil {
		return respondError(c, err, "Failed to add knowledge entry")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *KnowledgeHandler) Update(c *fiber.Ctx) error {
	var entry models.KnowledgeEntry
	if err := c.BodyParser(&entry); err != nil {
		return badRequest(c, "Invalid request body")
	}
	entry.ID = c.Params("id")

	if err := h.svc.UpdateEntry(c.UserContext(), &entry); err != nil {
		return respondError(c, err, "Failed to update knowledge entry")
	}
	updated, err := h.svc.GetEntry(entry.ID)
	if err != nil {
		return respondError(c, err, "Failed to read knowledge entry")
	}
	return c.JSON(updated)
}

func (h *KnowledgeHandler) Delete(c *fiber.Ctx) error {
	if err := h.svc.DeleteEntry(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err, "Failed to delete knowledge entry")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *KnowledgeHandler) Get(c *fiber.Ctx) error {
	entry, err := h.svc.GetEntry(c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to read knowledge entry")
	}
	return c.JSON(entry)
}

// List accepts an optional tenant_id query parameter.
func (h *KnowledgeHandler) List(c *fiber.Ctx) error {
	entries := h.svc.ListEntries(c.Query("tenant_id"))
	return c.JSON(fiber.Map{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *KnowledgeHandler) Search(c *fiber.Ctx) error {
	var params models.SearchParams
	if err := c.BodyParser(&params); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if params.Text == "" && len(params.Symptoms) == 0 && params.Diagnosis == "" && params.Technique == "" {
		return badRequest(c, "one of text, symptoms, diagnosis or technique is required")
	}

	results, err := h.svc.Search(c.UserContext(), params)
	if err != nil {
		return respondError(c, err, "Failed to search knowledge base")
	}
	return c.JSON(fiber.Map{
		"results": results,
		"total":   len(results),
	})
}

func (h *KnowledgeHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.svc.GetStatistics())
}
