package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

type QueryHandler struct {
	svc *service.Service
}

func NewQueryHandler(svc *service.Service) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type queryRequest struct {
	Text              string               `json:"text"`
	Type              models.QueryType     `json:"type"`
	Context           *models.QueryContext `json:"context"`
	Priority          models.Priority      `json:"priority"`
	MaxResponseTimeMS int64                `json:"max_response_time_ms"`
}

// toQuery builds the engine query. Text cleaned by the validation middleware
// wins over the raw body.
func (h *QueryHandler) toQuery(c *fiber.Ctx, req queryRequest) *models.Query {
	text := req.Text
	if sanitized, ok := c.Locals("query_text").(string); ok {
		text = sanitized
	}
	return buildQuery(h.svc, text, req)
}

func buildQuery(svc *service.Service, text string, req queryRequest) *models.Query {
	q := svc.NewQuery(strings.TrimSpace(text), req.Type, req.Context)
	if req.Priority != "" {
		q.Priority = req.Priority
	}
	if req.MaxResponseTimeMS > 0 {
		q.MaxResponseTime = time.Duration(req.MaxResponseTimeMS) * time.Millisecond
	}
	return q
}

// HandleQuery resolves one query. Only malformed input is an error; every
// other outcome is a 200 with the answer's source and confidence.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.svc.Resolve(c.UserContext(), h.toQuery(c, req))
	if err != nil {
		return respondError(c, err, "Failed to process query")
	}
	return c.JSON(resp)
}

func (h *QueryHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID  string   `json:"query_id"`
		EntryIDs []string `json:"entry_ids"`
		Helpful  bool     `json:"helpful"`
		Rating   int      `json:"rating"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.svc.RecordFeedback(c.UserContext(), req.QueryID, req.EntryIDs, req.Helpful, req.Rating); err != nil {
		return respondError(c, err, "Failed to record feedback")
	}
	return c.JSON(fiber.Map{"message": "Feedback recorded"})
}
