package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
)

type AnalyticsHandler struct {
	svc *service.Service
}

func NewAnalyticsHandler(svc *service.Service) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

func (h *AnalyticsHandler) Current(c *fiber.Ctx) error {
	return c.JSON(h.svc.GetCurrentAnalytics())
}

func (h *AnalyticsHandler) Report(c *fiber.Ctx) error {
	report, err := h.svc.GetDetailedReport(c.UserContext(), c.Params("period"))
	if err != nil {
		return respondError(c, err, "Failed to build report")
	}
	return c.JSON(report)
}

func (h *AnalyticsHandler) Economy(c *fiber.Ctx) error {
	return c.JSON(h.svc.GetEconomyReport())
}

// Alerts lists open alerts, or every alert with ?all=true.
func (h *AnalyticsHandler) Alerts(c *fiber.Ctx) error {
	alerts := h.svc.GetAlerts(!c.QueryBool("all", false))
	return c.JSON(fiber.Map{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

func (h *AnalyticsHandler) ResolveAlert(c *fiber.Ctx) error {
	if err := h.svc.ResolveAlert(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err, "Failed to resolve alert")
	}
	return c.JSON(fiber.Map{"message": "Alert resolved"})
}
