package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
)

// AdminHandler covers the cache, the providers and the health checks.
type AdminHandler struct {
	svc *service.Service
}

func NewAdminHandler(svc *service.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func (h *AdminHandler) ClearCache(c *fiber.Ctx) error {
	if err := h.svc.ClearCache(c.UserContext()); err != nil {
		return respondError(c, err, "Failed to clear cache")
	}
	return c.JSON(fiber.Map{"message": "Cache cleared"})
}

func (h *AdminHandler) CacheStats(c *fiber.Ctx) error {
	return c.JSON(h.svc.CacheStats(c.UserContext()))
}

func (h *AdminHandler) Providers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"providers": h.svc.GetProviderStats()})
}

func (h *AdminHandler) TestProviders(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"results": h.svc.TestAllProviders(c.UserContext())})
}

func (h *AdminHandler) Health(c *fiber.Ctx) error {
	return c.JSON(h.svc.Health())
}

func (h *AdminHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := h.svc.Ready(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
