package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/api/handlers"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/metrics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/middleware/ratelimit"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/middleware/security"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/middleware/validation"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

// Server is the fiber app plus the pieces that need stopping with it.
type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func (s *Server) Shutdown() error {
	s.limiter.Stop()
	return s.App.Shutdown()
}

// NewServer mounts every public operation of svc under /api/v1, plus the
// health checks, /metrics and the /ws/query stream.
func NewServer(svc *service.Service, cfg config.ServerConfig) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "fisioflow-ai",
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
	})

	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RequestsPerMin,
		Logger:               logger.Named("ratelimit"),
	})

	admin := handlers.NewAdminHandler(svc)
	app.Get("/health", admin.Health)
	app.Get("/ready", admin.Ready)
	app.Get("/metrics", metrics.MetricsHandler())

	ws := handlers.NewWebSocketHandler(svc)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(ws.HandleConnection))

	v1 := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{
			MaxQueryLength:  cfg.MaxQueryLength,
			MaxDocumentSize: cfg.BodyLimit,
			Logger:          logger.Named("validation"),
		}),
	)

	query := handlers.NewQueryHandler(svc)
	v1.Post("/query", query.HandleQuery)
	v1.Post("/feedback", query.HandleFeedback)

	kb := handlers.NewKnowledgeHandler(svc)
	docs := handlers.NewDocumentHandler(svc)
	v1.Get("/knowledge", kb.List)
	v1.Post("/knowledge", kb.Create)
	v1.Post("/knowledge/search", kb.Search)
	v1.Post("/knowledge/import", docs.ImportDocument)
	v1.Get("/knowledge/stats", kb.Stats)
	v1.Get("/knowledge/:id", kb.Get)
	v1.Put("/knowledge/:id", kb.Update)
	v1.Delete("/knowledge/:id", kb.Delete)

	an := handlers.NewAnalyticsHandler(svc)
	v1.Get("/analytics", an.Current)
	v1.Get("/analytics/economy", an.Economy)
	v1.Get("/analytics/report/:period", an.Report)
	v1.Get("/alerts", an.Alerts)
	v1.Post("/alerts/:id/resolve", an.ResolveAlert)

	v1.Get("/cache", admin.CacheStats)
	v1.Delete("/cache", admin.ClearCache)
	v1.Get("/providers", admin.Providers)
	v1.Post("/providers/test", admin.TestProviders)

	return &Server{App: app, limiter: limiter}
}
