package validation

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed bodies before they reach a handler. Query
// text is length-checked, screened for script injection and stored trimmed
// in c.Locals("query_text").
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 4000
	}
	if cfg.MaxDocumentSize <= 0 {
		cfg.MaxDocumentSize = 2 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}
		if ct := c.Get(fiber.HeaderContentType); ct != "" && !allowedType(ct, cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		switch c.Path() {
		case "/api/v1/query":
			return checkQuery(c, cfg)
		case "/api/v1/knowledge/import":
			return checkImport(c, cfg)
		}
		return c.Next()
	}
}

func checkQuery(c *fiber.Ctx, cfg Config) error {
	var req struct {
		Text string           `json:"text"`
		Type models.QueryType `json:"type"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}

	text := sanitizeString(req.Text)
	if text == "" {
		return reject(c, fiber.StatusBadRequest, "text is required")
	}
	if utf8.RuneCountInString(text) > cfg.MaxQueryLength {
		return reject(c, fiber.StatusBadRequest, "text exceeds maximum length")
	}
	if req.Type != "" && !req.Type.Valid() {
		return reject(c, fiber.StatusBadRequest, "type is not a known query type")
	}
	if containsXSS(text) {
		cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()), zap.String("path", c.Path()))
		return reject(c, fiber.StatusBadRequest, "Invalid query content")
	}

	c.Locals("query_text", text)
	return c.Next()
}

func checkImport(c *fiber.Ctx, cfg Config) error {
	if len(c.Body()) > cfg.MaxDocumentSize {
		return reject(c, fiber.StatusRequestEntityTooLarge, "Document content exceeds maximum size")
	}

	var req struct {
		Source string `json:"source"`
		HTML   string `json:"html"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}
	if req.Source == "" || req.HTML == "" {
		return reject(c, fiber.StatusBadRequest, "source and html are required")
	}
	if strings.Contains(req.Source, "://") && !isValidURL(req.Source) {
		return reject(c, fiber.StatusBadRequest, "Invalid source URL")
	}
	return c.Next()
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func allowedType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	return strings.TrimSpace(strings.ReplaceAll(input, "\x00", ""))
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
