package handler

import (
	"context"
	"errors"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/go-playground/validator/v10"
	"github.com/sifan077/shortlink/internal/app/auth"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/http/middleware"
	"go.uber.org/zap"
)

// TokenRevoker ends a session by revoking its bearer token.
type TokenRevoker interface {
	Revoke(ctx context.Context, claims *auth.Claims) error
}

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger    *zap.Logger
	Shortener service.ShortenerService
	Tokens    TokenRevoker
	// BaseURL prefixes short codes in responses; empty uses the request's base URL.
	BaseURL string
}

// APIHandler implements the management API endpoints.
type APIHandler struct {
	logger    *zap.Logger
	shortener service.ShortenerService
	tokens    TokenRevoker
	baseURL   string
	validate  *validator.Validate
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &APIHandler{
		logger:    logger,
		shortener: deps.Shortener,
		tokens:    deps.Tokens,
		baseURL:   strings.TrimRight(deps.BaseURL, "/"),
		validate:  v,
	}
}

// Register wires API routes onto the provided router. requireAuth guards
// every route except the anonymous redirect.
func (h *APIHandler) Register(router fiber.Router, requireAuth fiber.Handler) {
	api := router.Group("/api")
	{
		urls := api.Group("/urls")
		{
			urls.Post("/shorten", requireAuth, h.Shorten)
			urls.Get("/mine", requireAuth, h.ListMine)
			urls.Get("/:code/stats", requireAuth, h.GetStats)
			urls.Get("/:code", h.Redirect)
		}
		api.Post("/auth/logout", requireAuth, h.Logout)
	}
}

// ShortenRequest is the body of POST /api/urls/shorten.
type ShortenRequest struct {
	OriginalURL string     `json:"original_url" validate:"required"`
	CustomCode  string     `json:"custom_code,omitempty" validate:"omitempty,max=64,excludesall=/?# "`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ShortenResponse is returned for a newly created link.
type ShortenResponse struct {
	ShortCode string `json:"short_code"`
	ShortURL  string `json:"short_url"`
}

// LinkResponse describes one of the caller's links.
type LinkResponse struct {
	ShortCode   string     `json:"short_code"`
	ShortURL    string     `json:"short_url"`
	OriginalURL string     `json:"original_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClickCount  int64      `json:"click_count"`
}

// Shorten handles POST /api/urls/shorten
func (h *APIHandler) Shorten(c *fiber.Ctx) error {
	var req ShortenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"details": validationMessages(err),
		})
	}

	link, err := h.shortener.Shorten(c.UserContext(), service.ShortenInput{
		OriginalURL: req.OriginalURL,
		UserID:      middleware.UserID(c),
		CustomCode:  req.CustomCode,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return writeServiceError(c, h.logger, "shorten", err)
	}

	return c.Status(fiber.StatusCreated).JSON(ShortenResponse{
		ShortCode: link.ShortCode,
		ShortURL:  h.shortURL(c, link.ShortCode),
	})
}

// ListMine handles GET /api/urls/mine
func (h *APIHandler) ListMine(c *fiber.Ctx) error {
	links, err := h.shortener.ListMine(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return writeServiceError(c, h.logger, "list links", err)
	}

	response := make([]LinkResponse, len(links))
	for i := range links {
		response[i] = h.linkResponse(c, &links[i])
	}
	return c.JSON(response)
}

// GetStats handles GET /api/urls/:code/stats
func (h *APIHandler) GetStats(c *fiber.Ctx) error {
	code, err := codeParam(c)
	if err != nil {
		return writeServiceError(c, h.logger, "get stats", err)
	}
	stats, err := h.shortener.GetStats(c.UserContext(), code, middleware.UserID(c))
	if err != nil {
		return writeServiceError(c, h.logger, "get stats", err)
	}
	return c.JSON(stats)
}

// Redirect handles GET /api/urls/:code
func (h *APIHandler) Redirect(c *fiber.Ctx) error {
	return resolveAndRedirect(c, h.shortener, h.logger)
}

// Logout handles POST /api/auth/logout
func (h *APIHandler) Logout(c *fiber.Ctx) error {
	claims := middleware.Claims(c)
	if claims == nil || h.tokens == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	if err := h.tokens.Revoke(c.UserContext(), claims); err != nil {
		if errors.Is(err, auth.ErrNotRevocable) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.Error("failed to revoke token", zap.Error(err), zap.String("user_id", claims.UserID))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to revoke token",
		})
	}

	h.logger.Info("token revoked", zap.String("user_id", claims.UserID), zap.String("jti", claims.TokenID))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandler) linkResponse(c *fiber.Ctx, link *model.ShortenedURL) LinkResponse {
	return LinkResponse{
		ShortCode:   link.ShortCode,
		ShortURL:    h.shortURL(c, link.ShortCode),
		OriginalURL: link.OriginalURL,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
		ClickCount:  link.ClickCount,
	}
}

func (h *APIHandler) shortURL(c *fiber.Ctx, code string) string {
	base := h.baseURL
	if base == "" {
		base = c.BaseURL()
	}
	return base + "/" + url.PathEscape(code)
}
