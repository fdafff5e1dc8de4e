package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/service"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether one backing dependency is reachable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger    *zap.Logger
	Shortener service.ShortenerService
	Checks    []ReadinessCheck
}

// RedirectHandler serves the public short-code redirect and probes.
type RedirectHandler struct {
	logger    *zap.Logger
	shortener service.ShortenerService
	checks    []ReadinessCheck
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:    logger,
		shortener: deps.Shortener,
		checks:    deps.Checks,
	}
}

// Register wires redirect routes onto the provided router. It must be
// registered after the API so /:code does not shadow /api.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
	router.Get("/:code", h.Resolve)
}

// Health is the liveness probe.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "shortlink",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready pings every dependency and answers 503 if any is down.
func (h *RedirectHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	status := fiber.StatusOK
	results := make(fiber.Map, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", check.Name), zap.Error(err))
			results[check.Name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[check.Name] = "ok"
	}

	state := "ready"
	if status != fiber.StatusOK {
		state = "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": results})
}

// Resolve handles GET /:code
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	return resolveAndRedirect(c, h.shortener, h.logger)
}

func resolveAndRedirect(c *fiber.Ctx, shortener service.ShortenerService, logger *zap.Logger) error {
	code, err := codeParam(c)
	if err != nil {
		return writeServiceError(c, logger, "resolve", err)
	}
	target, err := shortener.Resolve(c.UserContext(), code, service.RequestContext{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Referrer:  c.Get(fiber.HeaderReferer),
	})
	if err != nil {
		return writeServiceError(c, logger, "resolve", err)
	}

	logger.Debug("redirecting short link", zap.String("code", code), zap.String("target", target))
	return c.Redirect(target, fiber.StatusFound)
}
