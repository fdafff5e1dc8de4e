package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/shortlink/internal/app/auth"
	"github.com/sifan077/shortlink/internal/app/service"
	inthttp "github.com/sifan077/shortlink/internal/http/handler"
	"github.com/sifan077/shortlink/internal/http/middleware"
	infraPostgres "github.com/sifan077/shortlink/internal/infra/postgres"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs. Postgres and Redis are
// only used by the readiness probe and may be nil in tests.
type Dependencies struct {
	Logger          *zap.Logger
	Postgres        *pgxpool.Pool
	Redis           *redis.Client
	Shortener       service.ShortenerService
	Tokens          *auth.TokenVerifier
	BaseURL         string
	CORSAllowOrigin string
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "shortlink",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           60 * time.Second,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(
		middleware.RequestID(),
		middleware.Recovery(s.deps.Logger),
		middleware.Metrics(),
		middleware.Logger(s.deps.Logger),
		middleware.CORS(s.deps.CORSAllowOrigin),
	)
}

func (s *Server) registerRoutes() {
	var revoker inthttp.TokenRevoker
	requireAuth := func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication is not configured"})
	}
	if s.deps.Tokens != nil {
		revoker = s.deps.Tokens
		requireAuth = middleware.RequireAuth(s.deps.Tokens, s.deps.Logger)
	}

	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:    s.deps.Logger,
		Shortener: s.deps.Shortener,
		Tokens:    revoker,
		BaseURL:   s.deps.BaseURL,
	})
	apiHandler.Register(s.app, requireAuth)

	redirectHandler := inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:    s.deps.Logger,
		Shortener: s.deps.Shortener,
		Checks:    s.readinessChecks(),
	})
	redirectHandler.Register(s.app)
}

func (s *Server) readinessChecks() []inthttp.ReadinessCheck {
	var checks []inthttp.ReadinessCheck
	if s.deps.Postgres != nil {
		checks = append(checks, inthttp.ReadinessCheck{Name: "postgres", Check: infraPostgres.SchemaCheck(s.deps.Postgres)})
	}
	if s.deps.Redis != nil {
		checks = append(checks, inthttp.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return s.deps.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}
