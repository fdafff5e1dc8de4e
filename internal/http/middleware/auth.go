package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/auth"
	"go.uber.org/zap"
)

// Context keys set by RequireAuth.
const (
	UserIDLocal = "user_id"
	ClaimsLocal = "token_claims"
)

// TokenVerifier is the part of auth.TokenVerifier the middleware needs.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// RequireAuth validates the bearer token and stores the caller's identity
// for downstream handlers. Failures answer 401.
func RequireAuth(verifier TokenVerifier, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return unauthorized(c, "authorization header is required")
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return unauthorized(c, "expected 'Bearer <token>'")
		}

		claims, err := verifier.Verify(c.UserContext(), strings.TrimSpace(token))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				return unauthorized(c, "access token has expired")
			case errors.Is(err, auth.ErrTokenRevoked):
				return unauthorized(c, "access token has been revoked")
			case errors.Is(err, auth.ErrTokenInvalid):
				return unauthorized(c, "invalid access token")
			default:
				logger.Error("token verification failed", zap.Error(err))
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "token verification failed",
				})
			}
		}

		c.Locals(UserIDLocal, claims.UserID)
		c.Locals(ClaimsLocal, claims)
		return c.Next()
	}
}

// UserID returns the authenticated caller, or "" on anonymous routes.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDLocal).(string)
	return id
}

// Claims returns the verified token claims, or nil on anonymous routes.
func Claims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(ClaimsLocal).(*auth.Claims)
	return claims
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
}
