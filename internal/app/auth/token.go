package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sifan077/shortlink/config"
)

// Token verification errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenRevoked = errors.New("token has been revoked")
	// ErrNotRevocable is returned by Revoke for tokens without a jti claim.
	ErrNotRevocable = errors.New("token carries no jti and cannot be revoked")
)

// NameIdentifierClaim is the user id claim emitted by ASP.NET Identity issuers.
const NameIdentifierClaim = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"

// Claims is the identity extracted from a verified bearer token.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// TokenVerifier validates HMAC-signed JWTs and consults the revocation list.
type TokenVerifier struct {
	secret      []byte
	issuer      string
	audience    string
	revocations RevocationStore
	now         func() time.Time
}

// NewTokenVerifier builds a verifier from auth config. A nil store disables revocation checks.
func NewTokenVerifier(cfg config.AuthConfig, store RevocationStore) (*TokenVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret key is required")
	}
	return &TokenVerifier{
		secret:      []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		revocations: store,
		now:         time.Now,
	}, nil
}

// Verify parses token and returns its claims.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{UserID: userIDFrom(mc)}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: no subject", ErrTokenInvalid)
	}
	if jti, ok := mc["jti"].(string); ok {
		claims.TokenID = jti
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if claims.TokenID != "" && v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, claims.TokenID)
		if err != nil {
			return nil, fmt.Errorf("auth: check revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// Revoke adds the token to the revocation list until it would have expired anyway.
func (v *TokenVerifier) Revoke(ctx context.Context, claims *Claims) error {
	if claims.TokenID == "" {
		return ErrNotRevocable
	}
	if v.revocations == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(v.now())
	if ttl <= 0 {
		return nil
	}
	return v.revocations.Revoke(ctx, claims.TokenID, ttl)
}

// Issue signs a token for userID with the verifier's issuer and audience.
// Production tokens come from the identity provider; this serves tooling and tests.
func (v *TokenVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	if v.audience != "" {
		claims["aud"] = v.audience
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func userIDFrom(mc jwt.MapClaims) string {
	if sub, ok := mc["sub"].(string); ok && sub != "" {
		return sub
	}
	if id, ok := mc[NameIdentifierClaim].(string); ok {
		return id
	}
	return ""
}
