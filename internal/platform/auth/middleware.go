package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentrecord/dentrecord/internal/platform/apierr"
)

type contextKey string

const (
	IdentityKey contextKey = "identity"
)

// Roles.
const (
	RolePatient = "patient"
	RoleAdmin   = "admin"
)

// ErrUnknownSubject is returned by an IdentityResolver when the token subject
// no longer maps to a user.
var ErrUnknownSubject = errors.New("unknown token subject")

// Identity is the authenticated user attached to the request context.
type Identity struct {
	UserID    uuid.UUID
	Role      string
	Name      string
	Email     string
	PatientID string
}

// IdentityResolver looks up the user a verified token refers to.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID uuid.UUID) (*Identity, error)
}

// IdentityResolverFunc is a function adapter for IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, userID uuid.UUID) (*Identity, error)

func (f IdentityResolverFunc) ResolveIdentity(ctx context.Context, userID uuid.UUID) (*Identity, error) {
	return f(ctx, userID)
}

type Claims struct {
	jwt.RegisteredClaims
}

type VerifierConfig struct {
	Secret     []byte
	CookieName string
	Resolver   IdentityResolver
}

const invalidTokenMessage = "invalid or expired token"

// Authenticate returns middleware that verifies the request credential and
// attaches the resolved Identity to the request context. The token is taken
// from the auth cookie when present, otherwise from an
// "Authorization: Bearer" header.
func Authenticate(cfg VerifierConfig) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := extractToken(c, cfg.CookieName)
			if tokenStr == "" {
				return apierr.Unauthenticated("authentication required")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.Secret, nil
			})
			if err != nil || !token.Valid {
				return apierr.Unauthenticated(invalidTokenMessage)
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return apierr.Unauthenticated(invalidTokenMessage)
			}

			ctx := c.Request().Context()
			identity, err := cfg.Resolver.ResolveIdentity(ctx, userID)
			if err != nil {
				if errors.Is(err, ErrUnknownSubject) {
					return apierr.Unauthenticated(invalidTokenMessage)
				}
				return apierr.External("failed to resolve identity", err)
			}

			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, identity)))
			return next(c)
		}
	}
}

func extractToken(c echo.Context, cookieName string) string {
	if cookieName != "" {
		if ck, err := c.Cookie(cookieName); err == nil && ck.Value != "" {
			return ck.Value
		}
	}

	authHeader := c.Request().Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(*Identity)
	return id, ok && id != nil
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.UserID
	}
	return uuid.Nil
}
