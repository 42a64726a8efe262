package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"marketplace/internal/domain"

	"go.uber.org/zap"
)

type contextKey string

const principalKey contextKey = "principal"

// AccessTokenCookie is the cookie set at login carrying the access token
const AccessTokenCookie = "access_token"

// PrincipalResolver turns an access token into the caller's principal
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, token string) (domain.Principal, error)
}

// AuthMiddleware requires a valid access token, read from the Authorization
// header or the access_token cookie, and stores the principal in the context.
func AuthMiddleware(resolver PrincipalResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return authenticate(resolver, logger, true)
}

// OptionalAuth attaches the principal when a valid token is present and lets
// anonymous requests through. An invalid token is treated as anonymous.
func OptionalAuth(resolver PrincipalResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return authenticate(resolver, logger, false)
}

func authenticate(resolver PrincipalResolver, logger *zap.Logger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := extractToken(r)
			if err != nil {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				logger.Debug("Missing or malformed credentials", zap.Error(err))
				RespondWithError(w, http.StatusUnauthorized, err.Error())
				return
			}

			principal, err := resolver.ResolvePrincipal(r.Context(), tokenString)
			if err != nil {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				logger.Debug("Token validation failed", zap.Error(err))
				if errors.Is(err, domain.ErrUnauthorized) {
					RespondWithError(w, http.StatusUnauthorized, err.Error())
				} else {
					logger.Error("Failed to resolve principal", zap.Error(err))
					RespondWithError(w, http.StatusInternalServerError, "internal server error")
				}
				return
			}

			logger.Debug("User authenticated", zap.String("user_id", principal.UserID.String()))
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

var (
	errMissingToken       = errors.New("missing authorization header")
	errInvalidAuthzHeader = errors.New("invalid authorization header format")
)

// extractToken prefers the Authorization header and falls back to the cookie
func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", errInvalidAuthzHeader
		}
		return parts[1], nil
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errMissingToken
}

// WithPrincipal returns a copy of ctx carrying principal
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// GetPrincipal extracts the authenticated principal from request context
func GetPrincipal(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(domain.Principal)
	return principal, ok
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (string, bool) {
	principal, ok := GetPrincipal(ctx)
	if !ok {
		return "", false
	}
	return principal.UserID.String(), true
}
