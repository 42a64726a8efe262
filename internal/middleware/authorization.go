package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// RequireActive rejects callers whose account has been deactivated. It must
// run after AuthMiddleware.
func RequireActive(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			if !ok {
				logger.Warn("Principal not found in context")
				RespondWithError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !principal.IsActive {
				logger.Warn("Inactive account attempted a mutation",
					zap.String("user_id", principal.UserID.String()),
					zap.String("path", r.URL.Path),
				)
				RespondWithError(w, http.StatusBadRequest, "account is inactive")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
