package transport

import (
	"errors"
	"net/http"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"

	"go.uber.org/zap"
)

// statusFor maps an error class to its HTTP status. Order matters: a
// duplicate like is a conflict but is reported as a bad request.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrAlreadyLiked):
		return http.StatusBadRequest
	case errors.Is(err, middleware.ErrMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInactiveAccount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError writes err using the JSON error envelope. Server
// errors are logged and their cause is not exposed to the client.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, action string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("action", action),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		middleware.RespondWithError(w, status, "failed to "+action)
		return
	}

	logger.Debug("Request rejected",
		zap.String("action", action),
		zap.Int("status", status),
		zap.Error(err),
	)

	if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
		middleware.RespondWithValidationErrors(w, validationErrors)
		return
	}

	message, ok := domain.Message(err)
	if !ok {
		message = err.Error()
	}
	middleware.RespondWithError(w, status, message)
}

func respondWithDecodeError(w http.ResponseWriter, err error) {
	if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
		middleware.RespondWithValidationErrors(w, validationErrors)
		return
	}
	middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
}
