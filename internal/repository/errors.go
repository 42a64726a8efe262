package repository

import (
	"errors"
	"fmt"

	"marketplace/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrProductNotFound       = domain.NewError(domain.ErrNotFound, "product not found")
	ErrCategoryNotFound      = domain.NewError(domain.ErrNotFound, "category not found")
	ErrUserNotFound          = domain.NewError(domain.ErrNotFound, "user not found")
	ErrNotLiked              = domain.NewError(domain.ErrNotFound, "product is not liked")
	ErrAlreadyLiked          = domain.NewError(domain.ErrConflict, "product is already liked")
	ErrEmailTaken            = domain.NewError(domain.ErrConflict, "user with this email already exists")
	ErrNicknameTaken         = domain.NewError(domain.ErrConflict, "user with this nickname already exists")
	ErrCategoryAlreadyExists = domain.NewError(domain.ErrConflict, "category with this name already exists")
	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenRevoked   = errors.New("refresh token has been revoked")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// persistenceError marks err as a storage failure while keeping the cause
// (context.DeadlineExceeded, driver errors) visible to errors.Is.
func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", domain.ErrPersistence, op, err)
}

func constraintViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code && (constraint == "" || pgErr.ConstraintName == constraint)
}

func isUniqueViolation(err error, constraint string) bool {
	return constraintViolation(err, pgUniqueViolation, constraint)
}

func isForeignKeyViolation(err error, constraint string) bool {
	return constraintViolation(err, pgForeignKeyViolation, constraint)
}
