package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"marketplace/internal/domain"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// UpdateProfile writes nickname and password hash
	UpdateProfile(ctx context.Context, user *domain.User) error
}

type userRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewUserRepository creates a new instance of UserRepository
func NewUserRepository(db *sql.DB, timeout time.Duration) UserRepository {
	return &userRepository{db: db, timeout: timeout}
}

// Create inserts a new user into the database using parameterized queries
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO users (id, email, password_hash, nickname, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Nickname,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return userConstraintError("create user", err)
	}

	return nil
}

// FindByEmail retrieves a user by email using parameterized queries
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, "email = $1", email)
}

// FindByID retrieves a user by ID using parameterized queries
func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *userRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE users
		SET nickname = $2, password_hash = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, user.ID, user.Nickname, user.PasswordHash, user.UpdatedAt)
	if err != nil {
		return userConstraintError("update user", err)
	}
	return requireRow(result, ErrUserNotFound)
}

func (r *userRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, email, password_hash, nickname, is_active, created_at, updated_at
		FROM users
		WHERE ` + where

	user := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Nickname,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, persistenceError("find user", err)
	}

	return user, nil
}

func userConstraintError(op string, err error) error {
	switch {
	case isUniqueViolation(err, "users_email_key"):
		return ErrEmailTaken
	case isUniqueViolation(err, "users_nickname_key"):
		return ErrNicknameTaken
	}
	return persistenceError(op, err)
}
