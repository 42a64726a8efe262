package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace/internal/domain"
	"marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// DefaultCategory is a category seeded at startup
type DefaultCategory struct {
	Name     string
	IconName string
}

// DefaultCategories are the categories every deployment starts with
var DefaultCategories = []DefaultCategory{
	{Name: "디지털기기", IconName: "FiSmartphone"},
	{Name: "컴퓨터", IconName: "FaComputer"},
	{Name: "카메라", IconName: "FaCameraRetro"},
	{Name: "가구/인테리어", IconName: "RiSofaLine"},
	{Name: "자전거", IconName: "LiaBicycleSolid"},
	{Name: "패션/잡화", IconName: "RiShoppingBag4Line"},
	{Name: "오디오", IconName: "FiHeadphones"},
	{Name: "시계/쥬얼리", IconName: "FiWatch"},
}

type CategoryService interface {
	List(ctx context.Context) ([]*domain.Category, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Category, error)
	// GetByName resolves a category by display name or slug
	GetByName(ctx context.Context, name string) (*domain.Category, error)
	// EnsureDefaults inserts any missing default category. It is safe to run on every start.
	EnsureDefaults(ctx context.Context, defaults []DefaultCategory) error
}

type categoryService struct {
	repo   repository.CategoryRepository
	logger *zap.Logger
}

func NewCategoryService(repo repository.CategoryRepository, logger *zap.Logger) CategoryService {
	return &categoryService{repo: repo, logger: logger}
}

func (s *categoryService) List(ctx context.Context) ([]*domain.Category, error) {
	categories, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func (s *categoryService) Get(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	category, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return category, nil
}

func (s *categoryService) GetByName(ctx context.Context, name string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, repository.ErrCategoryNotFound
	}
	category, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return category, nil
}

func (s *categoryService) EnsureDefaults(ctx context.Context, defaults []DefaultCategory) error {
	created := 0
	for _, d := range defaults {
		_, err := s.repo.FindByName(ctx, d.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrCategoryNotFound) {
			return fmt.Errorf("failed to look up category %q: %w", d.Name, err)
		}

		category := &domain.Category{
			ID:       uuid.New(),
			Name:     d.Name,
			Slug:     Slugify(d.Name),
			IconName: d.IconName,
		}
		if err := s.repo.Create(ctx, category); err != nil {
			// another instance seeded it first
			if errors.Is(err, repository.ErrCategoryAlreadyExists) {
				continue
			}
			return fmt.Errorf("failed to create category %q: %w", d.Name, err)
		}
		created++
	}

	if created > 0 {
		s.logger.Info("Seeded default categories", zap.Int("created", created))
	}
	return nil
}

// Slugify derives the url-safe identifier of a category name
func Slugify(name string) string {
	return slug.Make(name)
}
