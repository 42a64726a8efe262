package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"marketplace/internal/domain"
	"marketplace/internal/imageset"
	"marketplace/internal/metrics"
	"marketplace/internal/repository"
	"marketplace/internal/storage"
	"marketplace/internal/throttle"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotOwner      = domain.NewError(domain.ErrForbidden, "only the seller can modify this product")
	ErrLoginRequired = domain.NewError(domain.ErrUnauthorized, "authentication required")
)

// CreateProductInput holds the scalar fields of a new listing
type CreateProductInput struct {
	Title         string            `json:"title" validate:"required,max=50"`
	Content       string            `json:"content" validate:"required,max=2000"`
	Price         int64             `json:"price" validate:"gte=0"`
	CategoryID    uuid.UUID         `json:"category_id"`
	TradeCity     *string           `json:"trade_city" validate:"omitempty,max=10"`
	TradeDistrict *string           `json:"trade_district" validate:"omitempty,max=10"`
	Tag           domain.ProductTag `json:"tag"`
}

// Upload is an uploaded file that has not been stored yet
type Upload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// ImageChange describes the desired image set of an update: the existing
// images to keep (in order) followed by new uploads.
type ImageChange struct {
	KeepIDs             []uuid.UUID
	Uploads             []Upload
	RepresentativeIndex int
}

// UpdateProductInput is a partial update. A nil Images leaves the image set untouched.
type UpdateProductInput struct {
	Patch  domain.ProductPatch
	Images *ImageChange
}

// ProductService implements the listing lifecycle
type ProductService interface {
	Create(ctx context.Context, principal domain.Principal, input CreateProductInput, images []domain.ImageSpec) (*domain.Product, error)
	CreateWithUploads(ctx context.Context, principal domain.Principal, input CreateProductInput, uploads []Upload, representativeIndex int) (*domain.Product, error)
	// Get returns the product without counting a view
	Get(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	// View returns the product and counts a view unless clientID viewed it within the cooldown
	View(ctx context.Context, id uuid.UUID, clientID string) (*domain.Product, error)
	List(ctx context.Context, filter repository.ProductFilter, page repository.Pagination) ([]*domain.Product, error)
	Search(ctx context.Context, query string, page repository.Pagination) ([]*domain.Product, error)
	Update(ctx context.Context, principal domain.Principal, id uuid.UUID, input UpdateProductInput) (*domain.Product, error)
	Delete(ctx context.Context, principal domain.Principal, id uuid.UUID) error
	Like(ctx context.Context, principal domain.Principal, id uuid.UUID) error
	Unlike(ctx context.Context, principal domain.Principal, id uuid.UUID) error
}

type productService struct {
	products   repository.ProductRepository
	categories repository.CategoryRepository
	uploads    *blobWriter
	tracker    throttle.Tracker
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewProductService creates a new instance of ProductService
func NewProductService(
	products repository.ProductRepository,
	categories repository.CategoryRepository,
	blobs storage.BlobStore,
	tracker throttle.Tracker,
	m *metrics.Metrics,
	logger *zap.Logger,
) ProductService {
	return &productService{
		products:   products,
		categories: categories,
		uploads:    newBlobWriter(blobs, m, logger),
		tracker:    tracker,
		metrics:    m,
		logger:     logger,
	}
}

func (s *productService) Create(ctx context.Context, principal domain.Principal, input CreateProductInput, images []domain.ImageSpec) (*domain.Product, error) {
	if err := requireActive(principal); err != nil {
		return nil, err
	}
	if err := validateCreateInput(&input); err != nil {
		return nil, err
	}
	if err := imageset.Validate(images); err != nil {
		return nil, err
	}
	if err := s.requireCategory(ctx, input.CategoryID); err != nil {
		return nil, err
	}

	return s.insert(ctx, principal, input, images)
}

func (s *productService) CreateWithUploads(ctx context.Context, principal domain.Principal, input CreateProductInput, uploads []Upload, representativeIndex int) (*domain.Product, error) {
	if err := requireActive(principal); err != nil {
		return nil, err
	}
	if err := validateCreateInput(&input); err != nil {
		return nil, err
	}
	// reject bad counts and indexes before any blob is written
	if _, err := imageset.BuildSpecs(placeholders(len(uploads)), representativeIndex); err != nil {
		return nil, err
	}
	if err := s.requireCategory(ctx, input.CategoryID); err != nil {
		return nil, err
	}

	urls, err := s.uploads.save(ctx, uploads)
	if err != nil {
		return nil, err
	}

	specs, err := imageset.BuildSpecs(urls, representativeIndex)
	if err != nil {
		s.uploads.remove(ctx, urls)
		return nil, err
	}

	product, err := s.insert(ctx, principal, input, specs)
	if err != nil {
		s.uploads.remove(ctx, urls)
		return nil, err
	}
	return product, nil
}

func (s *productService) insert(ctx context.Context, principal domain.Principal, input CreateProductInput, images []domain.ImageSpec) (*domain.Product, error) {
	product := &domain.Product{
		ID:            uuid.New(),
		SellerID:      principal.UserID,
		CategoryID:    input.CategoryID,
		Title:         input.Title,
		Content:       input.Content,
		Price:         input.Price,
		TradeCity:     input.TradeCity,
		TradeDistrict: input.TradeDistrict,
		Tag:           input.Tag,
		Status:        domain.StatusForSale,
	}

	created, err := s.products.Create(ctx, product, images)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.metrics.ObserveMutation(metrics.MutationCreate)
	s.logger.Info("Product created",
		zap.String("product_id", created.ID.String()),
		zap.String("seller_id", principal.UserID.String()),
		zap.Int("images", len(created.Images)),
	)
	return created, nil
}

func (s *productService) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

func (s *productService) View(ctx context.Context, id uuid.UUID, clientID string) (*domain.Product, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	count, err := s.tracker.ShouldCount(ctx, clientID, id)
	if err != nil {
		s.logger.Warn("View throttle unavailable, counting view",
			zap.String("product_id", id.String()),
			zap.Error(err),
		)
		count = true
	}
	if !count {
		s.metrics.ObserveView(metrics.ViewThrottled)
		return product, nil
	}

	if err := s.products.IncrementViews(ctx, id); err != nil {
		s.metrics.ObserveView(metrics.ViewFailed)
		s.logger.Error("Failed to increment views",
			zap.String("product_id", id.String()),
			zap.Error(err),
		)
		return product, nil
	}

	s.metrics.ObserveView(metrics.ViewCounted)
	product.Views++
	return product, nil
}

func (s *productService) List(ctx context.Context, filter repository.ProductFilter, page repository.Pagination) ([]*domain.Product, error) {
	products, err := s.products.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Search matches title and content. An empty query matches nothing.
func (s *productService) Search(ctx context.Context, query string, page repository.Pagination) ([]*domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.Product{}, nil
	}
	return s.List(ctx, repository.ProductFilter{TitleContains: query}, page)
}

func (s *productService) Update(ctx context.Context, principal domain.Principal, id uuid.UUID, input UpdateProductInput) (*domain.Product, error) {
	if err := requireActive(principal); err != nil {
		return nil, err
	}

	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !domain.IsOwner(product, principal) {
		return nil, ErrNotOwner
	}

	if err := validatePatch(input.Patch); err != nil {
		return nil, err
	}
	if input.Patch.CategoryID != nil && *input.Patch.CategoryID != product.CategoryID {
		if err := s.requireCategory(ctx, *input.Patch.CategoryID); err != nil {
			return nil, err
		}
	}

	var (
		plan      repository.ImagePlan
		freshURLs []string
	)
	if change := input.Images; change != nil {
		// reject bad keep ids and indexes before any blob is written
		if _, err := imageset.Reconcile(product.Images, change.KeepIDs, placeholders(len(change.Uploads)), change.RepresentativeIndex); err != nil {
			return nil, err
		}

		freshURLs, err = s.uploads.save(ctx, change.Uploads)
		if err != nil {
			return nil, err
		}

		// the image set may have changed since the read above, so the
		// reconciliation that gets committed runs against the locked rows
		plan = func(current []domain.ProductImage) (*imageset.Result, error) {
			return imageset.Reconcile(current, change.KeepIDs, freshURLs, change.RepresentativeIndex)
		}
	}

	updated, removed, err := s.products.Update(ctx, id, input.Patch, plan)
	if err != nil {
		s.uploads.remove(ctx, freshURLs)
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.uploads.remove(ctx, imageURLs(removed))

	s.metrics.ObserveMutation(metrics.MutationUpdate)
	s.logger.Info("Product updated",
		zap.String("product_id", id.String()),
		zap.Bool("images_replaced", plan != nil),
		zap.Int("images_removed", len(removed)),
	)
	return updated, nil
}

func (s *productService) Delete(ctx context.Context, principal domain.Principal, id uuid.UUID) error {
	if err := requireActive(principal); err != nil {
		return err
	}

	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get product: %w", err)
	}
	if !domain.IsOwner(product, principal) {
		return ErrNotOwner
	}

	removed, err := s.products.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	s.uploads.remove(ctx, imageURLs(removed))

	s.metrics.ObserveMutation(metrics.MutationDelete)
	s.logger.Info("Product deleted",
		zap.String("product_id", id.String()),
		zap.Int("images_removed", len(removed)),
	)
	return nil
}

func (s *productService) Like(ctx context.Context, principal domain.Principal, id uuid.UUID) error {
	if err := requireActive(principal); err != nil {
		return err
	}

	if err := s.products.AddLike(ctx, principal.UserID, id); err != nil {
		return fmt.Errorf("failed to like product: %w", err)
	}

	s.metrics.ObserveLike(metrics.LikeAdded)
	return nil
}

func (s *productService) Unlike(ctx context.Context, principal domain.Principal, id uuid.UUID) error {
	if err := requireActive(principal); err != nil {
		return err
	}

	if err := s.products.RemoveLike(ctx, principal.UserID, id); err != nil {
		return fmt.Errorf("failed to unlike product: %w", err)
	}

	s.metrics.ObserveLike(metrics.LikeRemoved)
	return nil
}

func (s *productService) requireCategory(ctx context.Context, id uuid.UUID) error {
	exists, err := s.categories.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check category: %w", err)
	}
	if !exists {
		return repository.ErrCategoryNotFound
	}
	return nil
}

func requireActive(principal domain.Principal) error {
	if principal.UserID == uuid.Nil {
		return ErrLoginRequired
	}
	if !principal.IsActive {
		return domain.ErrInactiveAccount
	}
	return nil
}

func validateCreateInput(input *CreateProductInput) error {
	input.Title = strings.TrimSpace(input.Title)
	if err := validateStruct(input); err != nil {
		return err
	}
	if input.CategoryID == uuid.Nil {
		return domain.NewError(domain.ErrValidation, "category_id is required")
	}
	if input.Tag == "" {
		input.Tag = domain.TagNone
	}
	if !input.Tag.Valid() {
		return domain.NewError(domain.ErrValidation, fmt.Sprintf("unknown product tag %q", input.Tag))
	}
	return nil
}

func validatePatch(patch domain.ProductPatch) error {
	checks := []struct {
		field string
		value *string
		tag   string
	}{
		{"title", patch.Title, "required,max=50"},
		{"content", patch.Content, "required,max=2000"},
		{"trade_city", patch.TradeCity, "max=10"},
		{"trade_district", patch.TradeDistrict, "max=10"},
	}
	for _, c := range checks {
		if c.value == nil {
			continue
		}
		if err := validateField(c.field, *c.value, c.tag); err != nil {
			return err
		}
	}

	if patch.Price != nil {
		if err := validateField("price", *patch.Price, "gte=0"); err != nil {
			return err
		}
	}
	if patch.Tag != nil && !patch.Tag.Valid() {
		return domain.NewError(domain.ErrValidation, fmt.Sprintf("unknown product tag %q", *patch.Tag))
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.NewError(domain.ErrValidation, fmt.Sprintf("unknown product status %q", *patch.Status))
	}
	return nil
}

func placeholders(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("pending-%d", i)
	}
	return urls
}

func imageURLs(images []domain.ProductImage) []string {
	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.ImageURL
	}
	return urls
}
