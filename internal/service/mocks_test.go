package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/imageset"
	"marketplace/internal/repository"
	"marketplace/internal/storage"

	"github.com/google/uuid"
)

// Mock repositories for testing
type mockUserRepository struct {
	users map[string]*domain.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, exists := m.users[user.Email]; exists {
		return repository.ErrEmailTaken
	}
	for _, existing := range m.users {
		if existing.Nickname == user.Nickname {
			return repository.ErrNicknameTaken
		}
	}
	m.users[user.Email] = user
	return nil
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, exists := m.users[email]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	c := *user
	return &c, nil
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, user := range m.users {
		if user.ID == id {
			c := *user
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	for _, existing := range m.users {
		if existing.ID != user.ID && existing.Nickname == user.Nickname {
			return repository.ErrNicknameTaken
		}
	}
	if _, err := m.FindByID(ctx, user.ID); err != nil {
		return err
	}
	c := *user
	m.users[user.Email] = &c
	return nil
}

type mockRefreshTokenRepository struct {
	tokens map[string]*domain.RefreshToken
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	refreshToken, exists := m.tokens[token]
	if !exists {
		return nil, repository.ErrRefreshTokenNotFound
	}
	if refreshToken.Revoked {
		return nil, repository.ErrRefreshTokenRevoked
	}
	return refreshToken, nil
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	refreshToken, exists := m.tokens[token]
	if !exists {
		return repository.ErrRefreshTokenNotFound
	}
	refreshToken.Revoked = true
	return nil
}

type mockCategoryRepository struct {
	categories map[uuid.UUID]*domain.Category
	createErr  error
}

func newMockCategoryRepository(names ...string) *mockCategoryRepository {
	m := &mockCategoryRepository{categories: make(map[uuid.UUID]*domain.Category)}
	for _, name := range names {
		c := &domain.Category{ID: uuid.New(), Name: name, Slug: Slugify(name)}
		m.categories[c.ID] = c
	}
	return m
}

func (m *mockCategoryRepository) first() *domain.Category {
	for _, c := range m.categories {
		return c
	}
	return nil
}

func (m *mockCategoryRepository) Create(ctx context.Context, category *domain.Category) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, c := range m.categories {
		if c.Name == category.Name || c.Slug == category.Slug {
			return repository.ErrCategoryAlreadyExists
		}
	}
	m.categories[category.ID] = category
	return nil
}

func (m *mockCategoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	out := make([]*domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockCategoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return nil, repository.ErrCategoryNotFound
	}
	return c, nil
}

func (m *mockCategoryRepository) FindByName(ctx context.Context, name string) (*domain.Category, error) {
	for _, c := range m.categories {
		if c.Name == name || c.Slug == strings.ToLower(name) {
			return c, nil
		}
	}
	return nil, repository.ErrCategoryNotFound
}

func (m *mockCategoryRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, ok := m.categories[id]
	return ok, nil
}

type likeKey struct {
	userID    uuid.UUID
	productID uuid.UUID
}

// mockProductRepository keeps products in a map and returns copies so callers
// cannot mutate stored state.
type mockProductRepository struct {
	mu        sync.Mutex
	products  map[uuid.UUID]*domain.Product
	likes     map[likeKey]bool
	updateErr error
	viewsErr  error
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{
		products: make(map[uuid.UUID]*domain.Product),
		likes:    make(map[likeKey]bool),
	}
}

func copyProduct(p *domain.Product) *domain.Product {
	c := *p
	c.Images = append([]domain.ProductImage(nil), p.Images...)
	return &c
}

func imageRows(productID uuid.UUID, specs []domain.ImageSpec) []domain.ProductImage {
	rows := make([]domain.ProductImage, len(specs))
	for i, spec := range specs {
		rows[i] = domain.ProductImage{
			ID:               uuid.New(),
			ProductID:        productID,
			ImageURL:         spec.URL,
			IsRepresentative: spec.IsRepresentative,
			Position:         i,
		}
	}
	return rows
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product, images []domain.ImageSpec) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyProduct(product)
	now := time.Now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now
	stored.Images = imageRows(stored.ID, images)
	m.products[stored.ID] = stored
	return copyProduct(stored), nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return copyProduct(p), nil
}

func (m *mockProductRepository) List(ctx context.Context, filter repository.ProductFilter, page repository.Pagination) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Product
	for _, p := range m.products {
		if filter.CategoryID != nil && p.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.SellerID != nil && p.SellerID != *filter.SellerID {
			continue
		}
		if filter.LikedBy != nil && !m.likes[likeKey{*filter.LikedBy, p.ID}] {
			continue
		}
		if q := strings.ToLower(filter.TitleContains); q != "" &&
			!strings.Contains(strings.ToLower(p.Title), q) && !strings.Contains(strings.ToLower(p.Content), q) {
			continue
		}
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if page.Skip >= len(out) {
		return []*domain.Product{}, nil
	}
	out = out[page.Skip:]
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out, nil
}

func (m *mockProductRepository) Update(ctx context.Context, id uuid.UUID, patch domain.ProductPatch, plan repository.ImagePlan) (*domain.Product, []domain.ProductImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, nil, m.updateErr
	}
	p, ok := m.products[id]
	if !ok {
		return nil, nil, repository.ErrProductNotFound
	}

	var images *imageset.Result
	if plan != nil {
		var err error
		if images, err = plan(copyProduct(p).Images); err != nil {
			return nil, nil, err
		}
	}

	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Content != nil {
		p.Content = *patch.Content
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.CategoryID != nil {
		p.CategoryID = *patch.CategoryID
	}
	if patch.TradeCity != nil {
		p.TradeCity = patch.TradeCity
	}
	if patch.TradeDistrict != nil {
		p.TradeDistrict = patch.TradeDistrict
	}
	if patch.Tag != nil {
		p.Tag = *patch.Tag
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.UpdatedAt = time.Now().UTC()

	var removed []domain.ProductImage
	if images != nil {
		keep := make(map[string]bool, len(images.Final))
		for _, spec := range images.Final {
			keep[spec.URL] = true
		}
		for _, img := range p.Images {
			if !keep[img.ImageURL] {
				removed = append(removed, img)
			}
		}
		p.Images = imageRows(id, images.Final)
	}
	return copyProduct(p), m.orphaned(removed), nil
}

// orphaned drops images whose url another stored product still uses
func (m *mockProductRepository) orphaned(images []domain.ProductImage) []domain.ProductImage {
	used := make(map[string]bool)
	for _, p := range m.products {
		for _, img := range p.Images {
			used[img.ImageURL] = true
		}
	}
	var out []domain.ProductImage
	for _, img := range images {
		if !used[img.ImageURL] {
			out = append(out, img)
		}
	}
	return out
}

func (m *mockProductRepository) Delete(ctx context.Context, id uuid.UUID) ([]domain.ProductImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	delete(m.products, id)
	for k := range m.likes {
		if k.productID == id {
			delete(m.likes, k)
		}
	}
	return m.orphaned(p.Images), nil
}

func (m *mockProductRepository) AddLike(ctx context.Context, userID, productID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return repository.ErrProductNotFound
	}
	key := likeKey{userID, productID}
	if m.likes[key] {
		return repository.ErrAlreadyLiked
	}
	m.likes[key] = true
	p.Likes++
	return nil
}

func (m *mockProductRepository) RemoveLike(ctx context.Context, userID, productID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return repository.ErrProductNotFound
	}
	key := likeKey{userID, productID}
	if !m.likes[key] {
		return repository.ErrNotLiked
	}
	delete(m.likes, key)
	if p.Likes > 0 {
		p.Likes--
	}
	return nil
}

func (m *mockProductRepository) IncrementViews(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.viewsErr != nil {
		return m.viewsErr
	}
	p, ok := m.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	p.Views++
	return nil
}

// mockBlobStore records saved blobs in memory. Files named in reject fail
// with the mapped error.
type mockBlobStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	deleted   []string
	reject    map[string]error
	deleteErr error
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{
		blobs:  make(map[string][]byte),
		reject: make(map[string]error),
	}
}

func (m *mockBlobStore) Save(ctx context.Context, r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reject[filename]; err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", storage.ErrEmptyFile
	}
	url := fmt.Sprintf("/static/images/%s-%s", uuid.NewString(), filename)
	m.blobs[url] = data
	return url, nil
}

func (m *mockBlobStore) Delete(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleted = append(m.deleted, url)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.blobs, url)
	return nil
}

func (m *mockBlobStore) has(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[url]
	return ok
}

func (m *mockBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// failingTracker simulates an unreachable throttle backend
type failingTracker struct{}

func (failingTracker) ShouldCount(context.Context, string, uuid.UUID) (bool, error) {
	return false, errors.New("connection refused")
}

func upload(name, body string) Upload {
	return Upload{
		Filename: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}
