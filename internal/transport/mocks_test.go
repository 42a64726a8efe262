package transport

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Mock repositories for testing
type mockUserRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.Email]; exists {
		return repository.ErrEmailTaken
	}
	for _, existing := range m.users {
		if existing.Nickname == user.Nickname {
			return repository.ErrNicknameTaken
		}
	}
	c := *user
	m.users[user.Email] = &c
	return nil
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, exists := m.users[email]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	c := *user
	return &c, nil
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			c := *user
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.ID != user.ID && existing.Nickname == user.Nickname {
			return repository.ErrNicknameTaken
		}
	}
	c := *user
	m.users[user.Email] = &c
	return nil
}

type mockRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = token
	return nil
}

func (m *mockRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	m.mu.Lock()
	defer m.mu.Unlock()
	refreshToken, exists := m.tokens[token]
	if !exists {
		return repository.ErrRefreshTokenNotFound
	}
	refreshToken.Revoked = true
	return nil
}

// stubProductService records what the handlers pass in and returns canned results
type stubProductService struct {
	product *domain.Product
	err     error

	createInput    service.CreateProductInput
	createImages   []domain.ImageSpec
	uploads        []string
	representative int
	updateInput    service.UpdateProductInput
	filter         repository.ProductFilter
	page           repository.Pagination
	query          string
	clientID       string
	principal      domain.Principal
	calls          []string
}

func (s *stubProductService) record(call string, principal domain.Principal) {
	s.calls = append(s.calls, call)
	s.principal = principal
}

func (s *stubProductService) result() (*domain.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.product != nil {
		return s.product, nil
	}
	return &domain.Product{ID: uuid.New(), Images: []domain.ProductImage{}}, nil
}

func (s *stubProductService) Create(ctx context.Context, principal domain.Principal, input service.CreateProductInput, images []domain.ImageSpec) (*domain.Product, error) {
	s.record("Create", principal)
	s.createInput = input
	s.createImages = images
	return s.result()
}

func (s *stubProductService) CreateWithUploads(ctx context.Context, principal domain.Principal, input service.CreateProductInput, uploads []service.Upload, representativeIndex int) (*domain.Product, error) {
	s.record("CreateWithUploads", principal)
	s.createInput = input
	s.representative = representativeIndex
	s.uploads = uploadNames(uploads)
	return s.result()
}

func (s *stubProductService) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	s.record("Get", domain.Principal{})
	return s.result()
}

func (s *stubProductService) View(ctx context.Context, id uuid.UUID, clientID string) (*domain.Product, error) {
	s.record("View", domain.Principal{})
	s.clientID = clientID
	return s.result()
}

func (s *stubProductService) List(ctx context.Context, filter repository.ProductFilter, page repository.Pagination) ([]*domain.Product, error) {
	s.record("List", domain.Principal{})
	s.filter = filter
	s.page = page
	if s.err != nil {
		return nil, s.err
	}
	return []*domain.Product{}, nil
}

func (s *stubProductService) Search(ctx context.Context, query string, page repository.Pagination) ([]*domain.Product, error) {
	s.record("Search", domain.Principal{})
	s.query = query
	s.page = page
	if s.err != nil {
		return nil, s.err
	}
	return []*domain.Product{}, nil
}

func (s *stubProductService) Update(ctx context.Context, principal domain.Principal, id uuid.UUID, input service.UpdateProductInput) (*domain.Product, error) {
	s.record("Update", principal)
	s.updateInput = input
	if input.Images != nil {
		s.uploads = uploadNames(input.Images.Uploads)
	}
	return s.result()
}

func (s *stubProductService) Delete(ctx context.Context, principal domain.Principal, id uuid.UUID) error {
	s.record("Delete", principal)
	return s.err
}

func (s *stubProductService) Like(ctx context.Context, principal domain.Principal, id uuid.UUID) error {
	s.record("Like", principal)
	return s.err
}

func (s *stubProductService) Unlike(ctx context.Context, principal domain.Principal, id uuid.UUID) error {
	s.record("Unlike", principal)
	return s.err
}

// uploadNames reads every upload so the test sees what the handler streamed
func uploadNames(uploads []service.Upload) []string {
	names := make([]string, 0, len(uploads))
	for _, u := range uploads {
		f, err := u.Open()
		if err != nil {
			names = append(names, "open-error")
			continue
		}
		body, _ := io.ReadAll(f)
		f.Close()
		names = append(names, u.Filename+":"+string(body))
	}
	return names
}

type stubImageService struct {
	principal domain.Principal
	uploads   []string
	err       error
}

func (s *stubImageService) Upload(ctx context.Context, principal domain.Principal, uploads []service.Upload) ([]string, error) {
	s.principal = principal
	s.uploads = uploadNames(uploads)
	if s.err != nil {
		return nil, s.err
	}
	urls := make([]string, len(uploads))
	for i := range uploads {
		urls[i] = "/static/images/" + uuid.NewString() + ".png"
	}
	return urls, nil
}

type stubCategoryService struct {
	categories []*domain.Category
}

func (s *stubCategoryService) List(ctx context.Context) ([]*domain.Category, error) {
	return s.categories, nil
}

func (s *stubCategoryService) Get(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	for _, c := range s.categories {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrCategoryNotFound
}

func (s *stubCategoryService) GetByName(ctx context.Context, name string) (*domain.Category, error) {
	for _, c := range s.categories {
		if c.Name == name || c.Slug == name {
			return c, nil
		}
	}
	return nil, repository.ErrCategoryNotFound
}

func (s *stubCategoryService) EnsureDefaults(ctx context.Context, defaults []service.DefaultCategory) error {
	return nil
}

// asPrincipal stands in for the auth middleware
func asPrincipal(principal domain.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithPrincipal(r.Context(), principal)))
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

type formFile struct {
	field, name string
	body        []byte
}

// multipartRequest builds a multipart request. Repeated keys in fields are sent as repeated parts.
func multipartRequest(t *testing.T, method, target string, fields [][2]string, files []formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		require.NoError(t, mw.WriteField(f[0], f[1]))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
