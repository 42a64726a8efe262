package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type userFixture struct {
	handler  *UserHandler
	users    service.UserService
	products *stubProductService
}

func newUserFixture() *userFixture {
	users := service.NewUserService(newMockUserRepository(), newMockRefreshTokenRepository(), "test-secret", 0, 0)
	products := &stubProductService{}
	handler := NewUserHandler(users, products, SessionCookies{
		AccessTTL:  service.AccessTokenExpiration,
		RefreshTTL: service.RefreshTokenExpiration,
	}, zap.NewNop())
	return &userFixture{handler: handler, users: users, products: products}
}

// router mounts the user routes with principal standing in for the auth middleware
func (f *userFixture) router(principal domain.Principal) http.Handler {
	r := chi.NewRouter()
	f.handler.RegisterRoutes(r, asPrincipal(principal))
	return r
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func bcryptParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	return parameters
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Feature: marketplace, Property 26: Invalid registration data is rejected
func TestProperty_InvalidRegistrationDataIsRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("registration with invalid data returns validation errors", prop.ForAll(
		func(invalidCase int) bool {
			f := newUserFixture()

			var reqBody service.RegisterInput
			switch invalidCase % 5 {
			case 0:
				reqBody = service.RegisterInput{Email: "", Password: "secret1", Nickname: "kim"}
			case 1:
				reqBody = service.RegisterInput{Email: "not-an-email", Password: "secret1", Nickname: "kim"}
			case 2:
				// shorter than six characters
				reqBody = service.RegisterInput{Email: "kim@example.com", Password: "abc", Nickname: "kim"}
			case 3:
				reqBody = service.RegisterInput{Email: "kim@example.com", Password: "secret1"}
			case 4:
				reqBody = service.RegisterInput{Email: "kim@example.com", Password: "secret1", Nickname: "nickname-too-long"}
			}

			w := httptest.NewRecorder()
			f.handler.Register(w, jsonRequest(t, http.MethodPost, "/api/users/register", reqBody))

			if w.Code != http.StatusBadRequest {
				t.Logf("FAIL: Expected 400 status code, got %d", w.Code)
				return false
			}

			var response map[string]interface{}
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Logf("FAIL: Could not decode error response: %v", err)
				return false
			}
			if _, exists := response["error"]; !exists {
				t.Logf("FAIL: Response missing 'error' field")
				return false
			}

			return true
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: marketplace, Property 27: Successful registration returns profile data
func TestProperty_SuccessfulRegistrationReturnsProfileData(t *testing.T) {
	properties := gopter.NewProperties(bcryptParameters())

	properties.Property("successful registration returns user profile with all fields", prop.ForAll(
		func(email string, password string, nickname string) bool {
			f := newUserFixture()

			reqBody := service.RegisterInput{Email: email, Password: password, Nickname: nickname}
			w := httptest.NewRecorder()
			f.handler.Register(w, jsonRequest(t, http.MethodPost, "/api/users/register", reqBody))

			if w.Code != http.StatusCreated {
				t.Logf("FAIL: Expected 201 status code, got %d: %s", w.Code, w.Body.String())
				return false
			}

			var profile UserProfile
			if err := json.NewDecoder(w.Body).Decode(&profile); err != nil {
				t.Logf("FAIL: Could not decode response: %v", err)
				return false
			}

			if _, err := uuid.Parse(profile.ID); err != nil {
				t.Logf("FAIL: Profile ID is not a valid UUID: %v", err)
				return false
			}
			if profile.Email != email {
				t.Logf("FAIL: Email mismatch. Expected %s, got %s", email, profile.Email)
				return false
			}
			if profile.Nickname != nickname {
				t.Logf("FAIL: Nickname mismatch. Expected %s, got %s", nickname, profile.Nickname)
				return false
			}
			if !profile.IsActive {
				t.Logf("FAIL: New account is not active")
				return false
			}
			if profile.CreatedAt.IsZero() {
				t.Logf("FAIL: Profile missing created_at")
				return false
			}
			if strings.Contains(w.Body.String(), password) {
				t.Logf("FAIL: Response leaks the password")
				return false
			}

			return true
		},
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9]{6,20}`),
		gen.RegexMatch(`[a-z]{2,10}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: marketplace, Property 28: Valid login returns both tokens as body and cookies
func TestProperty_ValidLoginReturnsBothTokens(t *testing.T) {
	properties := gopter.NewProperties(bcryptParameters())

	properties.Property("valid login returns access token and refresh token", prop.ForAll(
		func(email string, password string, nickname string) bool {
			f := newUserFixture()

			_, err := f.users.Register(context.Background(), service.RegisterInput{Email: email, Password: password, Nickname: nickname})
			if err != nil {
				t.Logf("FAIL: Registration failed: %v", err)
				return false
			}

			w := httptest.NewRecorder()
			f.handler.Login(w, jsonRequest(t, http.MethodPost, "/api/users/login", LoginRequest{Email: email, Password: password}))

			if w.Code != http.StatusOK {
				t.Logf("FAIL: Expected 200 status code, got %d", w.Code)
				return false
			}

			var loginResp LoginResponse
			if err := json.NewDecoder(w.Body).Decode(&loginResp); err != nil {
				t.Logf("FAIL: Could not decode login response: %v", err)
				return false
			}
			if loginResp.AccessToken == "" || loginResp.RefreshToken == "" {
				t.Logf("FAIL: Missing token in response")
				return false
			}

			access := findCookie(w.Result(), middleware.AccessTokenCookie)
			refresh := findCookie(w.Result(), RefreshTokenCookie)
			if access == nil || refresh == nil {
				t.Logf("FAIL: Session cookies not set")
				return false
			}
			if access.Value != loginResp.AccessToken || refresh.Value != loginResp.RefreshToken {
				t.Logf("FAIL: Cookie values differ from response body")
				return false
			}
			if !access.HttpOnly || !refresh.HttpOnly {
				t.Logf("FAIL: Session cookies must be HttpOnly")
				return false
			}

			claims, err := f.users.ValidateToken(loginResp.AccessToken)
			if err != nil {
				t.Logf("FAIL: Access token validation failed: %v", err)
				return false
			}
			if claims.UserID.String() != loginResp.User.ID {
				t.Logf("FAIL: Token user ID doesn't match profile ID")
				return false
			}

			return true
		},
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9]{6,20}`),
		gen.RegexMatch(`[a-z]{2,10}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestUserHandler_RegisterConflicts(t *testing.T) {
	f := newUserFixture()
	_, err := f.users.Register(context.Background(), service.RegisterInput{Email: "kim@example.com", Password: "secret1", Nickname: "kim"})
	require.NoError(t, err)

	tests := []struct {
		name string
		body service.RegisterInput
	}{
		{"duplicate email", service.RegisterInput{Email: "KIM@example.com", Password: "secret1", Nickname: "lee"}},
		{"duplicate nickname", service.RegisterInput{Email: "lee@example.com", Password: "secret1", Nickname: "kim"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.router(domain.Principal{}).ServeHTTP(w, jsonRequest(t, http.MethodPost, "/api/users/register", tt.body))
			assert.Equal(t, http.StatusConflict, w.Code)
		})
	}
}

func TestUserHandler_LoginWithWrongPassword(t *testing.T) {
	f := newUserFixture()
	_, err := f.users.Register(context.Background(), service.RegisterInput{Email: "kim@example.com", Password: "secret1", Nickname: "kim"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	f.handler.Login(w, jsonRequest(t, http.MethodPost, "/api/users/login", LoginRequest{Email: "kim@example.com", Password: "wrong-password"}))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, findCookie(w.Result(), middleware.AccessTokenCookie))
}

func TestUserHandler_RefreshFromCookieAndLogout(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()
	user, err := f.users.Register(ctx, service.RegisterInput{Email: "kim@example.com", Password: "secret1", Nickname: "kim"})
	require.NoError(t, err)
	_, refreshToken, _, err := f.users.Login(ctx, "kim@example.com", "secret1")
	require.NoError(t, err)

	router := f.router(domain.Principal{UserID: user.ID, IsActive: true})

	req := httptest.NewRequest(http.MethodPost, "/api/users/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: refreshToken})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var refreshed RefreshResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotNil(t, findCookie(w.Result(), middleware.AccessTokenCookie))

	req = httptest.NewRequest(http.MethodPost, "/api/users/logout", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: refreshToken})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	cleared := findCookie(w.Result(), RefreshTokenCookie)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	_, err = f.users.RefreshToken(ctx, refreshToken)
	assert.ErrorIs(t, err, service.ErrInvalidToken)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/api/users/refresh", RefreshRequest{RefreshToken: refreshToken}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserHandler_RefreshWithoutToken(t *testing.T) {
	f := newUserFixture()

	w := httptest.NewRecorder()
	f.handler.RefreshToken(w, httptest.NewRequest(http.MethodPost, "/api/users/refresh", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserHandler_Profile(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()
	user, err := f.users.Register(ctx, service.RegisterInput{Email: "kim@example.com", Password: "secret1", Nickname: "kim"})
	require.NoError(t, err)
	_, err = f.users.Register(ctx, service.RegisterInput{Email: "lee@example.com", Password: "secret1", Nickname: "lee"})
	require.NoError(t, err)

	router := f.router(domain.Principal{UserID: user.ID, IsActive: true})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var profile UserProfile
	require.NoError(t, json.NewDecoder(w.Body).Decode(&profile))
	assert.Equal(t, "kim", profile.Nickname)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodPatch, "/api/users/me", map[string]string{"nickname": "park"}))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&profile))
	assert.Equal(t, "park", profile.Nickname)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodPatch, "/api/users/me", map[string]string{"nickname": "lee"}))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodPatch, "/api/users/me", map[string]string{"password": "abc"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandler_OwnListings(t *testing.T) {
	f := newUserFixture()
	userID := uuid.New()
	router := f.router(domain.Principal{UserID: userID, IsActive: true})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/me/products?skip=5&limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.products.filter.SellerID)
	assert.Equal(t, userID, *f.products.filter.SellerID)
	assert.Equal(t, 5, f.products.page.Skip)
	assert.Equal(t, 10, f.products.page.Limit)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/me/likes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.products.filter.LikedBy)
	assert.Equal(t, userID, *f.products.filter.LikedBy)
	assert.Nil(t, f.products.filter.SellerID)
}
