package transport

import (
	"errors"
	"net/http"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RefreshTokenCookie holds the refresh token for browser clients
const RefreshTokenCookie = "refresh_token"

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest carries a refresh token when it is not sent as a cookie
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         UserProfile `json:"user"`
}

// RefreshResponse represents the token refresh response
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// UserProfile represents user profile data
type UserProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserProfile(user *domain.User) UserProfile {
	return UserProfile{
		ID:        user.ID.String(),
		Email:     user.Email,
		Nickname:  user.Nickname,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	}
}

// SessionCookies controls the auth cookies set on login
type SessionCookies struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// UserHandler handles HTTP requests for user operations
type UserHandler struct {
	userService service.UserService
	products    service.ProductService
	cookies     SessionCookies
	logger      *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userService service.UserService, products service.ProductService, cookies SessionCookies, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		products:    products,
		cookies:     cookies,
		logger:      logger,
	}
}

// RegisterRoutes registers all user routes
func (h *UserHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/users", func(r chi.Router) {
		// Public routes
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.RefreshToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.GetProfile)
			r.Patch("/me", h.UpdateProfile)
			r.Get("/me/products", h.MyProducts)
			r.Get("/me/likes", h.MyLikes)
		})
	})
}

// Register handles user registration
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Registration validation failed", zap.Error(err))
		respondWithDecodeError(w, err)
		return
	}

	user, err := h.userService.Register(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "register user")
		return
	}

	h.logger.Info("User registered successfully", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, newUserProfile(user))
}

// Login handles user authentication
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Login validation failed", zap.Error(err))
		respondWithDecodeError(w, err)
		return
	}

	accessToken, refreshToken, user, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "login")
		return
	}

	h.setCookie(w, middleware.AccessTokenCookie, accessToken, h.cookies.AccessTTL)
	h.setCookie(w, RefreshTokenCookie, refreshToken, h.cookies.RefreshTTL)

	h.logger.Info("User logged in successfully", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         newUserProfile(user),
	})
}

// Logout revokes the refresh token and clears the session cookies
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshTokenFrom(r)
	if err != nil {
		respondWithDecodeError(w, err)
		return
	}

	if token != "" {
		if err := h.userService.Logout(r.Context(), token); err != nil {
			respondWithServiceError(w, r, h.logger, err, "logout")
			return
		}
	}

	h.clearCookie(w, middleware.AccessTokenCookie)
	h.clearCookie(w, RefreshTokenCookie)

	h.logger.Info("User logged out successfully")
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// RefreshToken handles token refresh
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshTokenFrom(r)
	if err != nil {
		respondWithDecodeError(w, err)
		return
	}
	if token == "" {
		middleware.RespondWithError(w, http.StatusUnauthorized, "refresh token is required")
		return
	}

	newAccessToken, err := h.userService.RefreshToken(r.Context(), token)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "refresh token")
		return
	}

	h.setCookie(w, middleware.AccessTokenCookie, newAccessToken, h.cookies.AccessTTL)
	middleware.RespondWithJSON(w, http.StatusOK, RefreshResponse{AccessToken: newAccessToken})
}

// GetProfile handles getting user profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)

	user, err := h.userService.GetUserByID(r.Context(), principal.UserID)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "get user profile")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, newUserProfile(user))
}

// UpdateProfile handles PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.ProfileUpdate
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondWithDecodeError(w, err)
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), principalFrom(r).UserID, req)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "update user profile")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, newUserProfile(user))
}

// MyProducts lists the caller's own listings
func (h *UserHandler) MyProducts(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r).UserID
	h.listProducts(w, r, repository.ProductFilter{SellerID: &userID}, "list own products")
}

// MyLikes lists the listings the caller liked
func (h *UserHandler) MyLikes(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r).UserID
	h.listProducts(w, r, repository.ProductFilter{LikedBy: &userID}, "list liked products")
}

func (h *UserHandler) listProducts(w http.ResponseWriter, r *http.Request, filter repository.ProductFilter, action string) {
	page, err := parsePagination(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, action)
		return
	}

	products, err := h.products.List(r.Context(), filter, page)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, action)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// refreshTokenFrom reads the token from a JSON body, falling back to the cookie
func (h *UserHandler) refreshTokenFrom(r *http.Request) (string, error) {
	if r.Body != nil && r.ContentLength != 0 {
		var req RefreshRequest
		if err := middleware.DecodeAndValidate(r, &req); err != nil {
			return "", err
		}
		if req.RefreshToken != "" {
			return req.RefreshToken, nil
		}
	}

	cookie, err := r.Cookie(RefreshTokenCookie)
	if errors.Is(err, http.ErrNoCookie) {
		return "", nil
	}
	return cookie.Value, nil
}

func (h *UserHandler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *UserHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
