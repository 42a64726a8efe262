package transport

import (
	"net/http"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CategoryHandler serves the read-only category catalogue
type CategoryHandler struct {
	categories service.CategoryService
	products   service.ProductService
	logger     *zap.Logger
}

func NewCategoryHandler(categories service.CategoryService, products service.ProductService, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{
		categories: categories,
		products:   products,
		logger:     logger,
	}
}

// RegisterRoutes registers all category routes. {ref} is an id, a name or a slug.
func (h *CategoryHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/categories", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{ref}", h.Get)
		r.Get("/{ref}/products", h.Products)
	})
}

func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categories.List(r.Context())
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "list categories")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, categories)
}

func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	category, err := h.resolve(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "get category")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, category)
}

// Products lists the listings of one category, newest first
func (h *CategoryHandler) Products(w http.ResponseWriter, r *http.Request) {
	category, err := h.resolve(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "list category products")
		return
	}

	page, err := parsePagination(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "list category products")
		return
	}

	products, err := h.products.List(r.Context(), repository.ProductFilter{CategoryID: &category.ID}, page)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "list category products")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, products)
}

func (h *CategoryHandler) resolve(r *http.Request) (*domain.Category, error) {
	ref := chi.URLParam(r, "ref")
	if id, err := uuid.Parse(ref); err == nil {
		return h.categories.Get(r.Context(), id)
	}
	return h.categories.GetByName(r.Context(), ref)
}
