package transport

import (
	"net/http"

	"marketplace/internal/domain"
	"marketplace/internal/imageset"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateProductRequest is the JSON form of a create. Images are urls returned
// by the upload endpoint.
type CreateProductRequest struct {
	Title         string             `json:"title"`
	Content       string             `json:"content"`
	Price         int64              `json:"price"`
	CategoryID    uuid.UUID          `json:"category_id"`
	TradeCity     *string            `json:"trade_city"`
	TradeDistrict *string            `json:"trade_district"`
	Tag           domain.ProductTag  `json:"tag"`
	Images        []domain.ImageSpec `json:"images"`
}

// UpdateProductRequest is the JSON form of an update. Absent fields are left alone.
type UpdateProductRequest struct {
	Title         *string               `json:"title"`
	Content       *string               `json:"content"`
	Price         *int64                `json:"price"`
	CategoryID    *uuid.UUID            `json:"category_id"`
	TradeCity     *string               `json:"trade_city"`
	TradeDistrict *string               `json:"trade_district"`
	Tag           *domain.ProductTag    `json:"tag"`
	Status        *domain.ProductStatus `json:"status"`
	Images        *ImageChangeRequest   `json:"images"`
}

// ImageChangeRequest keeps existing images in the given order
type ImageChangeRequest struct {
	KeepImageIDs        []uuid.UUID `json:"keep_image_ids"`
	RepresentativeIndex int         `json:"representative_index"`
}

// ProductHandler handles HTTP requests for product listings
type ProductHandler struct {
	products      service.ProductService
	maxUploadSize int64
	logger        *zap.Logger
}

// NewProductHandler creates a new ProductHandler. maxUploadSize bounds a single image.
func NewProductHandler(products service.ProductService, maxUploadSize int64, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		products:      products,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// RegisterRoutes registers all product routes. protect guards the mutations.
func (h *ProductHandler) RegisterRoutes(r chi.Router, optionalAuth func(http.Handler) http.Handler, protect ...func(http.Handler) http.Handler) {
	r.Route("/api/products", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)
			r.Get("/", h.List)
			r.Get("/search", h.Search)
			r.Get("/{id}", h.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(protect...)
			r.Post("/", h.Create)
			r.Put("/{id}", h.Update)
			r.Delete("/{id}", h.Delete)
			r.Post("/{id}/like", h.Like)
			r.Delete("/{id}/like", h.Unlike)
		})
	})
}

// maxBodySize bounds a whole multipart request: every image plus form fields
func (h *ProductHandler) maxBodySize() int64 {
	return int64(imageset.MaxImages)*h.maxUploadSize + multipartMemory
}

// Create handles POST /api/products as multipart with files or JSON with image urls
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)

	var (
		product *domain.Product
		err     error
	)
	if isMultipart(r) {
		product, err = h.createFromForm(w, r, principal)
	} else {
		var req CreateProductRequest
		if err := middleware.DecodeAndValidate(r, &req); err != nil {
			respondWithDecodeError(w, err)
			return
		}
		input := service.CreateProductInput{
			Title:         req.Title,
			Content:       req.Content,
			Price:         req.Price,
			CategoryID:    req.CategoryID,
			TradeCity:     req.TradeCity,
			TradeDistrict: req.TradeDistrict,
			Tag:           req.Tag,
		}
		product, err = h.products.Create(r.Context(), principal, input, req.Images)
	}
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "create product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

func (h *ProductHandler) createFromForm(w http.ResponseWriter, r *http.Request, principal domain.Principal) (*domain.Product, error) {
	if err := parseMultipart(w, r, h.maxBodySize()); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()
	form := r.MultipartForm

	var input service.CreateProductInput
	input.Title, _ = formValue(form, "title")
	input.Content, _ = formValue(form, "content")

	if v, ok := formValue(form, "price"); ok {
		price, err := parseInt64Field("price", v)
		if err != nil {
			return nil, err
		}
		input.Price = price
	}
	if v, ok := formValue(form, "categoryId", "category_id"); ok && v != "" {
		id, err := parseUUIDField("categoryId", v)
		if err != nil {
			return nil, err
		}
		input.CategoryID = id
	}
	if v, ok := formValue(form, "tradeCity", "trade_city"); ok && v != "" {
		input.TradeCity = &v
	}
	if v, ok := formValue(form, "tradeDistrict", "trade_district"); ok && v != "" {
		input.TradeDistrict = &v
	}
	if v, ok := formValue(form, "tag"); ok {
		tag, err := domain.ParseProductTag(v)
		if err != nil {
			return nil, err
		}
		input.Tag = tag
	}

	representative := 0
	if v, ok := formValue(form, "representativeIndex", "representative_index"); ok && v != "" {
		idx, err := parseIntField("representativeIndex", v)
		if err != nil {
			return nil, err
		}
		representative = idx
	}

	uploads := toUploads(formFiles(form, "images", "images[]"))
	return h.products.CreateWithUploads(r.Context(), principal, input, uploads, representative)
}

// List handles GET /api/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "list products")
		return
	}

	var filter repository.ProductFilter
	if v := r.URL.Query().Get("categoryId"); v != "" {
		id, err := parseUUIDField("categoryId", v)
		if err != nil {
			respondWithServiceError(w, r, h.logger, err, "list products")
			return
		}
		filter.CategoryID = &id
	}

	products, err := h.products.List(r.Context(), filter, page)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "list products")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// Search handles GET /api/products/search?q=
func (h *ProductHandler) Search(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "search products")
		return
	}

	products, err := h.products.Search(r.Context(), r.URL.Query().Get("q"), page)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "search products")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// Get handles GET /api/products/{id} and counts a view
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	product, err := h.products.View(r.Context(), id, clientID(r))
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "get product")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// Update handles PUT /api/products/{id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	var (
		input service.UpdateProductInput
		err   error
	)
	if isMultipart(r) {
		if err := parseMultipart(w, r, h.maxBodySize()); err != nil {
			respondWithServiceError(w, r, h.logger, err, "update product")
			return
		}
		defer r.MultipartForm.RemoveAll()
		input, err = updateFromForm(r)
	} else {
		var req UpdateProductRequest
		if err := middleware.DecodeAndValidate(r, &req); err != nil {
			respondWithDecodeError(w, err)
			return
		}
		input = updateFromJSON(req)
	}
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "update product")
		return
	}

	product, err := h.products.Update(r.Context(), principalFrom(r), id, input)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "update product")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, product)
}

func updateFromJSON(req UpdateProductRequest) service.UpdateProductInput {
	input := service.UpdateProductInput{
		Patch: domain.ProductPatch{
			Title:         req.Title,
			Content:       req.Content,
			Price:         req.Price,
			CategoryID:    req.CategoryID,
			TradeCity:     req.TradeCity,
			TradeDistrict: req.TradeDistrict,
			Tag:           req.Tag,
			Status:        req.Status,
		},
	}
	if req.Images != nil {
		input.Images = &service.ImageChange{
			KeepIDs:             req.Images.KeepImageIDs,
			RepresentativeIndex: req.Images.RepresentativeIndex,
		}
	}
	return input
}

func updateFromForm(r *http.Request) (service.UpdateProductInput, error) {
	form := r.MultipartForm
	var input service.UpdateProductInput
	patch := &input.Patch

	if v, ok := formValue(form, "title"); ok {
		patch.Title = &v
	}
	if v, ok := formValue(form, "content"); ok {
		patch.Content = &v
	}
	if v, ok := formValue(form, "price"); ok {
		price, err := parseInt64Field("price", v)
		if err != nil {
			return input, err
		}
		patch.Price = &price
	}
	if v, ok := formValue(form, "categoryId", "category_id"); ok {
		id, err := parseUUIDField("categoryId", v)
		if err != nil {
			return input, err
		}
		patch.CategoryID = &id
	}
	if v, ok := formValue(form, "tradeCity", "trade_city"); ok {
		patch.TradeCity = &v
	}
	if v, ok := formValue(form, "tradeDistrict", "trade_district"); ok {
		patch.TradeDistrict = &v
	}
	if v, ok := formValue(form, "tag"); ok {
		tag, err := domain.ParseProductTag(v)
		if err != nil {
			return input, err
		}
		patch.Tag = &tag
	}
	if v, ok := formValue(form, "status"); ok {
		status, err := domain.ParseProductStatus(v)
		if err != nil {
			return input, err
		}
		patch.Status = &status
	}

	keep, keepSent := formValues(form, "keepImageIds", "keepImageIds[]", "keep_image_ids")
	files := formFiles(form, "images", "images[]")
	repValue, repSent := formValue(form, "representativeIndex", "representative_index")
	if !keepSent && len(files) == 0 && !repSent {
		return input, nil
	}

	keepIDs, err := parseUUIDs("keepImageIds", keep)
	if err != nil {
		return input, err
	}
	change := &service.ImageChange{KeepIDs: keepIDs, Uploads: toUploads(files)}
	if repSent && repValue != "" {
		idx, err := parseIntField("representativeIndex", repValue)
		if err != nil {
			return input, err
		}
		change.RepresentativeIndex = idx
	}
	input.Images = change
	return input, nil
}

// Delete handles DELETE /api/products/{id}
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := h.products.Delete(r.Context(), principalFrom(r), id); err != nil {
		respondWithServiceError(w, r, h.logger, err, "delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Like handles POST /api/products/{id}/like
func (h *ProductHandler) Like(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := h.products.Like(r.Context(), principalFrom(r), id); err != nil {
		respondWithServiceError(w, r, h.logger, err, "like product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unlike handles DELETE /api/products/{id}/like
func (h *ProductHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := h.products.Unlike(r.Context(), principalFrom(r), id); err != nil {
		respondWithServiceError(w, r, h.logger, err, "unlike product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandler) productID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return uuid.Nil, false
	}
	return id, true
}
