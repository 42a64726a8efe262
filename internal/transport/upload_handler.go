package transport

import (
	"net/http"

	"marketplace/internal/imageset"
	"marketplace/internal/middleware"
	"marketplace/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UploadResponse lists the public urls of stored images, in upload order
type UploadResponse struct {
	ImageURLs []string `json:"image_urls"`
}

// UploadHandler stores images before the product that uses them exists
type UploadHandler struct {
	images        service.ImageService
	maxUploadSize int64
	logger        *zap.Logger
}

func NewUploadHandler(images service.ImageService, maxUploadSize int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{images: images, maxUploadSize: maxUploadSize, logger: logger}
}

func (h *UploadHandler) RegisterRoutes(r chi.Router, protect ...func(http.Handler) http.Handler) {
	r.With(protect...).Post("/api/uploads/images", h.UploadImages)
}

// UploadImages handles POST /api/uploads/images with multipart "files"
func (h *UploadHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		middleware.RespondWithError(w, http.StatusBadRequest, "multipart/form-data is required")
		return
	}
	if err := parseMultipart(w, r, int64(imageset.MaxImages)*h.maxUploadSize+multipartMemory); err != nil {
		respondWithServiceError(w, r, h.logger, err, "upload images")
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploads := toUploads(formFiles(r.MultipartForm, "files", "files[]"))
	urls, err := h.images.Upload(r.Context(), principalFrom(r), uploads)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err, "upload images")
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, UploadResponse{ImageURLs: urls})
}
