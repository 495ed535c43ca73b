package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/services"
)

// CategoryTreeResponse for GET /api/categories
type CategoryTreeResponse struct {
	Categories []*models.CategoryNode `json:"categories"`
}

// CategoryHandler serves the public category taxonomy.
type CategoryHandler struct {
	categoryService services.CategoryService
	logger          *zap.Logger
}

// NewCategoryHandler creates a new category handler.
func NewCategoryHandler(categoryService services.CategoryService, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{
		categoryService: categoryService,
		logger:          logger,
	}
}

// RegisterRoutes registers the category handler's routes on the given mux.
func (h *CategoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/categories", h.Tree)
	mux.HandleFunc("GET /api/categories/{slug}", h.Get)
}

// Tree handles GET /api/categories
func (h *CategoryHandler) Tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.categoryService.Tree(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: CategoryTreeResponse{Categories: tree}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/categories/{slug}
func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	category, err := h.categoryService.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: category}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
