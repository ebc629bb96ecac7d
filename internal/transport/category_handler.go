package transport

import (
	"net/http"

	"oldruby-market/internal/middleware"
	"oldruby-market/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateCategoryRequest represents the create category request payload
type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

// CategoryHandler handles HTTP requests for categories
type CategoryHandler struct {
	coordinator service.Coordinator
	queries     service.QueryService
	logger      *zap.Logger
}

// NewCategoryHandler creates a new CategoryHandler
func NewCategoryHandler(coordinator service.Coordinator, queries service.QueryService, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{
		coordinator: coordinator,
		queries:     queries,
		logger:      logger,
	}
}

// RegisterRoutes registers all category routes
func (h *CategoryHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/categories", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}/products", h.ListProducts)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireAdmin(h.logger))
			r.Post("/", h.Create)
		})
	})
}

// List returns every category
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	categories, err := h.queries.Categories(r.Context())
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, categories)
}

// ListProducts returns the available products of a category
func (h *CategoryHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.queries.ProductsByCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// Create adds a category
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	category, err := h.coordinator.CreateCategory(r.Context(), service.CategoryInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Category created", zap.String("category_id", category.ID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, category)
}
