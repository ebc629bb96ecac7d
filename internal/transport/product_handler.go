package transport

import (
	"context"
	"net/http"
	"strings"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/middleware"
	"oldruby-market/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateProductRequest represents the create product request payload. The
// seller is always the authenticated caller.
type CreateProductRequest struct {
	CategoryID    string  `json:"category_id" validate:"required,uuid"`
	Name          string  `json:"name" validate:"required,max=255"`
	Description   string  `json:"description" validate:"max=5000"`
	ImageURL      string  `json:"image_url" validate:"omitempty,url,max=500"`
	Location      string  `json:"location" validate:"max=255"`
	Condition     string  `json:"condition" validate:"omitempty,oneof=excellent good fair"`
	Phone         string  `json:"phone" validate:"max=50"`
	OriginalPrice float64 `json:"original_price" validate:"gte=0"`
	ResalePrice   float64 `json:"resale_price" validate:"gt=0"`
	YearsOfUse    int     `json:"years_of_use" validate:"gte=0,lte=100"`
}

// ProductHandler handles HTTP requests for listings
type ProductHandler struct {
	coordinator service.Coordinator
	queries     service.QueryService
	logger      *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(coordinator service.Coordinator, queries service.QueryService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		coordinator: coordinator,
		queries:     queries,
		logger:      logger,
	}
}

// RegisterRoutes registers all product routes
func (h *ProductHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	sellers := middleware.RequireRole(h.logger, domain.RoleSeller, domain.RoleAdmin)

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/advertised", h.ListAdvertised)
		r.Get("/{id}", h.Get)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/", h.ListBySeller)
			r.Put("/{id}/report", h.Report)

			r.With(middleware.RequireAdmin(h.logger)).Get("/reported", h.ListReported)

			r.Group(func(r chi.Router) {
				r.Use(sellers)
				r.Post("/", h.Create)
				r.Put("/{id}/sold", h.MarkSold)
				r.Put("/{id}/advertise", h.Advertise)
				r.Delete("/{id}", h.Delete)
			})
		})
	})
}

// Create lists a new product for the authenticated seller
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		h.logger.Debug("Create product validation failed", zap.Error(err))
		middleware.RespondWithDecodeError(w, err)
		return
	}

	seller, _ := middleware.GetUserEmail(r.Context())
	result, err := h.coordinator.CreateProduct(r.Context(), service.ProductInput{
		SellerEmail:   seller,
		CategoryID:    req.CategoryID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		ImageURL:      req.ImageURL,
		Location:      req.Location,
		Condition:     req.Condition,
		Phone:         req.Phone,
		OriginalPrice: req.OriginalPrice,
		ResalePrice:   req.ResalePrice,
		YearsOfUse:    req.YearsOfUse,
	})
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Product created",
		zap.String("product_id", result.Product.ID.String()),
		zap.String("seller", seller),
	)
	middleware.RespondWithJSON(w, http.StatusCreated, result)
}

// Get returns a single product
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.queries.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// ListBySeller lists a seller's products. Without a seller parameter the
// caller's own listings are returned.
func (h *ProductHandler) ListBySeller(w http.ResponseWriter, r *http.Request) {
	seller := strings.ToLower(r.URL.Query().Get("seller"))
	if seller == "" {
		seller, _ = middleware.GetUserEmail(r.Context())
	}
	if !callerOrAdmin(w, r, seller) {
		return
	}

	products, err := h.queries.ProductsBySeller(r.Context(), seller)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// ListAdvertised returns the advertised products that are still available
func (h *ProductHandler) ListAdvertised(w http.ResponseWriter, r *http.Request) {
	products, err := h.queries.AdvertisedProducts(r.Context())
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// ListReported returns every reported product
func (h *ProductHandler) ListReported(w http.ResponseWriter, r *http.Request) {
	products, err := h.queries.ReportedProducts(r.Context())
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// MarkSold marks the product sold and cascades to its bookings
func (h *ProductHandler) MarkSold(w http.ResponseWriter, r *http.Request) {
	h.ownerWrite(w, r, h.coordinator.MarkSold)
}

// Advertise flags the product as advertised
func (h *ProductHandler) Advertise(w http.ResponseWriter, r *http.Request) {
	h.ownerWrite(w, r, h.coordinator.SetAdvertised)
}

// Delete removes the product and every booking referencing it
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.ownerWrite(w, r, h.coordinator.DeleteProduct)
}

// Report flags the product for moderation. Any authenticated user may report.
func (h *ProductHandler) Report(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.coordinator.SetReported(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome})
}

// ownerWrite runs a product write once the caller is known to own the
// product or to be an admin.
func (h *ProductHandler) ownerWrite(w http.ResponseWriter, r *http.Request, write func(ctx context.Context, productID string) (*service.Outcome, error)) {
	id := chi.URLParam(r, "id")

	if !middleware.IsAdmin(r.Context()) {
		product, err := h.queries.Product(r.Context(), id)
		if err != nil {
			middleware.RespondWithDomainError(w, h.logger, err)
			return
		}
		if !callerOrAdmin(w, r, product.SellerEmail) {
			return
		}
	}

	outcome, err := write(r.Context(), id)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome})
}
