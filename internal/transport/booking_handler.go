package transport

import (
	"net/http"
	"strings"

	"oldruby-market/internal/middleware"
	"oldruby-market/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateBookingRequest represents the create booking request payload. The
// buyer is always the authenticated caller.
type CreateBookingRequest struct {
	ProductID       string `json:"product_id" validate:"required,uuid"`
	BuyerName       string `json:"buyer_name" validate:"max=255"`
	Phone           string `json:"phone" validate:"max=50"`
	MeetingLocation string `json:"meeting_location" validate:"max=255"`
}

// PaymentRequest reports a payment confirmed by the gateway
type PaymentRequest struct {
	BookingID     string `json:"booking_id" validate:"required,uuid"`
	ProductID     string `json:"product_id" validate:"required,uuid"`
	TransactionID string `json:"transaction_id" validate:"required,max=255"`
}

// BookingHandler handles HTTP requests for bookings and payments
type BookingHandler struct {
	coordinator service.Coordinator
	queries     service.QueryService
	logger      *zap.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(coordinator service.Coordinator, queries service.QueryService, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{
		coordinator: coordinator,
		queries:     queries,
		logger:      logger,
	}
}

// RegisterRoutes registers booking and payment routes. All of them require
// authentication.
func (h *BookingHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Route("/api/bookings", func(r chi.Router) {
			r.Post("/", h.Create)
			r.Get("/", h.ListByBuyer)
			r.Get("/{id}", h.Get)
			r.Delete("/{id}", h.Delete)
		})

		r.Post("/api/payments", h.CompletePayment)
	})
}

// Create books a product for the caller
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	buyer, _ := middleware.GetUserEmail(r.Context())
	result, err := h.coordinator.CreateBooking(r.Context(), service.BookingInput{
		ProductID:       req.ProductID,
		BuyerEmail:      buyer,
		BuyerName:       strings.TrimSpace(req.BuyerName),
		Phone:           req.Phone,
		MeetingLocation: req.MeetingLocation,
	})
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Booking created",
		zap.String("booking_id", result.Booking.ID.String()),
		zap.String("product_id", req.ProductID),
	)
	middleware.RespondWithJSON(w, http.StatusCreated, result)
}

// ListByBuyer lists a buyer's bookings, the caller's own by default
func (h *BookingHandler) ListByBuyer(w http.ResponseWriter, r *http.Request) {
	buyer := strings.ToLower(r.URL.Query().Get("buyer"))
	if buyer == "" {
		buyer, _ = middleware.GetUserEmail(r.Context())
	}
	if !callerOrAdmin(w, r, buyer) {
		return
	}

	bookings, err := h.queries.BookingsByBuyer(r.Context(), buyer)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, bookings)
}

// Get returns a booking to its buyer
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	booking, err := h.queries.Booking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}
	if !callerOrAdmin(w, r, booking.BuyerEmail) {
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, booking)
}

// Delete withdraws a booking
func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !middleware.IsAdmin(r.Context()) {
		booking, err := h.queries.Booking(r.Context(), id)
		if err != nil {
			middleware.RespondWithDomainError(w, h.logger, err)
			return
		}
		if !callerOrAdmin(w, r, booking.BuyerEmail) {
			return
		}
	}

	outcome, err := h.coordinator.DeleteBooking(r.Context(), id)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome})
}

// CompletePayment records a confirmed payment and finalizes the sale. The
// transaction id comes from the payment gateway and is passed through.
func (h *BookingHandler) CompletePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	if !middleware.IsAdmin(r.Context()) {
		booking, err := h.queries.Booking(r.Context(), req.BookingID)
		if err != nil {
			middleware.RespondWithDomainError(w, h.logger, err)
			return
		}
		if !callerOrAdmin(w, r, booking.BuyerEmail) {
			return
		}
	}

	outcome, err := h.coordinator.CompletePayment(r.Context(), service.PaymentInput{
		BookingID:     req.BookingID,
		ProductID:     req.ProductID,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Payment completed",
		zap.String("booking_id", req.BookingID),
		zap.String("transaction_id", req.TransactionID),
	)
	middleware.RespondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome})
}
