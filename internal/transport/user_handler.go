package transport

import (
	"errors"
	"net/http"
	"strings"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/middleware"
	"oldruby-market/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UpsertUserRequest carries the profile fields merged into the user record
type UpsertUserRequest struct {
	Name     string `json:"name" validate:"max=255"`
	PhotoURL string `json:"photo_url" validate:"omitempty,url,max=500"`
	Role     string `json:"role" validate:"omitempty,oneof=buyer seller"`
}

// UpsertUserResponse returns the stored user and a token carrying its role
type UpsertUserResponse struct {
	User        *domain.User     `json:"user"`
	Created     bool             `json:"created"`
	AccessToken string           `json:"access_token"`
	Outcome     *service.Outcome `json:"outcome"`
}

// VerificationResponse reports a seller's verification flag
type VerificationResponse struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// UserHandler handles HTTP requests for user operations
type UserHandler struct {
	coordinator service.Coordinator
	queries     service.QueryService
	tokens      service.TokenService
	logger      *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(coordinator service.Coordinator, queries service.QueryService, tokens service.TokenService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		coordinator: coordinator,
		queries:     queries,
		tokens:      tokens,
		logger:      logger,
	}
}

// RegisterRoutes registers all user routes
func (h *UserHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/users", func(r chi.Router) {
		r.With(middleware.OptionalAuthMiddleware(h.tokens, h.logger)).Put("/{email}", h.Upsert)
		r.Get("/{email}/verification", h.GetVerification)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/{email}", h.GetProfile)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(h.logger))
				r.Get("/", h.ListByRole)
				r.Put("/{email}/verification", h.Verify)
			})
		})
	})
}

// Upsert creates or merges a user and issues an access token for it. An
// admin token is only reissued to a caller already signed in as that admin.
func (h *UserHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	email, err := domain.NormalizeEmail(chi.URLParam(r, "email"))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	var req UpsertUserRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		h.logger.Debug("Upsert user validation failed", zap.Error(err))
		middleware.RespondWithDecodeError(w, err)
		return
	}

	adminCaller := signedInAs(r, email, domain.RoleAdmin)
	if !adminCaller {
		existing, err := h.queries.User(r.Context(), email)
		switch {
		case err == nil && existing.Role == domain.RoleAdmin:
			h.refuseAdminToken(w, email)
			return
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			middleware.RespondWithDomainError(w, h.logger, err)
			return
		}
	}

	result, err := h.coordinator.UpsertUser(r.Context(), email, domain.UserProfile{
		Name:     strings.TrimSpace(req.Name),
		PhotoURL: req.PhotoURL,
		Role:     domain.Role(req.Role),
	})
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}
	// the user may have been promoted between the lookup and the upsert
	if result.User.Role == domain.RoleAdmin && !adminCaller {
		h.refuseAdminToken(w, email)
		return
	}

	token, err := h.tokens.Issue(result.User)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.String("email", result.User.Email), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
		h.logger.Info("User created", zap.String("email", result.User.Email))
	}

	middleware.RespondWithJSON(w, status, UpsertUserResponse{
		User:        result.User,
		Created:     result.Created,
		AccessToken: token,
		Outcome:     result.Outcome,
	})
}

func (h *UserHandler) refuseAdminToken(w http.ResponseWriter, email string) {
	h.logger.Warn("Refused admin token to unauthenticated caller", zap.String("email", email))
	middleware.RespondWithError(w, http.StatusForbidden, "admin tokens are only reissued to the signed-in admin")
}

// GetProfile returns the caller's own user record
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))
	if !callerOrAdmin(w, r, email) {
		return
	}

	user, err := h.queries.User(r.Context(), email)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, user)
}

// ListByRole lists users holding the role given in the query string
func (h *UserHandler) ListByRole(w http.ResponseWriter, r *http.Request) {
	users, err := h.queries.UsersByRole(r.Context(), domain.Role(r.URL.Query().Get("role")))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, users)
}

// GetVerification reports whether a seller is verified
func (h *UserHandler) GetVerification(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	verified, err := h.queries.SellerVerification(r.Context(), email)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, VerificationResponse{
		Email:    strings.ToLower(email),
		Verified: verified,
	})
}

// Verify marks a seller verified and propagates the flag to their products
func (h *UserHandler) Verify(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.coordinator.SetVerification(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Seller verified",
		zap.String("email", chi.URLParam(r, "email")),
		zap.Int64("products", outcome.Affected(service.StepFlagProducts)),
	)
	middleware.RespondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome})
}
