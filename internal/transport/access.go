package transport

import (
	"net/http"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/middleware"
	"oldruby-market/internal/service"
)

// callerOrAdmin reports whether the authenticated caller may act on a
// resource owned by owner. It writes the 401/403 response itself.
func callerOrAdmin(w http.ResponseWriter, r *http.Request, owner string) bool {
	email, ok := middleware.GetUserEmail(r.Context())
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	if email == owner || middleware.IsAdmin(r.Context()) {
		return true
	}
	middleware.RespondWithError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

// signedInAs reports whether the request was authenticated as email with role
func signedInAs(r *http.Request, email string, role domain.Role) bool {
	caller, ok := middleware.GetUserEmail(r.Context())
	if !ok || caller != email {
		return false
	}
	callerRole, ok := middleware.GetUserRole(r.Context())
	return ok && callerRole == role
}

// OutcomeResponse wraps the per-step report of a coordinator write
type OutcomeResponse struct {
	Outcome *service.Outcome `json:"outcome"`
}
