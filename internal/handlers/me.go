package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/httpx"
	"github.com/vendora/api/internal/services"
)

// MeHandlers exposes the authenticated user's own profile. The first request
// after sign-up materialises the profile document from the auth identity.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs a new MeHandlers instance.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
	}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	profile, err := h.users.EnsureProfile(ctx, actorFromIdentity(identity))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, profileResponse{Profile: buildProfilePayload(profile)})
}

type profileResponse struct {
	Profile profilePayload `json:"profile"`
}

type profilePayload struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	VendorID    *string  `json:"vendor_id,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

func buildProfilePayload(user services.User) profilePayload {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return profilePayload{
		ID:          strings.TrimSpace(user.ID),
		Email:       strings.TrimSpace(user.Email),
		DisplayName: strings.TrimSpace(user.DisplayName),
		Roles:       roles,
		VendorID:    cloneStringPointer(user.VendorID),
		CreatedAt:   formatTime(user.CreatedAt),
		UpdatedAt:   formatTime(user.UpdatedAt),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "failed to process profile request", http.StatusInternalServerError))
	}
}
