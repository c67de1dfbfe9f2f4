package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/httpx"
	"github.com/vendora/api/internal/services"
)

const (
	defaultVendorPageSize = 20
	maxVendorPageSize     = 100
	maxVendorBodySize     = 16 * 1024
)

type vendorApplicationRequest struct {
	StoreName   string `json:"store_name"`
	Description string `json:"description"`
}

type vendorReviewRequest struct {
	Status string `json:"status"`
}

// VendorHandlers exposes the vendor application flow plus public profiles.
type VendorHandlers struct {
	authn   *auth.Authenticator
	vendors services.VendorService
}

// NewVendorHandlers constructs a new VendorHandlers instance.
func NewVendorHandlers(authn *auth.Authenticator, vendors services.VendorService) *VendorHandlers {
	return &VendorHandlers{
		authn:   authn,
		vendors: vendors,
	}
}

// Routes registers the /vendors endpoints.
func (h *VendorHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{vendorID}", h.getVendor)

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/apply", h.apply)
	})
}

func (h *VendorHandlers) apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vendors == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vendor_service_unavailable", "vendor service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxVendorBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req vendorApplicationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	vendor, err := h.vendors.Apply(ctx, services.VendorApplicationCommand{
		Actor:       actorFromIdentity(identity),
		StoreName:   strings.TrimSpace(req.StoreName),
		Description: req.Description,
	})
	if err != nil {
		writeVendorError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, vendorResponse{Vendor: buildVendorPayload(vendor)})
}

func (h *VendorHandlers) getVendor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vendors == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vendor_service_unavailable", "vendor service unavailable", http.StatusServiceUnavailable))
		return
	}

	vendorID := strings.TrimSpace(chi.URLParam(r, "vendorID"))
	if vendorID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "vendor id is required", http.StatusBadRequest))
		return
	}

	vendor, err := h.vendors.Get(ctx, vendorID)
	if err != nil {
		writeVendorError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, vendorResponse{Vendor: buildPublicVendorPayload(vendor)})
}

// AdminVendorHandlers exposes the admin review queue for vendor applications.
type AdminVendorHandlers struct {
	authn   *auth.Authenticator
	vendors services.VendorService
}

// NewAdminVendorHandlers constructs a new AdminVendorHandlers instance.
func NewAdminVendorHandlers(authn *auth.Authenticator, vendors services.VendorService) *AdminVendorHandlers {
	return &AdminVendorHandlers{
		authn:   authn,
		vendors: vendors,
	}
}

// Routes registers the vendor review endpoints under the admin group.
func (h *AdminVendorHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(domain.RoleAdmin))
	}
	r.Get("/vendors", h.listApplications)
	r.Patch("/vendors/{vendorID}", h.reviewApplication)
}

func (h *AdminVendorHandlers) listApplications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vendors == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vendor_service_unavailable", "vendor service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pager, err := parsePagination(query, defaultVendorPageSize, maxVendorPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	statuses := make([]string, 0, 1)
	for _, raw := range parseFilterValues(query["status"]) {
		statuses = append(statuses, strings.ToLower(raw))
	}

	page, err := h.vendors.ListApplications(ctx, actorFromIdentity(identity), services.VendorListQuery{
		Status:     statuses,
		Pagination: pager,
	})
	if err != nil {
		writeVendorError(ctx, w, err)
		return
	}

	items := make([]vendorPayload, 0, len(page.Items))
	for _, vendor := range page.Items {
		items = append(items, buildVendorPayload(vendor))
	}

	writeJSONResponse(w, http.StatusOK, vendorListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminVendorHandlers) reviewApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vendors == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vendor_service_unavailable", "vendor service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	vendorID := strings.TrimSpace(chi.URLParam(r, "vendorID"))
	if vendorID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "vendor id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxVendorBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req vendorReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	var approve bool
	switch domain.VendorStatus(strings.ToLower(strings.TrimSpace(req.Status))) {
	case domain.VendorStatusApproved:
		approve = true
	case domain.VendorStatusRejected:
		approve = false
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be approved or rejected", http.StatusBadRequest))
		return
	}

	vendor, err := h.vendors.Review(ctx, services.VendorReviewCommand{
		Actor:    actorFromIdentity(identity),
		VendorID: vendorID,
		Approve:  approve,
	})
	if err != nil {
		writeVendorError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, vendorResponse{Vendor: buildVendorPayload(vendor)})
}

type vendorListResponse struct {
	Items         []vendorPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type vendorResponse struct {
	Vendor vendorPayload `json:"vendor"`
}

type vendorPayload struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
	StoreName   string `json:"store_name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	ReviewedAt  string `json:"reviewed_at,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildVendorPayload(vendor services.Vendor) vendorPayload {
	return vendorPayload{
		ID:          strings.TrimSpace(vendor.ID),
		OwnerUserID: strings.TrimSpace(vendor.OwnerUserID),
		StoreName:   strings.TrimSpace(vendor.StoreName),
		Slug:        strings.TrimSpace(vendor.Slug),
		Description: vendor.Description,
		Status:      string(vendor.Status),
		ReviewedAt:  formatTime(pointerTime(vendor.ReviewedAt)),
		CreatedAt:   formatTime(vendor.CreatedAt),
		UpdatedAt:   formatTime(vendor.UpdatedAt),
	}
}

// buildPublicVendorPayload strips review metadata and the owner link from the
// public profile.
func buildPublicVendorPayload(vendor services.Vendor) vendorPayload {
	return vendorPayload{
		ID:          strings.TrimSpace(vendor.ID),
		StoreName:   strings.TrimSpace(vendor.StoreName),
		Slug:        strings.TrimSpace(vendor.Slug),
		Description: vendor.Description,
		CreatedAt:   formatTime(vendor.CreatedAt),
	}
}

func writeVendorError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrVendorInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrVendorNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("vendor_not_found", "vendor not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVendorForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("vendor_forbidden", "not allowed to act on this vendor", http.StatusForbidden))
	case errors.Is(err, services.ErrVendorConflict):
		httpx.WriteError(ctx, w, httpx.NewError("vendor_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrVendorInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("vendor_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("vendor_error", "failed to process vendor request", http.StatusInternalServerError))
	}
}
