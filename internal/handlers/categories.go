package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/httpx"
	"github.com/vendora/api/internal/services"
)

const (
	defaultCategoryPageSize = 50
	maxCategoryPageSize     = 200
	maxCategoryBodySize     = 4 * 1024
)

type categoryRequest struct {
	Name string `json:"name"`
}

// CategoryHandlers exposes category browsing plus admin-only management.
type CategoryHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewCategoryHandlers constructs a new CategoryHandlers instance.
func NewCategoryHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CategoryHandlers {
	return &CategoryHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the /categories endpoints.
func (h *CategoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listCategories)

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth(domain.RoleAdmin))
		}
		g.Post("/", h.createCategory)
		g.Patch("/{categoryID}", h.updateCategory)
		g.Delete("/{categoryID}", h.deleteCategory)
	})
}

func (h *CategoryHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r.URL.Query(), defaultCategoryPageSize, maxCategoryPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListCategories(ctx, pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]categoryPayload, 0, len(page.Items))
	for _, category := range page.Items {
		items = append(items, buildCategoryPayload(category))
	}

	writeJSONResponse(w, http.StatusOK, categoryListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CategoryHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	req, ok := h.readCategoryRequest(w, r)
	if !ok {
		return
	}

	category, err := h.catalog.CreateCategory(ctx, services.CategoryCommand{
		Actor: actorFromIdentity(identity),
		Name:  strings.TrimSpace(req.Name),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, categoryResponse{Category: buildCategoryPayload(category)})
}

func (h *CategoryHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}

	req, ok := h.readCategoryRequest(w, r)
	if !ok {
		return
	}

	category, err := h.catalog.UpdateCategory(ctx, services.CategoryCommand{
		Actor:      actorFromIdentity(identity),
		CategoryID: categoryID,
		Name:       strings.TrimSpace(req.Name),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, categoryResponse{Category: buildCategoryPayload(category)})
}

func (h *CategoryHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteCategory(ctx, actorFromIdentity(identity), categoryID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CategoryHandlers) readCategoryRequest(w http.ResponseWriter, r *http.Request) (categoryRequest, bool) {
	ctx := r.Context()

	var req categoryRequest
	body, err := readLimitedBody(r, maxCategoryBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return req, false
	}
	return req, true
}

type categoryListResponse struct {
	Items         []categoryPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type categoryResponse struct {
	Category categoryPayload `json:"category"`
}

type categoryPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildCategoryPayload(category services.Category) categoryPayload {
	return categoryPayload{
		ID:        strings.TrimSpace(category.ID),
		Name:      strings.TrimSpace(category.Name),
		Slug:      strings.TrimSpace(category.Slug),
		CreatedAt: formatTime(category.CreatedAt),
		UpdatedAt: formatTime(category.UpdatedAt),
	}
}
