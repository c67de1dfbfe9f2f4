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
	defaultProductPageSize = 20
	maxProductPageSize     = 100
	maxProductBodySize     = 64 * 1024
)

var productSorts = map[domain.ProductSort]struct{}{
	domain.ProductSortNewest:    {},
	domain.ProductSortPriceAsc:  {},
	domain.ProductSortPriceDesc: {},
	domain.ProductSortRating:    {},
}

type createProductRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	CategoryID  string   `json:"category_id"`
	Price       float64  `json:"price"`
	Stock       int      `json:"stock"`
	Images      []string `json:"images"`
	Featured    bool     `json:"is_featured"`
}

type updateProductRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	CategoryID  *string  `json:"category_id"`
	Price       *float64 `json:"price"`
	Stock       *int     `json:"stock"`
	Images      []string `json:"images"`
	Active      *bool    `json:"active"`
	Featured    *bool    `json:"is_featured"`
}

// ProductHandlers exposes catalog endpoints: public browsing plus
// vendor-scoped management.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the /products endpoints. Reads are public; writes require
// an authenticated vendor.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.OptionalFirebaseAuth())
		}
		g.Get("/", h.listProducts)
		g.Get("/{productID}", h.getProduct)
	})

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/", h.createProduct)
		g.Patch("/{productID}", h.updateProduct)
		g.Delete("/{productID}", h.deactivateProduct)
	})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pager, err := parsePagination(query, defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	listQuery := services.ProductListQuery{
		VendorID:   strings.TrimSpace(query.Get("vendor_id")),
		CategoryID: strings.TrimSpace(query.Get("category_id")),
		Search:     strings.TrimSpace(query.Get("q")),
		Pagination: pager,
	}

	if raw := strings.TrimSpace(query.Get("featured")); raw == "true" || raw == "1" {
		listQuery.FeaturedOnly = true
	}

	if raw := strings.TrimSpace(query.Get("sort")); raw != "" {
		sort := domain.ProductSort(strings.ToLower(raw))
		if _, ok := productSorts[sort]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sort must be one of newest, price_asc, price_desc, rating", http.StatusBadRequest))
			return
		}
		listQuery.Sort = sort
	}

	// Inactive products are only visible to admins and the owning vendor.
	if raw := strings.TrimSpace(query.Get("include_inactive")); raw == "true" || raw == "1" {
		identity, ok := auth.IdentityFromContext(ctx)
		if !ok || identity == nil {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required to view inactive products", http.StatusUnauthorized))
			return
		}
		listQuery.IncludeInactive = true
		listQuery.Actor = actorFromIdentity(identity)
	}

	page, err := h.catalog.ListProducts(ctx, listQuery)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}

	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxProductBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Actor:       actorFromIdentity(identity),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Price:       req.Price,
		Stock:       req.Stock,
		Images:      req.Images,
		Featured:    req.Featured,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
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

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxProductBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		Actor:       actorFromIdentity(identity),
		ProductID:   productID,
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Price:       req.Price,
		Stock:       req.Stock,
		Images:      req.Images,
		Active:      req.Active,
		Featured:    req.Featured,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
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

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeactivateProduct(ctx, actorFromIdentity(identity), productID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID          string   `json:"id"`
	VendorID    string   `json:"vendor_id"`
	CategoryID  string   `json:"category_id,omitempty"`
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Stock       int      `json:"stock"`
	Images      []string `json:"images"`
	Active      bool     `json:"active"`
	Featured    bool     `json:"is_featured"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	images := product.Images
	if images == nil {
		images = []string{}
	}
	return productPayload{
		ID:          strings.TrimSpace(product.ID),
		VendorID:    strings.TrimSpace(product.VendorID),
		CategoryID:  strings.TrimSpace(product.CategoryID),
		SKU:         strings.TrimSpace(product.SKU),
		Name:        strings.TrimSpace(product.Name),
		Slug:        strings.TrimSpace(product.Slug),
		Description: product.Description,
		Price:       product.Price,
		Stock:       product.Stock,
		Images:      images,
		Active:      product.Active,
		Featured:    product.Featured,
		Rating:      product.Rating,
		ReviewCount: product.ReviewCount,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_forbidden", "not allowed to manage this resource", http.StatusForbidden))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
