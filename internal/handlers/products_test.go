package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/services"
)

type stubCatalogService struct {
	createProductFn  func(context.Context, services.CreateProductCommand) (services.Product, error)
	updateProductFn  func(context.Context, services.UpdateProductCommand) (services.Product, error)
	deactivateFn     func(context.Context, services.Actor, string) error
	getProductFn     func(context.Context, string) (services.Product, error)
	listProductsFn   func(context.Context, services.ProductListQuery) (domain.CursorPage[services.Product], error)
	createCategoryFn func(context.Context, services.CategoryCommand) (services.Category, error)
	updateCategoryFn func(context.Context, services.CategoryCommand) (services.Category, error)
	deleteCategoryFn func(context.Context, services.Actor, string) error
	listCategoriesFn func(context.Context, services.Pagination) (domain.CursorPage[services.Category], error)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
	if s.createProductFn != nil {
		return s.createProductFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
	if s.updateProductFn != nil {
		return s.updateProductFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeactivateProduct(ctx context.Context, actor services.Actor, productID string) error {
	if s.deactivateFn != nil {
		return s.deactivateFn(ctx, actor, productID)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getProductFn != nil {
		return s.getProductFn(ctx, productID)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error) {
	if s.listProductsFn != nil {
		return s.listProductsFn(ctx, query)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) CreateCategory(ctx context.Context, cmd services.CategoryCommand) (services.Category, error) {
	if s.createCategoryFn != nil {
		return s.createCategoryFn(ctx, cmd)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateCategory(ctx context.Context, cmd services.CategoryCommand) (services.Category, error) {
	if s.updateCategoryFn != nil {
		return s.updateCategoryFn(ctx, cmd)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteCategory(ctx context.Context, actor services.Actor, categoryID string) error {
	if s.deleteCategoryFn != nil {
		return s.deleteCategoryFn(ctx, actor, categoryID)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) ListCategories(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.Category], error) {
	if s.listCategoriesFn != nil {
		return s.listCategoriesFn(ctx, pager)
	}
	return domain.CursorPage[services.Category]{}, nil
}

var _ services.CatalogService = (*stubCatalogService)(nil)

func TestProductHandlersListProductsSuccess(t *testing.T) {
	now := time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)

	var captured services.ProductListQuery
	service := &stubCatalogService{
		listProductsFn: func(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error) {
			captured = query
			return domain.CursorPage[services.Product]{
				Items: []services.Product{
					{
						ID:          "prod_1",
						VendorID:    "ven_1",
						SKU:         "SKU-000042",
						Name:        "Cast Iron Pan",
						Slug:        "cast-iron-pan-tproduct",
						Price:       30,
						Stock:       12,
						Active:      true,
						Rating:      4.5,
						ReviewCount: 9,
						CreatedAt:   now,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?category_id=cat_1&sort=rating&q=pan&featured=true&page_size=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.CategoryID != "cat_1" || captured.Search != "pan" {
		t.Fatalf("unexpected query: %#v", captured)
	}
	if captured.Sort != domain.ProductSortRating {
		t.Fatalf("expected rating sort, got %s", captured.Sort)
	}
	if !captured.FeaturedOnly {
		t.Fatalf("expected featured filter in query: %#v", captured)
	}
	if captured.IncludeInactive {
		t.Fatalf("anonymous listing must not include inactive products")
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].SKU != "SKU-000042" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
	if resp.Items[0].Rating != 4.5 || resp.Items[0].ReviewCount != 9 {
		t.Fatalf("unexpected rating aggregate: %#v", resp.Items[0])
	}
}

func TestProductHandlersListProductsInvalidSort(t *testing.T) {
	handler := NewProductHandlers(nil, &stubCatalogService{})
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?sort=alphabetical", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersListProductsIncludeInactiveRequiresAuth(t *testing.T) {
	handler := NewProductHandlers(nil, &stubCatalogService{})
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?include_inactive=true", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestProductHandlersCreateProductSuccess(t *testing.T) {
	var captured services.CreateProductCommand
	service := &stubCatalogService{
		createProductFn: func(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{
				ID:       "prod_1",
				VendorID: cmd.Actor.VendorID,
				SKU:      "SKU-000042",
				Name:     cmd.Name,
				Price:    cmd.Price,
				Stock:    cmd.Stock,
				Active:   true,
			}, nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	body := `{"name":"Cast Iron Pan","description":"Heavy duty","category_id":"cat_1","price":30,"stock":12,"images":["https://img/1.png"]}`
	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "vendor-owner", Roles: []string{"vendor"}, VendorID: "ven_1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.Actor.VendorID != "ven_1" || captured.Name != "Cast Iron Pan" || captured.Stock != 12 {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Product.SKU != "SKU-000042" || !resp.Product.Active {
		t.Fatalf("unexpected product: %#v", resp.Product)
	}
}

func TestProductHandlersCreateProductForbidden(t *testing.T) {
	service := &stubCatalogService{
		createProductFn: func(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: vendor role required", services.ErrCatalogForbidden)
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	body := `{"name":"Cast Iron Pan","price":30,"stock":12}`
	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Roles: []string{"user"}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestProductHandlersUpdateProductPartialPatch(t *testing.T) {
	var captured services.UpdateProductCommand
	service := &stubCatalogService{
		updateProductFn: func(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{ID: cmd.ProductID, Name: "Cast Iron Pan", Price: 35, Active: true}, nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	body := `{"price":35}`
	req := httptest.NewRequest(http.MethodPatch, "/products/prod_1", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "vendor-owner", Roles: []string{"vendor"}, VendorID: "ven_1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "prod_1" {
		t.Fatalf("expected product prod_1, got %s", captured.ProductID)
	}
	if captured.Price == nil || *captured.Price != 35 {
		t.Fatalf("expected price pointer 35, got %#v", captured.Price)
	}
	if captured.Name != nil || captured.Stock != nil || captured.Active != nil {
		t.Fatalf("expected untouched fields to stay nil: %#v", captured)
	}
}

func TestProductHandlersDeactivateProduct(t *testing.T) {
	var capturedID string
	service := &stubCatalogService{
		deactivateFn: func(ctx context.Context, actor services.Actor, productID string) error {
			capturedID = productID
			return nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodDelete, "/products/prod_1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "vendor-owner", Roles: []string{"vendor"}, VendorID: "ven_1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if capturedID != "prod_1" {
		t.Fatalf("expected prod_1, got %s", capturedID)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getProductFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: product %s", services.ErrCatalogNotFound, productID)
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
