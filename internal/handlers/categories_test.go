package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/services"
)

func TestCategoryHandlersListCategories(t *testing.T) {
	now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	service := &stubCatalogService{
		listCategoriesFn: func(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.Category], error) {
			return domain.CursorPage[services.Category]{
				Items: []services.Category{
					{ID: "cat_1", Name: "Kitchen & Dining", Slug: "kitchen-dining", CreatedAt: now},
				},
			}, nil
		},
	}

	handler := NewCategoryHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/categories", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/categories", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp categoryListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Slug != "kitchen-dining" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
}

func TestCategoryHandlersCreateCategory(t *testing.T) {
	var captured services.CategoryCommand
	service := &stubCatalogService{
		createCategoryFn: func(ctx context.Context, cmd services.CategoryCommand) (services.Category, error) {
			captured = cmd
			return services.Category{ID: "cat_1", Name: cmd.Name, Slug: "kitchen-dining"}, nil
		},
	}

	handler := NewCategoryHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/categories", handler.Routes)

	body := `{"name":"Kitchen & Dining"}`
	req := httptest.NewRequest(http.MethodPost, "/categories", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{"admin"}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.Name != "Kitchen & Dining" {
		t.Fatalf("expected name captured, got %q", captured.Name)
	}
	if captured.Actor.UserID != "admin-1" {
		t.Fatalf("expected admin actor, got %#v", captured.Actor)
	}
}

func TestCategoryHandlersUpdateCategory(t *testing.T) {
	var captured services.CategoryCommand
	service := &stubCatalogService{
		updateCategoryFn: func(ctx context.Context, cmd services.CategoryCommand) (services.Category, error) {
			captured = cmd
			return services.Category{ID: cmd.CategoryID, Name: cmd.Name, Slug: "cookware"}, nil
		},
	}

	handler := NewCategoryHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/categories", handler.Routes)

	body := `{"name":"Cookware"}`
	req := httptest.NewRequest(http.MethodPatch, "/categories/cat_1", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{"admin"}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.CategoryID != "cat_1" || captured.Name != "Cookware" {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestCategoryHandlersDeleteCategory(t *testing.T) {
	var capturedID string
	service := &stubCatalogService{
		deleteCategoryFn: func(ctx context.Context, actor services.Actor, categoryID string) error {
			capturedID = categoryID
			return nil
		},
	}

	handler := NewCategoryHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/categories", handler.Routes)

	req := httptest.NewRequest(http.MethodDelete, "/categories/cat_1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{"admin"}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if capturedID != "cat_1" {
		t.Fatalf("expected cat_1, got %s", capturedID)
	}
}
