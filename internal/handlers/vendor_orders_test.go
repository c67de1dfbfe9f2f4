package handlers

import (
	"context"
	"encoding/json"
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

func TestVendorOrderHandlersListFiltersItems(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)

	var capturedActor services.Actor
	service := &stubOrderService{
		listVendorFn: func(ctx context.Context, actor services.Actor, query services.OrderListQuery) (domain.CursorPage[services.VendorOrderView], error) {
			capturedActor = actor
			order := services.Order{
				ID:          "ord_123",
				OrderNumber: "ORD-A2B3C4",
				Status:      domain.OrderStatusPending,
				Items: []domain.OrderItem{
					{ProductID: "prod_mine", VendorID: "ven_1", Price: 10, Quantity: 1},
					{ProductID: "prod_other", VendorID: "ven_2", Price: 8, Quantity: 1},
				},
				Subtotal:     18,
				ShippingCost: 5,
				Total:        23,
				CreatedAt:    now,
			}
			return domain.CursorPage[services.VendorOrderView]{
				Items: []services.VendorOrderView{
					{Order: order, Items: order.ItemsForVendor("ven_1")},
				},
			}, nil
		},
	}

	handler := NewVendorOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/vendor/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/vendor/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "vendor-owner", Roles: []string{"vendor"}, VendorID: "ven_1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedActor.VendorID != "ven_1" {
		t.Fatalf("expected actor vendor ven_1, got %s", capturedActor.VendorID)
	}

	var resp vendorOrderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Items))
	}
	view := resp.Items[0]
	if len(view.Items) != 1 || view.Items[0].ProductID != "prod_mine" {
		t.Fatalf("expected only the vendor's own lines, got %#v", view.Items)
	}
	// Totals reflect the whole order even though lines are filtered.
	if view.Subtotal != 18 || view.Total != 23 {
		t.Fatalf("expected full order totals, got %#v", view)
	}
}

func TestVendorOrderHandlersListRequiresVendor(t *testing.T) {
	service := &stubOrderService{
		listVendorFn: func(ctx context.Context, actor services.Actor, query services.OrderListQuery) (domain.CursorPage[services.VendorOrderView], error) {
			return domain.CursorPage[services.VendorOrderView]{}, fmt.Errorf("%w: vendor role required", services.ErrOrderForbidden)
		},
	}

	handler := NewVendorOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/vendor/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/vendor/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Roles: []string{"user"}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestVendorOrderHandlersListUnauthenticated(t *testing.T) {
	handler := NewVendorOrderHandlers(nil, &stubOrderService{})
	req := httptest.NewRequest(http.MethodGet, "/vendor/orders", nil)
	rr := httptest.NewRecorder()
	handler.listVendorOrders(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
