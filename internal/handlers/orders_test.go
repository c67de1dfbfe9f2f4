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
	"github.com/vendora/api/internal/repositories"
	"github.com/vendora/api/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, services.Actor, string) (services.Order, error)
	listUserFn   func(context.Context, services.Actor, services.OrderListQuery) (domain.CursorPage[services.Order], error)
	listVendorFn func(context.Context, services.Actor, services.OrderListQuery) (domain.CursorPage[services.VendorOrderView], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListForUser(ctx context.Context, actor services.Actor, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	if s.listUserFn != nil {
		return s.listUserFn(ctx, actor, query)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListForVendor(ctx context.Context, actor services.Actor, query services.OrderListQuery) (domain.CursorPage[services.VendorOrderView], error) {
	if s.listVendorFn != nil {
		return s.listVendorFn(ctx, actor, query)
	}
	return domain.CursorPage[services.VendorOrderView]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)

	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{
				ID:          "ord_01TEST",
				OrderNumber: "ORD-K7M2P9",
				UserID:      cmd.Actor.UserID,
				Status:      domain.OrderStatusPending,
				Items: []domain.OrderItem{
					{ProductID: "prod_1", VendorID: "ven_1", Name: "Cast Iron Pan", Price: 30, Quantity: 2},
				},
				Shipping:     cmd.Shipping,
				Note:         cmd.Note,
				Subtotal:     60,
				ShippingCost: 0,
				Total:        60,
				CreatedAt:    now,
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"items":[{"product_id":"prod_1","quantity":2,"price":30}],"shipping":{"name":"Dana","phone":"+123","address":"1 Main St","region":"North"},"note":"  ring twice  "}`
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.Actor.UserID != "user-1" {
		t.Fatalf("expected actor user-1, got %s", captured.Actor.UserID)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "prod_1" || captured.Items[0].Price != 30 {
		t.Fatalf("unexpected items: %#v", captured.Items)
	}
	if captured.Shipping.Region != "North" {
		t.Fatalf("expected shipping region North, got %s", captured.Shipping.Region)
	}
	if captured.Note != "ring twice" {
		t.Fatalf("expected trimmed note, got %q", captured.Note)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.OrderNumber != "ORD-K7M2P9" {
		t.Fatalf("expected order number ORD-K7M2P9, got %s", resp.Order.OrderNumber)
	}
	if resp.Order.Total != 60 || resp.Order.ShippingCost != 0 {
		t.Fatalf("unexpected totals: %#v", resp.Order)
	}
	if resp.Order.Note != "ring twice" {
		t.Fatalf("expected note in response, got %q", resp.Order.Note)
	}
}

func TestOrderHandlersCreateOrderStockConflict(t *testing.T) {
	stockErr := repositories.NewStockError(repositories.StockErrorUnavailable, "stock unavailable", []repositories.StockLineError{
		{ProductID: "prod_1", Reason: repositories.StockLineInsufficient, Requested: 5, Available: 2},
		{ProductID: "prod_2", Reason: repositories.StockLineUnknownProduct},
	}, nil)

	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: %w", services.ErrOrderStockUnavailable, stockErr)
		},
	}

	handler := NewOrderHandlers(nil, service, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"items":[{"product_id":"prod_1","quantity":5,"price":10}],"shipping":{"name":"Dana","phone":"+123","address":"1 Main St","region":"North"},"note":"  ring twice  "}`
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var resp struct {
		Error string `json:"error"`
		Lines []struct {
			ProductID string `json:"product_id"`
			Reason    string `json:"reason"`
			Requested int    `json:"requested"`
			Available int    `json:"available"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error != "stock_unavailable" {
		t.Fatalf("expected stock_unavailable error code, got %s", resp.Error)
	}
	if len(resp.Lines) != 2 {
		t.Fatalf("expected both failing lines reported, got %d", len(resp.Lines))
	}
	if resp.Lines[0].ProductID != "prod_1" || resp.Lines[0].Requested != 5 || resp.Lines[0].Available != 2 {
		t.Fatalf("unexpected first line: %#v", resp.Lines[0])
	}
	if resp.Lines[1].Reason != repositories.StockLineUnknownProduct {
		t.Fatalf("unexpected second line: %#v", resp.Lines[1])
	}
}

func TestOrderHandlersCreateOrderEmptyBody(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{}, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersSuccess(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	fromExpected := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	var capturedActor services.Actor
	var capturedQuery services.OrderListQuery
	service := &stubOrderService{
		listUserFn: func(ctx context.Context, actor services.Actor, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			capturedActor = actor
			capturedQuery = query
			return domain.CursorPage[services.Order]{
				Items: []services.Order{
					{
						ID:          "ord_123",
						OrderNumber: "ORD-A2B3C4",
						UserID:      "user-1",
						Status:      domain.OrderStatusAccepted,
						Items:       []domain.OrderItem{{ProductID: "prod_1", Quantity: 1, Price: 12}},
						Total:       17,
						CreatedAt:   now,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=pending,accepted&page_size=10&page_token=tok123&created_after=2025-02-01T00:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedActor.UserID != "user-1" {
		t.Fatalf("expected actor user-1, got %s", capturedActor.UserID)
	}
	if capturedQuery.Pagination.PageSize != 10 || capturedQuery.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %#v", capturedQuery.Pagination)
	}
	if len(capturedQuery.Status) != 2 || capturedQuery.Status[0] != "PENDING" || capturedQuery.Status[1] != "ACCEPTED" {
		t.Fatalf("expected uppercased status filters, got %#v", capturedQuery.Status)
	}
	if capturedQuery.DateRange.From == nil || !capturedQuery.DateRange.From.Equal(fromExpected) {
		t.Fatalf("unexpected date range: %#v", capturedQuery.DateRange.From)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "ORD-A2B3C4" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
	if resp.Items[0].ItemCount != 1 || resp.Items[0].Total != 17 {
		t.Fatalf("unexpected summary: %#v", resp.Items[0])
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersInvalidPageSize(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{}, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?page_size=abc", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersUnauthenticated(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	handler.listOrders(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderForbidden(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: only the owner may view this order", services.ErrOrderForbidden)
		},
	}

	handler := NewOrderHandlers(nil, service, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "stranger"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionOrderSuccess(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			reason := cmd.Reason
			return services.Order{
				ID:            cmd.OrderID,
				Status:        cmd.TargetStatus,
				DeclineReason: &reason,
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"status":"declined","reason":"out of materials","expected_status":"PENDING"}`
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_123", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "vendor-owner", Roles: []string{"vendor"}, VendorID: "ven_1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" {
		t.Fatalf("expected order id ord_123, got %s", captured.OrderID)
	}
	if captured.TargetStatus != domain.OrderStatusDeclined {
		t.Fatalf("expected target DECLINED, got %s", captured.TargetStatus)
	}
	if captured.Reason != "out of materials" {
		t.Fatalf("expected reason captured, got %q", captured.Reason)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusPending {
		t.Fatalf("expected expected_status PENDING, got %#v", captured.ExpectedStatus)
	}
	if captured.Actor.VendorID != "ven_1" {
		t.Fatalf("expected actor vendor ven_1, got %s", captured.Actor.VendorID)
	}
}

func TestOrderHandlersTransitionOrderInvalidStatus(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{}, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"status":"SHIPPED"}`
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_123", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionOrderInvalidState(t *testing.T) {
	service := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: cannot move from DELIVERED to CANCELLED", services.ErrOrderInvalidState)
		},
	}

	handler := NewOrderHandlers(nil, service, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"status":"CANCELLED","reason":"too late"}`
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_123", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
