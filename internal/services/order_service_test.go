package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/repositories"
)

type stubOrderRepository struct {
	insertFunc       func(ctx context.Context, order domain.Order) error
	updateFunc       func(ctx context.Context, order domain.Order) error
	findFunc         func(ctx context.Context, orderID string) (domain.Order, error)
	existsFunc       func(ctx context.Context, orderNumber string) (bool, error)
	listFunc         func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listByVendorFunc func(ctx context.Context, vendorID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.updateFunc == nil {
		return nil
	}
	return s.updateFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc == nil {
		return domain.Order{}, errors.New("unexpected FindByID")
	}
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) ExistsByNumber(ctx context.Context, orderNumber string) (bool, error) {
	if s.existsFunc == nil {
		return false, nil
	}
	return s.existsFunc(ctx, orderNumber)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderRepository) ListByVendor(ctx context.Context, vendorID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listByVendorFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listByVendorFunc(ctx, vendorID, filter)
}

type stubProductRepository struct {
	insertFunc       func(ctx context.Context, product domain.Product) error
	updateFunc       func(ctx context.Context, product domain.Product) error
	findFunc         func(ctx context.Context, productID string) (domain.Product, error)
	listFunc         func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	decrementFunc    func(ctx context.Context, lines []repositories.StockLine) ([]domain.Product, error)
	restoreFunc      func(ctx context.Context, lines []repositories.StockLine) error
	updateRatingFunc func(ctx context.Context, productID string, rating float64, reviewCount int, now time.Time) error
}

func (s *stubProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, product)
}

func (s *stubProductRepository) Update(ctx context.Context, product domain.Product) error {
	if s.updateFunc == nil {
		return nil
	}
	return s.updateFunc(ctx, product)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFunc == nil {
		return domain.Product{}, errors.New("unexpected FindByID")
	}
	return s.findFunc(ctx, productID)
}

func (s *stubProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Product]{}, nil
	}
	return s.listFunc(ctx, filter)
}

func (s *stubProductRepository) DecrementStock(ctx context.Context, lines []repositories.StockLine) ([]domain.Product, error) {
	if s.decrementFunc == nil {
		return nil, errors.New("unexpected DecrementStock")
	}
	return s.decrementFunc(ctx, lines)
}

func (s *stubProductRepository) RestoreStock(ctx context.Context, lines []repositories.StockLine) error {
	if s.restoreFunc == nil {
		return errors.New("unexpected RestoreStock")
	}
	return s.restoreFunc(ctx, lines)
}

func (s *stubProductRepository) UpdateRating(ctx context.Context, productID string, rating float64, reviewCount int, now time.Time) error {
	if s.updateRatingFunc == nil {
		return nil
	}
	return s.updateRatingFunc(ctx, productID, rating, reviewCount, now)
}

func fixedNumberGenerator(t *testing.T) OrderNumberGenerator {
	t.Helper()
	// Zero bytes map to the first alphabet symbol on every draw.
	return NewOrderNumberGeneratorFromReader(bytes.NewReader(make([]byte, 64)))
}

func newTestOrderService(t *testing.T, orders *stubOrderRepository, products *stubProductRepository, now time.Time) OrderService {
	t.Helper()
	service, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		Products:    products,
		Numbers:     fixedNumberGenerator(t),
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TESTORDER" },
	})
	if err != nil {
		t.Fatalf("create order service: %v", err)
	}
	return service
}

func TestOrderServiceCreateSuccess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	catalog := map[string]domain.Product{
		"prod-1": {ID: "prod-1", VendorID: "ven-1", Name: "Walnut Board", Images: []string{"img/board.png"}, Stock: 5, Active: true},
		"prod-2": {ID: "prod-2", VendorID: "ven-2", Name: "Olive Oil", Stock: 9, Active: true},
	}

	var inserted domain.Order
	orders := &stubOrderRepository{
		insertFunc: func(_ context.Context, order domain.Order) error {
			inserted = order
			return nil
		},
	}
	var decremented []repositories.StockLine
	products := &stubProductRepository{
		decrementFunc: func(_ context.Context, lines []repositories.StockLine) ([]domain.Product, error) {
			decremented = lines
			out := make([]domain.Product, 0, len(lines))
			for _, line := range lines {
				out = append(out, catalog[line.ProductID])
			}
			return out, nil
		},
	}

	service := newTestOrderService(t, orders, products, now)
	order, err := service.Create(ctx, CreateOrderCommand{
		Actor: Actor{UserID: "user-1"},
		Items: []CreateOrderItem{
			{ProductID: "prod-1", Quantity: 2, Price: 20},
			{ProductID: "prod-2", Quantity: 1, Price: 15},
		},
		Shipping: ShippingDetails{Name: "Dana", Phone: "555-0100", Address: "1 Main St", Region: "North"},
		Note:     "  Leave the parcel <b>by the gate</b>.  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Note != "Leave the parcel by the gate." {
		t.Fatalf("unexpected note %q", order.Note)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected PENDING, got %s", order.Status)
	}
	if order.OrderNumber != "ORD-AAAAAA" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.Subtotal != 55 || order.ShippingCost != 0 || order.Total != 55 {
		t.Fatalf("unexpected pricing %v/%v/%v", order.Subtotal, order.ShippingCost, order.Total)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	first := order.Items[0]
	if first.VendorID != "ven-1" || first.Name != "Walnut Board" || first.Image != "img/board.png" {
		t.Fatalf("snapshot not taken from catalog: %#v", first)
	}
	if first.Price != 20 {
		t.Fatalf("expected submitted price 20, got %v", first.Price)
	}
	if len(decremented) != 2 || decremented[0].Quantity != 2 {
		t.Fatalf("unexpected stock lines %#v", decremented)
	}
	if inserted.ID != order.ID {
		t.Fatalf("order was not persisted")
	}
}

func TestOrderServiceCreateBelowFreeShippingThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{}
	products := &stubProductRepository{
		decrementFunc: func(_ context.Context, lines []repositories.StockLine) ([]domain.Product, error) {
			return []domain.Product{{ID: "prod-1", VendorID: "ven-1", Name: "Soap", Active: true}}, nil
		},
	}

	service := newTestOrderService(t, orders, products, now)
	order, err := service.Create(context.Background(), CreateOrderCommand{
		Actor:    Actor{UserID: "user-1"},
		Items:    []CreateOrderItem{{ProductID: "prod-1", Quantity: 1, Price: 49.99}},
		Shipping: ShippingDetails{Name: "Dana", Phone: "555-0100", Address: "1 Main St", Region: "North"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ShippingCost != 5 {
		t.Fatalf("expected flat shipping 5, got %v", order.ShippingCost)
	}
	if order.Total != 54.99 {
		t.Fatalf("expected total 54.99, got %v", order.Total)
	}
}

func TestOrderServiceCreateReportsEveryFailingLine(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inserted := false
	orders := &stubOrderRepository{
		insertFunc: func(context.Context, domain.Order) error {
			inserted = true
			return nil
		},
	}
	products := &stubProductRepository{
		decrementFunc: func(context.Context, []repositories.StockLine) ([]domain.Product, error) {
			return nil, repositories.NewStockError(repositories.StockErrorUnavailable, "2 lines cannot be fulfilled", []repositories.StockLineError{
				{ProductID: "prod-1", Name: "Soap", Reason: repositories.StockLineInsufficient, Requested: 4, Available: 1},
				{ProductID: "prod-2", Reason: repositories.StockLineUnknownProduct},
			}, nil)
		},
	}

	service := newTestOrderService(t, orders, products, now)
	_, err := service.Create(context.Background(), CreateOrderCommand{
		Actor: Actor{UserID: "user-1"},
		Items: []CreateOrderItem{
			{ProductID: "prod-1", Quantity: 4, Price: 3},
			{ProductID: "prod-2", Quantity: 1, Price: 7},
		},
		Shipping: ShippingDetails{Name: "Dana", Phone: "555-0100", Address: "1 Main St", Region: "North"},
	})
	if !errors.Is(err, ErrOrderStockUnavailable) {
		t.Fatalf("expected ErrOrderStockUnavailable, got %v", err)
	}
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || len(stockErr.Lines) != 2 {
		t.Fatalf("expected both failing lines reported, got %v", err)
	}
	if inserted {
		t.Fatalf("order must not be persisted when stock fails")
	}
}

func TestOrderServiceCreateNumberExhausted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	attempts := 0
	orders := &stubOrderRepository{
		existsFunc: func(context.Context, string) (bool, error) {
			attempts++
			return true, nil
		},
	}
	products := &stubProductRepository{
		decrementFunc: func(context.Context, []repositories.StockLine) ([]domain.Product, error) {
			t.Fatalf("stock must not be touched when no number is available")
			return nil, nil
		},
	}

	service := newTestOrderService(t, orders, products, now)
	_, err := service.Create(context.Background(), CreateOrderCommand{
		Actor:    Actor{UserID: "user-1"},
		Items:    []CreateOrderItem{{ProductID: "prod-1", Quantity: 1, Price: 10}},
		Shipping: ShippingDetails{Name: "Dana", Phone: "555-0100", Address: "1 Main St", Region: "North"},
	})
	if !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected ErrOrderNumberExhausted, got %v", err)
	}
	if attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", attempts)
	}
}

func TestOrderServiceCreateValidatesShipping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service := newTestOrderService(t, &stubOrderRepository{}, &stubProductRepository{}, now)

	_, err := service.Create(context.Background(), CreateOrderCommand{
		Actor:    Actor{UserID: "user-1"},
		Items:    []CreateOrderItem{{ProductID: "prod-1", Quantity: 1, Price: 10}},
		Shipping: ShippingDetails{Name: "Dana"},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	for _, field := range []string{"phone", "address", "region"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected %s in error, got %v", field, err)
		}
	}
}

func pendingOrder(now time.Time) domain.Order {
	return domain.Order{
		ID:          "ord-1",
		OrderNumber: "ORD-QZMKWX",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", VendorID: "ven-1", Name: "Soap", Price: 3, Quantity: 2},
		},
		Subtotal:     6,
		ShippingCost: 5,
		Total:        11,
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now.Add(-time.Hour),
	}
}

func TestOrderServiceTransitionVendorAccepts(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stored := pendingOrder(now)
	var updated domain.Order
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFunc: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, now)
	order, err := service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        Actor{UserID: "vendor-user", Roles: []string{domain.RoleVendor}, VendorID: "ven-1"},
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusAccepted,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", order.Status)
	}
	if order.AcceptedAt == nil || !order.AcceptedAt.Equal(now) {
		t.Fatalf("expected acceptedAt %v, got %v", now, order.AcceptedAt)
	}
	if updated.Status != domain.OrderStatusAccepted {
		t.Fatalf("updated order not persisted")
	}
}

func TestOrderServiceTransitionDeclineRestoresStockAndNeedsReason(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stored := pendingOrder(now)
	restored := []repositories.StockLine(nil)
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	products := &stubProductRepository{
		restoreFunc: func(_ context.Context, lines []repositories.StockLine) error {
			restored = lines
			return nil
		},
	}
	vendor := Actor{UserID: "vendor-user", Roles: []string{domain.RoleVendor}, VendorID: "ven-1"}
	service := newTestOrderService(t, orders, products, now)

	_, err := service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        vendor,
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusDeclined,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected reason to be required, got %v", err)
	}

	order, err := service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        vendor,
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusDeclined,
		Reason:       "out of delivery range",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.DeclineReason == nil || *order.DeclineReason != "out of delivery range" {
		t.Fatalf("expected decline reason, got %v", order.DeclineReason)
	}
	if len(restored) != 1 || restored[0].ProductID != "prod-1" || restored[0].Quantity != 2 {
		t.Fatalf("expected stock restored, got %#v", restored)
	}
}

func TestOrderServiceTransitionOwnerCancels(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stored := pendingOrder(now)
	restockCalled := false
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	products := &stubProductRepository{
		restoreFunc: func(context.Context, []repositories.StockLine) error {
			restockCalled = true
			return nil
		},
	}
	service := newTestOrderService(t, orders, products, now)

	order, err := service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        Actor{UserID: "user-1"},
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusCancelled,
		Reason:       "ordered by mistake",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.CancelReason == nil {
		t.Fatalf("expected cancelled order with reason, got %#v", order)
	}
	if !restockCalled {
		t.Fatalf("expected stock to be restored on cancel")
	}

	// Someone else's order cannot be cancelled.
	_, err = service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        Actor{UserID: "user-2"},
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusCancelled,
		Reason:       "nope",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestOrderServiceTransitionRejectsInvalidMoves(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	vendor := Actor{UserID: "vendor-user", Roles: []string{domain.RoleVendor}, VendorID: "ven-1"}

	stored := pendingOrder(now)
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	service := newTestOrderService(t, orders, &stubProductRepository{}, now)

	_, err := service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        vendor,
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusDelivered,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for PENDING->DELIVERED, got %v", err)
	}

	stored.Status = domain.OrderStatusDelivered
	_, err = service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        vendor,
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusAccepted,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected terminal state error, got %v", err)
	}
}

func TestOrderServiceTransitionAdminHasNoLifecycleRole(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stored := pendingOrder(now)
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	service := newTestOrderService(t, orders, &stubProductRepository{}, now)

	_, err := service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Actor:        Actor{UserID: "admin-1", Roles: []string{domain.RoleAdmin}},
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusAccepted,
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for admin, got %v", err)
	}
}

func TestOrderServiceGetEnforcesOwnership(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stored := pendingOrder(now)
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	service := newTestOrderService(t, orders, &stubProductRepository{}, now)
	ctx := context.Background()

	if _, err := service.Get(ctx, Actor{UserID: "user-1"}, "ord-1"); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if _, err := service.Get(ctx, Actor{UserID: "v", Roles: []string{domain.RoleVendor}, VendorID: "ven-1"}, "ord-1"); err != nil {
		t.Fatalf("vendor read failed: %v", err)
	}
	if _, err := service.Get(ctx, Actor{UserID: "admin-1", Roles: []string{domain.RoleAdmin}}, "ord-1"); err != nil {
		t.Fatalf("admin read failed: %v", err)
	}
	if _, err := service.Get(ctx, Actor{UserID: "stranger"}, "ord-1"); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestOrderServiceListForVendorFiltersItems(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mixed := pendingOrder(now)
	mixed.Items = append(mixed.Items, domain.OrderItem{ProductID: "prod-9", VendorID: "ven-2", Name: "Candle", Price: 12, Quantity: 1})
	mixed.Subtotal = 18
	mixed.Total = 23

	orders := &stubOrderRepository{
		listByVendorFunc: func(_ context.Context, vendorID string, _ repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			if vendorID != "ven-1" {
				t.Fatalf("expected vendor ven-1, got %s", vendorID)
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{mixed}}, nil
		},
	}
	service := newTestOrderService(t, orders, &stubProductRepository{}, now)

	page, err := service.ListForVendor(context.Background(), Actor{UserID: "v", Roles: []string{domain.RoleVendor}, VendorID: "ven-1"}, OrderListQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(page.Items))
	}
	view := page.Items[0]
	if len(view.Items) != 1 || view.Items[0].VendorID != "ven-1" {
		t.Fatalf("expected only ven-1 items, got %#v", view.Items)
	}
	if view.Order.Total != 23 {
		t.Fatalf("order totals must stay untouched, got %v", view.Order.Total)
	}

	if _, err := service.ListForVendor(context.Background(), Actor{UserID: "user-1"}, OrderListQuery{}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for non-vendor, got %v", err)
	}
}

func TestOrderNumberGeneratorFormat(t *testing.T) {
	gen := NewOrderNumberGenerator()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		number, err := gen.Generate()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(number, "ORD-") || len(number) != 10 {
			t.Fatalf("unexpected format %q", number)
		}
		for _, r := range number[4:] {
			if !strings.ContainsRune(orderNumberAlphabet, r) {
				t.Fatalf("symbol %q outside alphabet in %q", r, number)
			}
		}
		seen[number] = true
	}
	if len(seen) < 2 {
		t.Fatalf("generator produced no variety")
	}
}
