package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not act on this order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderStockUnavailable indicates one or more lines cannot be fulfilled.
	ErrOrderStockUnavailable = errors.New("order: stock unavailable")
	// ErrOrderNumberExhausted indicates no unique order number was found
	// within the attempt budget.
	ErrOrderNumberExhausted = errors.New("order: number space exhausted")
)

// transitionRole names the relationship an actor must hold to the order.
type transitionRole string

const (
	roleOrderOwner  transitionRole = "owner"
	roleOrderVendor transitionRole = "vendor"
)

type orderTransition struct {
	target domain.OrderStatus
	role   transitionRole
	// reasonRequired transitions reject an empty reason outright.
	reasonRequired bool
}

// orderStateTransitions is the closed transition table. Admins are
// deliberately absent: lifecycle decisions belong to the order owner and the
// vendors fulfilling it.
var orderStateTransitions = map[domain.OrderStatus][]orderTransition{
	domain.OrderStatusPending: {
		{target: domain.OrderStatusAccepted, role: roleOrderVendor},
		{target: domain.OrderStatusDeclined, role: roleOrderVendor, reasonRequired: true},
		{target: domain.OrderStatusCancelled, role: roleOrderOwner, reasonRequired: true},
	},
	domain.OrderStatusAccepted: {
		{target: domain.OrderStatusConfirmed, role: roleOrderVendor},
	},
	domain.OrderStatusConfirmed: {
		{target: domain.OrderStatusDelivered, role: roleOrderVendor},
	},
}

// stockRestoringStatuses are the terminal states that hand stock back.
var stockRestoringStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusDeclined:  true,
	domain.OrderStatusCancelled: true,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	UnitOfWork  repositories.UnitOfWork
	Numbers     OrderNumberGenerator
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	numbers    OrderNumberGenerator
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	numbers := deps.Numbers
	if numbers == nil {
		numbers = NewOrderNumberGenerator()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		unitOfWork: unit,
		numbers:    numbers,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.Actor.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return Order{}, fmt.Errorf("%w: item %d is missing a product id", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if item.Price < 0 {
			return Order{}, fmt.Errorf("%w: item %d price must not be negative", ErrOrderInvalidInput, i)
		}
	}
	if err := validateShipping(cmd.Shipping); err != nil {
		return Order{}, err
	}

	now := s.now()
	lines := make([]repositories.StockLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		lines = append(lines, repositories.StockLine{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}

	order := Order{
		ID:        orderIDPrefix + s.newID(),
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		Shipping:  trimShipping(cmd.Shipping),
		Note:      sanitizeUserText(cmd.Note),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		number, err := s.reserveOrderNumber(txCtx)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		products, err := s.products.DecrementStock(txCtx, lines)
		if err != nil {
			return s.mapStockError(err)
		}

		order.Items = buildItemSnapshots(cmd.Items, products)
		pricing := domain.PriceItems(order.Items)
		order.Subtotal = pricing.Subtotal
		order.ShippingCost = pricing.ShippingCost
		order.Total = pricing.Total

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
	})

	return order, nil
}

// reserveOrderNumber draws candidates until one is unused. The lookup runs in
// the surrounding transaction, so the insert and the uniqueness check share
// one snapshot.
func (s *orderService) reserveOrderNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		candidate, err := s.numbers.Generate()
		if err != nil {
			return "", err
		}
		taken, err := s.orders.ExistsByNumber(ctx, candidate)
		if err != nil {
			return "", s.mapRepositoryError(err)
		}
		if !taken {
			return candidate, nil
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"candidate": candidate,
			"attempt":   attempt + 1,
		})
	}
	return "", fmt.Errorf("%w: gave up after %d attempts", ErrOrderNumberExhausted, orderNumberAttempts)
}

func (s *orderService) Get(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !canReadOrder(actor, order) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(actor.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Status:     query.Status,
		DateRange:  query.DateRange,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListForVendor(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[VendorOrderView], error) {
	if !actor.IsVendor() {
		return domain.CursorPage[VendorOrderView]{}, fmt.Errorf("%w: vendor role is required", ErrOrderForbidden)
	}
	page, err := s.orders.ListByVendor(ctx, actor.VendorID, repositories.OrderListFilter{
		Status:     query.Status,
		DateRange:  query.DateRange,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[VendorOrderView]{}, s.mapRepositoryError(err)
	}

	views := make([]VendorOrderView, 0, len(page.Items))
	for _, order := range page.Items {
		views = append(views, VendorOrderView{
			Order: order,
			Items: order.ItemsForVendor(actor.VendorID),
		})
	}
	return domain.CursorPage[VendorOrderView]{Items: views, NextPageToken: page.NextPageToken}, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	reason := strings.TrimSpace(cmd.Reason)
	now := s.now()

	var (
		order      Order
		prevStatus domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		prevStatus = order.Status

		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
		}

		transition, err := resolveTransition(order.Status, target)
		if err != nil {
			return err
		}
		if err := authorizeTransition(cmd.Actor, order, transition); err != nil {
			return err
		}
		if transition.reasonRequired && reason == "" {
			return fmt.Errorf("%w: a reason is required to move to %s", ErrOrderInvalidInput, target)
		}

		applyTransition(&order, transition, reason, now)

		if stockRestoringStatuses[target] {
			if err := s.products.RestoreStock(txCtx, restockLines(order.Items)); err != nil {
				return s.mapStockError(err)
			}
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// resolveTransition looks the move up in the state table.
func resolveTransition(current, target domain.OrderStatus) (orderTransition, error) {
	candidates, ok := orderStateTransitions[current]
	if !ok {
		return orderTransition{}, fmt.Errorf("%w: %s is terminal", ErrOrderInvalidState, current)
	}
	for _, t := range candidates {
		if t.target == target {
			return t, nil
		}
	}
	return orderTransition{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
}

// authorizeTransition checks the actor's relationship to the order against
// the role the transition demands.
func authorizeTransition(actor Actor, order Order, transition orderTransition) error {
	switch transition.role {
	case roleOrderOwner:
		if strings.TrimSpace(actor.UserID) != "" && actor.UserID == order.UserID {
			return nil
		}
	case roleOrderVendor:
		if actor.IsVendor() && order.ContainsVendor(actor.VendorID) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires the order %s", ErrOrderForbidden, transition.target, transition.role)
}

func applyTransition(order *Order, transition orderTransition, reason string, now time.Time) {
	order.Status = transition.target
	order.UpdatedAt = now
	switch transition.target {
	case domain.OrderStatusAccepted:
		order.AcceptedAt = &now
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusDeclined:
		order.DeclinedAt = &now
		order.DeclineReason = optionalString(reason)
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
		order.CancelReason = optionalString(reason)
	}
}

func canReadOrder(actor Actor, order Order) bool {
	if actor.IsAdmin() {
		return true
	}
	if strings.TrimSpace(actor.UserID) != "" && actor.UserID == order.UserID {
		return true
	}
	return actor.IsVendor() && order.ContainsVendor(actor.VendorID)
}

func validateShipping(shipping ShippingDetails) error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(shipping.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(shipping.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(shipping.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(shipping.Region) == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: shipping %s required", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func trimShipping(shipping ShippingDetails) ShippingDetails {
	return ShippingDetails{
		Name:    strings.TrimSpace(shipping.Name),
		Phone:   strings.TrimSpace(shipping.Phone),
		Address: strings.TrimSpace(shipping.Address),
		Region:  strings.TrimSpace(shipping.Region),
	}
}

// buildItemSnapshots freezes product identity and the submitted price onto
// the order lines. Descriptive fields come from the catalog as read inside
// the creation transaction.
func buildItemSnapshots(requested []CreateOrderItem, products []domain.Product) []OrderItem {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	items := make([]OrderItem, 0, len(requested))
	for _, req := range requested {
		product := byID[strings.TrimSpace(req.ProductID)]
		image := ""
		if len(product.Images) > 0 {
			image = product.Images[0]
		}
		items = append(items, OrderItem{
			ProductID: product.ID,
			VendorID:  product.VendorID,
			Name:      product.Name,
			Image:     image,
			Price:     req.Price,
			Quantity:  req.Quantity,
		})
	}
	return items
}

func restockLines(items []OrderItem) []repositories.StockLine {
	lines := make([]repositories.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, repositories.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func (s *orderService) mapStockError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorUnavailable:
			return fmt.Errorf("%w: %w", ErrOrderStockUnavailable, err)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
